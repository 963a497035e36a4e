package library

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

const (
	// MaxBorrow bounds the number of items one account may have on loan.
	MaxBorrow = 5

	cardValidityYears = 1
)

// PatronAccount is the library card of one identity: its outstanding loans,
// its reservations and its validity window.
type PatronAccount struct {
	number      uuid.UUID
	holder      string
	details     CardHolder
	issueDate   time.Time
	renewalDate time.Time

	borrowed []string // borrow order
	reserved []string

	// implicit is set on a card created by a first reservation when the
	// policy does not require one. Its holder details are still blank.
	implicit bool
}

// NewPatronAccount issues a card valid for one year from now.
func NewPatronAccount(holder string, details CardHolder, now time.Time) *PatronAccount {
	return &PatronAccount{
		number:      uuid.New(),
		holder:      holder,
		details:     details,
		issueDate:   now,
		renewalDate: now.AddDate(cardValidityYears, 0, 0),
	}
}

func newImplicitAccount(holder string, now time.Time) *PatronAccount {
	a := NewPatronAccount(holder, CardHolder{}, now)
	a.implicit = true
	return a
}

func (a *PatronAccount) Number() uuid.UUID      { return a.number }
func (a *PatronAccount) Holder() string         { return a.holder }
func (a *PatronAccount) Details() CardHolder    { return a.details }
func (a *PatronAccount) IssueDate() time.Time   { return a.issueDate }
func (a *PatronAccount) RenewalDate() time.Time { return a.renewalDate }

// Implicit reports whether the card still lacks holder details.
func (a *PatronAccount) Implicit() bool { return a.implicit }

// SetDetails replaces the name and address on the card.
func (a *PatronAccount) SetDetails(d CardHolder) {
	a.details = d
	a.implicit = false
}

// InUse reports whether anything is on loan or reserved.
func (a *PatronAccount) InUse() bool { return len(a.borrowed) > 0 || len(a.reserved) > 0 }

// Borrowed returns the borrowed item keys in borrow order.
func (a *PatronAccount) Borrowed() []string { return slices.Clone(a.borrowed) }

// Reserved returns the reserved item keys.
func (a *PatronAccount) Reserved() []string { return slices.Clone(a.reserved) }

func (a *PatronAccount) HasBorrowed(key string) bool { return slices.Contains(a.borrowed, key) }
func (a *PatronAccount) HasReserved(key string) bool { return slices.Contains(a.reserved, key) }

// CheckAddBorrowed validates AddBorrowed(key) without applying it.
func (a *PatronAccount) CheckAddBorrowed(key string) error {
	if len(a.borrowed) >= MaxBorrow {
		return fail(ReasonBorrowLimitReached, "%s already has %d items on loan", a.holder, len(a.borrowed))
	}
	if a.HasBorrowed(key) {
		return fail(ReasonAlreadyBorrowed, "%s already has item %s on loan", a.holder, key)
	}
	return nil
}

// AddBorrowed records a loan.
func (a *PatronAccount) AddBorrowed(key string) error {
	if err := a.CheckAddBorrowed(key); err != nil {
		return err
	}
	a.borrowed = append(a.borrowed, key)
	return nil
}

// RemoveBorrowed drops a loan and reports whether it was present.
func (a *PatronAccount) RemoveBorrowed(key string) bool {
	i := slices.Index(a.borrowed, key)
	if i < 0 {
		return false
	}
	a.borrowed = slices.Delete(a.borrowed, i, i+1)
	return true
}

// CheckAddReserved validates AddReserved(key) without applying it.
func (a *PatronAccount) CheckAddReserved(key string) error {
	if a.HasReserved(key) {
		return fail(ReasonAlreadyReservedByYou, "item %s is already reserved by %s", key, a.holder)
	}
	return nil
}

// AddReserved records a reservation.
func (a *PatronAccount) AddReserved(key string) error {
	if err := a.CheckAddReserved(key); err != nil {
		return err
	}
	a.reserved = append(a.reserved, key)
	return nil
}

// RemoveReserved drops a reservation and reports whether it was present.
func (a *PatronAccount) RemoveReserved(key string) bool {
	i := slices.Index(a.reserved, key)
	if i < 0 {
		return false
	}
	a.reserved = slices.Delete(a.reserved, i, i+1)
	return true
}

// IsExpired reports whether now is past the renewal date.
func (a *PatronAccount) IsExpired(now time.Time) bool {
	return now.After(a.renewalDate)
}

// Renew extends an expired card for another year. On an active card it
// changes nothing and reports Renewed=false.
func (a *PatronAccount) Renew(now time.Time) RenewalReport {
	if !a.IsExpired(now) {
		return RenewalReport{Before: a.renewalDate, After: a.renewalDate}
	}
	return a.ForceRenew(now)
}

// ForceRenew always restarts the validity window at now.
func (a *PatronAccount) ForceRenew(now time.Time) RenewalReport {
	before := a.renewalDate
	a.issueDate = now
	a.renewalDate = now.AddDate(cardValidityYears, 0, 0)
	return RenewalReport{Renewed: true, Before: before, After: a.renewalDate}
}

// View returns a snapshot of the account as seen at now.
func (a *PatronAccount) View(now time.Time) CardView {
	return CardView{
		Number:      a.number,
		Holder:      a.holder,
		Details:     a.details,
		IssueDate:   a.issueDate,
		RenewalDate: a.renewalDate,
		Expired:     a.IsExpired(now),
		Implicit:    a.implicit,
		Borrowed:    a.Borrowed(),
		Reserved:    a.Reserved(),
	}
}
