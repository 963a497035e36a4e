package library

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role is the privilege level assigned to an identity at registration.
type Role int

const (
	RoleUser Role = iota + 1
	RoleStaff
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "USER"
	case RoleStaff:
		return "STAFF"
	case RoleAdmin:
		return "ADMIN"
	default:
		return "UNKNOWN"
	}
}

// ParseRole accepts USER, STAFF or ADMIN in any case.
func ParseRole(s string) (Role, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "USER":
		return RoleUser, true
	case "STAFF":
		return RoleStaff, true
	case "ADMIN":
		return RoleAdmin, true
	}
	return 0, false
}

// Principal is a verified identity together with its role.
type Principal struct {
	Key      string `json:"key"`
	Role     Role   `json:"role"`
	LoggedIn bool   `json:"logged_in"`
}

// ItemDetails holds the descriptive attributes of a catalog item. They never
// influence the lending state machine.
type ItemDetails struct {
	Title         string `json:"title" yaml:"title" validate:"required,max=200"`
	Author        string `json:"author" yaml:"author" validate:"required,max=120"`
	PublishedYear int    `json:"published_year" yaml:"published_year" validate:"gte=0,lte=9999"`
	Genre         string `json:"genre" yaml:"genre" validate:"max=60"`
}

// ItemView is a read-only snapshot of a catalog item.
type ItemView struct {
	Key string `json:"key"`
	ItemDetails
	State  ItemState `json:"state"`
	Holder string    `json:"holder,omitempty"`
}

// Available mirrors CatalogItem.IsAvailable for a snapshot.
func (v ItemView) Available() bool { return v.State == StateAvailable }

// Address is the postal address printed on a library card.
type Address struct {
	Street  string `json:"street" validate:"required"`
	City    string `json:"city" validate:"required"`
	State   string `json:"state" validate:"required"`
	Zipcode string `json:"zipcode" validate:"required"`
}

// CardHolder is the personal data collected when a card is issued.
type CardHolder struct {
	FirstName string  `json:"first_name" validate:"required"`
	LastName  string  `json:"last_name" validate:"required"`
	Address   Address `json:"address"`
}

// Operation identifies one of the lending transactions.
type Operation string

const (
	OpBorrow            Operation = "borrow"
	OpReturn            Operation = "return"
	OpReserve           Operation = "reserve"
	OpCancelReservation Operation = "cancel_reservation"

	// OpWithdraw is journaled when a deleted catalog item is detached from
	// the account that held it.
	OpWithdraw Operation = "withdraw"
)

// Receipt describes a committed lending transaction.
type Receipt struct {
	TxnID     uuid.UUID `json:"txn_id"`
	Op        Operation `json:"op"`
	ItemKey   string    `json:"item_key"`
	Holder    string    `json:"holder"`
	At        time.Time `json:"at"`
	Converted bool      `json:"converted"` // borrow fulfilled the holder's own reservation
}

// RenewalReport is returned by card renewal. Renewed is false when the card
// was still active and renewal was not forced.
type RenewalReport struct {
	Renewed bool      `json:"renewed"`
	Before  time.Time `json:"before"`
	After   time.Time `json:"after"`
}

// CardView is a snapshot of a patron account.
type CardView struct {
	Number      uuid.UUID  `json:"number"`
	Holder      string     `json:"holder"`
	Details     CardHolder `json:"details"`
	IssueDate   time.Time  `json:"issue_date"`
	RenewalDate time.Time  `json:"renewal_date"`
	Expired     bool       `json:"expired"`
	Implicit    bool       `json:"implicit"` // created by a reservation, details not yet given
	Borrowed    []string   `json:"borrowed"`
	Reserved    []string   `json:"reserved"`
}
