package library

// ItemState is the lending state of a catalog item.
type ItemState int

const (
	StateAvailable ItemState = iota
	StateBorrowed
	StateReserved
)

func (s ItemState) String() string {
	switch s {
	case StateAvailable:
		return "available"
	case StateBorrowed:
		return "borrowed"
	case StateReserved:
		return "reserved"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON and YAML output.
func (s ItemState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// CatalogItem is one addressable unit in the catalog. Its key is immutable;
// its lending state only changes through the transition methods below.
//
// Each transition comes in two halves: a check that reports the Failure the
// transition would produce without touching the item, and the mutating call
// which runs the same check first. LendingService uses the checks to
// validate both sides of a transaction before applying either.
type CatalogItem struct {
	key     string
	details ItemDetails
	state   ItemState
	holder  string
}

// NewCatalogItem returns an Available item.
func NewCatalogItem(key string, details ItemDetails) *CatalogItem {
	return &CatalogItem{key: key, details: details}
}

func (it *CatalogItem) Key() string          { return it.key }
func (it *CatalogItem) Details() ItemDetails { return it.details }
func (it *CatalogItem) State() ItemState     { return it.state }

// Holder is the identity occupying a Borrowed or Reserved state, or "".
func (it *CatalogItem) Holder() string { return it.holder }

// IsAvailable reports whether the item is neither borrowed nor reserved.
func (it *CatalogItem) IsAvailable() bool { return it.state == StateAvailable }

// SetDetails replaces the descriptive attributes.
func (it *CatalogItem) SetDetails(d ItemDetails) { it.details = d }

// View returns a snapshot safe to hand to callers.
func (it *CatalogItem) View() ItemView {
	return ItemView{Key: it.key, ItemDetails: it.details, State: it.state, Holder: it.holder}
}

// CheckBorrow validates Borrow(actor) without applying it.
func (it *CatalogItem) CheckBorrow(actor string) error {
	switch it.state {
	case StateBorrowed:
		return fail(ReasonAlreadyBorrowed, "item %s is already borrowed", it.key)
	case StateReserved:
		if it.holder != actor {
			return fail(ReasonHeldByOther, "item %s is reserved by another patron", it.key)
		}
	}
	return nil
}

// Borrow moves the item to Borrowed(actor). A reservation held by the same
// actor converts into the loan.
func (it *CatalogItem) Borrow(actor string) error {
	if err := it.CheckBorrow(actor); err != nil {
		return err
	}
	it.state = StateBorrowed
	it.holder = actor
	return nil
}

// Return clears the item to Available regardless of who holds it. Matching
// the returning patron against the holder is the caller's job.
func (it *CatalogItem) Return() {
	it.state = StateAvailable
	it.holder = ""
}

// CheckReserve validates Reserve(actor) without applying it.
func (it *CatalogItem) CheckReserve(actor string) error {
	switch it.state {
	case StateBorrowed:
		return fail(ReasonAlreadyBorrowed, "item %s is borrowed", it.key)
	case StateReserved:
		return fail(ReasonAlreadyReserved, "item %s is already reserved", it.key)
	}
	return nil
}

// Reserve moves an Available item to Reserved(actor).
func (it *CatalogItem) Reserve(actor string) error {
	if err := it.CheckReserve(actor); err != nil {
		return err
	}
	it.state = StateReserved
	it.holder = actor
	return nil
}

// CheckCancelReservation validates CancelReservation(actor) without applying it.
func (it *CatalogItem) CheckCancelReservation(actor string) error {
	if it.state != StateReserved || it.holder != actor {
		return fail(ReasonNotReservedBySameActor, "item %s is not reserved by %s", it.key, actor)
	}
	return nil
}

// CancelReservation returns a Reserved(actor) item to Available.
func (it *CatalogItem) CancelReservation(actor string) error {
	if err := it.CheckCancelReservation(actor); err != nil {
		return err
	}
	it.state = StateAvailable
	it.holder = ""
	return nil
}
