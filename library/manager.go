package library

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// DeleteMode decides what deleting a borrowed or reserved item does.
type DeleteMode string

const (
	// DeleteRefuse rejects deletion with ItemInUse unless the item is Available.
	DeleteRefuse DeleteMode = "refuse"
	// DeleteReconcile deletes the item and detaches it from its holder's account.
	DeleteReconcile DeleteMode = "reconcile"
)

// Policy holds the decisions left open by the lending rules.
type Policy struct {
	ReservationRequiresCard bool
	DeleteMode              DeleteMode
}

// DefaultPolicy requires a card for every lending action and refuses to
// delete items that are out.
func DefaultPolicy() Policy {
	return Policy{ReservationRequiresCard: true, DeleteMode: DeleteRefuse}
}

// core is the state shared by the services. Every read or write of the
// directory or the registry happens with mu held.
type core struct {
	mu       sync.Mutex
	gate     *IdentityGate
	dir      *CatalogDirectory
	cards    *CardRegistry
	journal  Journal
	log      *zap.Logger
	metrics  *Metrics
	now      func() time.Time
	policy   Policy
	validate *validator.Validate
}

// Option configures a LibraryManager.
type Option func(*core) error

// WithJournal records every committed transaction in j.
func WithJournal(j Journal) Option {
	return func(c *core) error {
		if j == nil {
			return errors.New("library: nil journal")
		}
		c.journal = j
		return nil
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *core) error {
		if l != nil {
			c.log = l
		}
		return nil
	}
}

func WithMetrics(m *Metrics) Option {
	return func(c *core) error {
		c.metrics = m
		return nil
	}
}

// WithClock replaces time.Now, mainly for card expiry in tests.
func WithClock(now func() time.Time) Option {
	return func(c *core) error {
		if now == nil {
			return errors.New("library: nil clock")
		}
		c.now = now
		return nil
	}
}

func WithPolicy(p Policy) Option {
	return func(c *core) error {
		switch p.DeleteMode {
		case DeleteRefuse, DeleteReconcile:
		default:
			return fmt.Errorf("library: unknown delete mode %q", p.DeleteMode)
		}
		c.policy = p
		return nil
	}
}

// LibraryManager owns the catalog, the card registry and the identity gate
// for one library instance and hands out the services that operate on them.
// Separate managers share nothing.
type LibraryManager struct {
	c *core

	Lending *LendingService
	Catalog *CatalogService
}

// NewLibraryManager wires a library around the given identity store.
func NewLibraryManager(store IdentityStore, opts ...Option) (*LibraryManager, error) {
	if store == nil {
		return nil, errors.New("library: nil identity store")
	}
	c := &core{
		gate:     NewIdentityGate(store),
		dir:      NewCatalogDirectory(),
		cards:    NewCardRegistry(),
		journal:  nopJournal{},
		log:      zap.NewNop(),
		now:      time.Now,
		policy:   DefaultPolicy(),
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	return &LibraryManager{
		c:       c,
		Lending: &LendingService{c},
		Catalog: &CatalogService{c},
	}, nil
}

// Gate exposes the identity gate for callers that authorize their own actions.
func (lm *LibraryManager) Gate() *IdentityGate { return lm.c.gate }

// Policy returns the active policy.
func (lm *LibraryManager) Policy() Policy { return lm.c.policy }

// Preload adds entries straight to the directory without an acting
// principal. It is meant for bootstrapping a fresh instance. Entries are
// held to the same rules as AddItem; invalid entries and entries whose key
// is taken are skipped and counted.
func (lm *LibraryManager) Preload(entries []CatalogEntry) (added, skipped int) {
	lm.c.mu.Lock()
	defer lm.c.mu.Unlock()
	for _, e := range entries {
		key := strings.TrimSpace(e.Key)
		err := lm.c.check(e.ItemDetails)
		if key == "" && err == nil {
			err = fail(ReasonInvalidInput, "item key is required")
		}
		if err != nil {
			lm.c.log.Warn("catalog entry skipped", zap.String("item", e.Key), zap.Error(err))
			skipped++
			continue
		}
		if lm.c.dir.Add(NewCatalogItem(key, e.ItemDetails)) {
			added++
		} else {
			skipped++
		}
	}
	lm.c.log.Info("catalog preloaded", zap.Int("added", added), zap.Int("skipped", skipped))
	return added, skipped
}

// CheckConsistency verifies that every Borrowed or Reserved item is listed
// in its holder's account and that every account entry points at an item in
// the matching state. It returns ErrInvariantViolation wrapped with the
// first discrepancy found.
func (lm *LibraryManager) CheckConsistency() error {
	lm.c.mu.Lock()
	defer lm.c.mu.Unlock()

	for _, it := range lm.c.dir.All() {
		switch it.State() {
		case StateBorrowed:
			acct, ok := lm.c.cards.Get(it.Holder())
			if !ok || !acct.HasBorrowed(it.Key()) {
				return fmt.Errorf("%w: item %s borrowed by %s but missing from account", ErrInvariantViolation, it.Key(), it.Holder())
			}
		case StateReserved:
			acct, ok := lm.c.cards.Get(it.Holder())
			if !ok || !acct.HasReserved(it.Key()) {
				return fmt.Errorf("%w: item %s reserved by %s but missing from account", ErrInvariantViolation, it.Key(), it.Holder())
			}
		}
	}

	var err error
	lm.c.cards.Each(func(a *PatronAccount) {
		if err != nil {
			return
		}
		if n := len(a.Borrowed()); n > MaxBorrow {
			err = fmt.Errorf("%w: %s has %d loans", ErrInvariantViolation, a.Holder(), n)
			return
		}
		for _, k := range a.Borrowed() {
			if it, ok := lm.c.dir.Get(k); !ok || it.State() != StateBorrowed || it.Holder() != a.Holder() {
				err = fmt.Errorf("%w: account %s lists loan %s the item does not confirm", ErrInvariantViolation, a.Holder(), k)
				return
			}
		}
		for _, k := range a.Reserved() {
			if it, ok := lm.c.dir.Get(k); !ok || it.State() != StateReserved || it.Holder() != a.Holder() {
				err = fmt.Errorf("%w: account %s lists reservation %s the item does not confirm", ErrInvariantViolation, a.Holder(), k)
				return
			}
		}
	})
	return err
}

// ------------------ shared helpers ------------------

func (c *core) resolveItem(key string) (*CatalogItem, error) {
	it, ok := c.dir.Get(key)
	if !ok {
		return nil, fail(ReasonNotFound, "no item with key %s", key)
	}
	return it, nil
}

func (c *core) resolveCard(holder string) (*PatronAccount, error) {
	acct, ok := c.cards.Get(holder)
	if !ok {
		return nil, fail(ReasonNoLibraryCard, "%s has no library card", holder)
	}
	return acct, nil
}

// check runs struct validation and turns field errors into InvalidInput.
func (c *core) check(v any) error {
	err := c.validate.Struct(v)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validate: %w", err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
	}
	return fail(ReasonInvalidInput, "%s", strings.Join(msgs, "; "))
}

// outcome logs a finished operation at the level its error deserves.
func (c *core) outcome(op string, err error, fields ...zap.Field) {
	switch {
	case err == nil:
		c.log.Info(op+" committed", fields...)
	case isFailure(err):
		reason, _ := ReasonOf(err)
		c.log.Warn(op+" rejected", append(fields, zap.String("reason", string(reason)), zap.String("detail", err.Error()))...)
	default:
		c.log.Error(op+" failed", append(fields, zap.Error(err))...)
	}
}

func isFailure(err error) bool {
	_, ok := ReasonOf(err)
	return ok
}
