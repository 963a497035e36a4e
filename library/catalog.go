package library

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CatalogService manages catalog items. Adding, updating, deleting and
// listing the whole catalog require STAFF; browsing available items and
// searching only require a verified identity.
type CatalogService struct {
	c *core
}

// AddItem creates an Available item under key.
func (s *CatalogService) AddItem(ctx context.Context, actorKey, key string, details ItemDetails) (ItemView, error) {
	var view ItemView
	err := s.staff(ctx, "add_item", actorKey, key, func(Principal) error {
		key = strings.TrimSpace(key)
		if key == "" {
			return fail(ReasonInvalidInput, "item key is required")
		}
		if err := s.c.check(details); err != nil {
			return err
		}
		item := NewCatalogItem(key, details)
		if !s.c.dir.Add(item) {
			return fail(ReasonDuplicateKey, "an item with key %s already exists", key)
		}
		view = item.View()
		return nil
	})
	return view, err
}

// UpdateItem replaces the descriptive attributes of an item. The lending
// state is untouched.
func (s *CatalogService) UpdateItem(ctx context.Context, actorKey, key string, details ItemDetails) (ItemView, error) {
	var view ItemView
	err := s.staff(ctx, "update_item", actorKey, key, func(Principal) error {
		item, err := s.c.resolveItem(key)
		if err != nil {
			return err
		}
		if err := s.c.check(details); err != nil {
			return err
		}
		item.SetDetails(details)
		view = item.View()
		return nil
	})
	return view, err
}

// DeleteItem removes an item from the catalog. Under DeleteRefuse a borrowed
// or reserved item is rejected with ItemInUse. Under DeleteReconcile the
// item is also removed from its holder's account, journaled as a withdrawal.
func (s *CatalogService) DeleteItem(ctx context.Context, actorKey, key string) error {
	return s.staff(ctx, "delete_item", actorKey, key, func(p Principal) error {
		item, err := s.c.resolveItem(key)
		if err != nil {
			return err
		}
		if item.IsAvailable() {
			s.c.dir.Remove(key)
			return nil
		}
		if s.c.policy.DeleteMode != DeleteReconcile {
			return fail(ReasonItemInUse, "item %s is %s by %s", key, item.State(), item.Holder())
		}

		state, holder := item.State(), item.Holder()
		acct, _ := s.c.cards.Get(holder)
		r := Receipt{TxnID: uuid.New(), Op: OpWithdraw, ItemKey: key, Holder: holder, At: s.c.now()}
		if err := s.c.journal.Record(ctx, r); err != nil {
			return err
		}

		s.c.dir.Remove(key)
		if acct != nil {
			acct.RemoveBorrowed(key)
			acct.RemoveReserved(key)
		}
		if state == StateBorrowed {
			s.c.metrics.loans(-1)
		} else {
			s.c.metrics.reservations(-1)
		}
		s.c.log.Warn("item withdrawn from holder",
			zap.String("item", key),
			zap.String("holder", holder),
			zap.Stringer("state", state),
			zap.String("by", p.Key))
		return nil
	})
}

// ListAll returns the whole catalog in insertion order.
func (s *CatalogService) ListAll(ctx context.Context, actorKey string) ([]ItemView, error) {
	var out []ItemView
	err := s.staff(ctx, "list_all", actorKey, "", func(Principal) error {
		out = views(s.c.dir.All())
		return nil
	})
	return out, err
}

// Get returns one item.
func (s *CatalogService) Get(ctx context.Context, actorKey, key string) (ItemView, error) {
	var view ItemView
	err := s.browse(actorKey, func() error {
		item, err := s.c.resolveItem(key)
		if err != nil {
			return err
		}
		view = item.View()
		return nil
	})
	return view, err
}

// ListAvailable returns the items that can be borrowed or reserved now.
func (s *CatalogService) ListAvailable(ctx context.Context, actorKey string) ([]ItemView, error) {
	var out []ItemView
	err := s.browse(actorKey, func() error {
		out = views(s.c.dir.Available())
		return nil
	})
	return out, err
}

// SearchByTitle finds items whose title contains q, ignoring case.
func (s *CatalogService) SearchByTitle(ctx context.Context, actorKey, q string) ([]ItemView, error) {
	var out []ItemView
	err := s.browse(actorKey, func() error {
		out = views(s.c.dir.SearchByTitle(q))
		return nil
	})
	return out, err
}

// SearchByAuthor finds items whose author contains q, ignoring case.
func (s *CatalogService) SearchByAuthor(ctx context.Context, actorKey, q string) ([]ItemView, error) {
	var out []ItemView
	err := s.browse(actorKey, func() error {
		out = views(s.c.dir.SearchByAuthor(q))
		return nil
	})
	return out, err
}

func (s *CatalogService) staff(ctx context.Context, op, actorKey, key string, fn func(Principal) error) error {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	err := func() error {
		p, err := c.gate.Authorize(actorKey, RoleStaff)
		if err != nil {
			return err
		}
		return fn(p)
	}()

	c.metrics.observe(op, start, err)
	fields := []zap.Field{zap.String("actor", actorKey)}
	if key != "" {
		fields = append(fields, zap.String("item", key))
	}
	c.outcome(op, err, fields...)
	return err
}

func (s *CatalogService) browse(actorKey string, fn func() error) error {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.gate.Verify(actorKey); err != nil {
		return err
	}
	return fn()
}

func views(items []*CatalogItem) []ItemView {
	out := make([]ItemView, len(items))
	for i, it := range items {
		out[i] = it.View()
	}
	return out
}
