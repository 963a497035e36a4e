package library

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LendingService runs the four lending transactions. Each one verifies the
// actor, resolves the item and the actor's card, checks the item and the
// account together, journals the transaction and only then mutates both
// sides. A failure at any step returns before anything has changed.
type LendingService struct {
	c *core
}

// Borrow lends itemKey to actorKey. If the actor holds the reservation on
// the item, the reservation becomes the loan.
func (s *LendingService) Borrow(ctx context.Context, actorKey, itemKey string) (Receipt, error) {
	return s.run(ctx, OpBorrow, actorKey, itemKey, s.borrow)
}

// Return ends actorKey's loan of itemKey.
func (s *LendingService) Return(ctx context.Context, actorKey, itemKey string) (Receipt, error) {
	return s.run(ctx, OpReturn, actorKey, itemKey, s.giveBack)
}

// Reserve places actorKey's hold on an available item.
func (s *LendingService) Reserve(ctx context.Context, actorKey, itemKey string) (Receipt, error) {
	return s.run(ctx, OpReserve, actorKey, itemKey, s.reserve)
}

// CancelReservation releases actorKey's hold on itemKey.
func (s *LendingService) CancelReservation(ctx context.Context, actorKey, itemKey string) (Receipt, error) {
	return s.run(ctx, OpCancelReservation, actorKey, itemKey, s.cancel)
}

type txnFunc func(ctx context.Context, p Principal, item *CatalogItem, now time.Time) (Receipt, error)

func (s *LendingService) run(ctx context.Context, op Operation, actorKey, itemKey string, fn txnFunc) (Receipt, error) {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	r, err := func() (Receipt, error) {
		p, err := c.gate.Verify(actorKey)
		if err != nil {
			return Receipt{}, err
		}
		item, err := c.resolveItem(itemKey)
		if err != nil {
			return Receipt{}, err
		}
		return fn(ctx, p, item, c.now())
	}()

	c.metrics.observe(string(op), start, err)
	fields := []zap.Field{zap.String("actor", actorKey), zap.String("item", itemKey)}
	if err == nil {
		fields = append(fields, zap.Stringer("txn", r.TxnID))
	}
	c.outcome(string(op), err, fields...)
	return r, err
}

func (s *LendingService) receipt(op Operation, p Principal, item *CatalogItem, now time.Time) Receipt {
	return Receipt{TxnID: uuid.New(), Op: op, ItemKey: item.Key(), Holder: p.Key, At: now}
}

func (s *LendingService) commit(ctx context.Context, r Receipt) error {
	if err := s.c.journal.Record(ctx, r); err != nil {
		return fmt.Errorf("journal %s of %s: %w", r.Op, r.ItemKey, err)
	}
	return nil
}

func (s *LendingService) borrow(ctx context.Context, p Principal, item *CatalogItem, now time.Time) (Receipt, error) {
	acct, err := s.c.resolveCard(p.Key)
	if err != nil {
		return Receipt{}, err
	}
	if acct.IsExpired(now) {
		return Receipt{}, fail(ReasonAccountExpired,
			"library card of %s expired on %s and must be renewed before borrowing",
			p.Key, acct.RenewalDate().Format(time.DateOnly))
	}
	if err := acct.CheckAddBorrowed(item.Key()); err != nil {
		return Receipt{}, err
	}
	if err := item.CheckBorrow(p.Key); err != nil {
		return Receipt{}, err
	}

	converted := item.State() == StateReserved
	if converted != acct.HasReserved(item.Key()) {
		return Receipt{}, fmt.Errorf("%w: reservation of %s by %s", ErrInvariantViolation, item.Key(), p.Key)
	}

	r := s.receipt(OpBorrow, p, item, now)
	r.Converted = converted
	if err := s.commit(ctx, r); err != nil {
		return Receipt{}, err
	}

	if err := item.Borrow(p.Key); err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrInvariantViolation, err)
	}
	if err := acct.AddBorrowed(item.Key()); err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrInvariantViolation, err)
	}
	if converted {
		acct.RemoveReserved(item.Key())
		s.c.metrics.reservations(-1)
	}
	s.c.metrics.loans(1)
	return r, nil
}

func (s *LendingService) giveBack(ctx context.Context, p Principal, item *CatalogItem, now time.Time) (Receipt, error) {
	acct, err := s.c.resolveCard(p.Key)
	if err != nil {
		return Receipt{}, err
	}

	itemSays := item.State() == StateBorrowed && item.Holder() == p.Key
	acctSays := acct.HasBorrowed(item.Key())
	if !itemSays && !acctSays {
		return Receipt{}, fail(ReasonNotBorrowedBySameActor, "item %s is not on loan to %s", item.Key(), p.Key)
	}
	if itemSays != acctSays {
		return Receipt{}, fmt.Errorf("%w: loan of %s to %s", ErrInvariantViolation, item.Key(), p.Key)
	}

	r := s.receipt(OpReturn, p, item, now)
	if err := s.commit(ctx, r); err != nil {
		return Receipt{}, err
	}

	item.Return()
	acct.RemoveBorrowed(item.Key())
	s.c.metrics.loans(-1)
	return r, nil
}

func (s *LendingService) reserve(ctx context.Context, p Principal, item *CatalogItem, now time.Time) (Receipt, error) {
	acct, issued, err := s.cardForHold(p.Key, now)
	if err != nil {
		return Receipt{}, err
	}
	if err := item.CheckReserve(p.Key); err != nil {
		return Receipt{}, err
	}
	if err := acct.CheckAddReserved(item.Key()); err != nil {
		return Receipt{}, err
	}

	r := s.receipt(OpReserve, p, item, now)
	if err := s.commit(ctx, r); err != nil {
		return Receipt{}, err
	}

	if err := item.Reserve(p.Key); err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrInvariantViolation, err)
	}
	if err := acct.AddReserved(item.Key()); err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrInvariantViolation, err)
	}
	if issued {
		s.c.cards.Issue(acct)
	}
	s.c.metrics.reservations(1)
	return r, nil
}

func (s *LendingService) cancel(ctx context.Context, p Principal, item *CatalogItem, now time.Time) (Receipt, error) {
	acct, issued, err := s.cardForHold(p.Key, now)
	if err != nil {
		return Receipt{}, err
	}

	itemSays := item.CheckCancelReservation(p.Key) == nil
	acctSays := !issued && acct.HasReserved(item.Key())
	if !itemSays && !acctSays {
		return Receipt{}, fail(ReasonNotReservedBySameActor, "item %s is not reserved by %s", item.Key(), p.Key)
	}
	if itemSays != acctSays {
		return Receipt{}, fmt.Errorf("%w: reservation of %s by %s", ErrInvariantViolation, item.Key(), p.Key)
	}

	r := s.receipt(OpCancelReservation, p, item, now)
	if err := s.commit(ctx, r); err != nil {
		return Receipt{}, err
	}

	if err := item.CancelReservation(p.Key); err != nil {
		return Receipt{}, fmt.Errorf("%w: %v", ErrInvariantViolation, err)
	}
	acct.RemoveReserved(item.Key())
	s.c.metrics.reservations(-1)
	return r, nil
}

// cardForHold resolves the card used by reserve and cancel. When the policy
// does not require a card, a missing one is issued implicitly; issued
// reports that the returned account is not yet in the registry.
func (s *LendingService) cardForHold(holder string, now time.Time) (acct *PatronAccount, issued bool, err error) {
	acct, err = s.c.resolveCard(holder)
	if err == nil || s.c.policy.ReservationRequiresCard {
		return acct, false, err
	}
	return newImplicitAccount(holder, now), true, nil
}
