package library

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// IssueCard registers a library card for the verified actor. A card created
// implicitly by a reservation gets the given details instead; its loans,
// reservations and validity are kept.
func (s *LendingService) IssueCard(ctx context.Context, actorKey string, holder CardHolder) (CardView, error) {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	view, err := func() (CardView, error) {
		p, err := c.gate.Verify(actorKey)
		if err != nil {
			return CardView{}, err
		}
		if err := c.check(holder); err != nil {
			return CardView{}, err
		}
		now := c.now()
		if acct, ok := c.cards.Get(p.Key); ok {
			if !acct.Implicit() {
				return CardView{}, fail(ReasonAlreadyHasCard, "%s already has a library card", p.Key)
			}
			acct.SetDetails(holder)
			return acct.View(now), nil
		}
		acct := NewPatronAccount(p.Key, holder, now)
		c.cards.Issue(acct)
		return acct.View(now), nil
	}()

	c.metrics.observe("issue_card", start, err)
	c.outcome("issue_card", err, zap.String("actor", actorKey))
	return view, err
}

// RenewCard extends the actor's card. Without force, an active card is left
// unchanged and the report says so; force always restarts the year.
func (s *LendingService) RenewCard(ctx context.Context, actorKey string, force bool) (RenewalReport, error) {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	report, err := func() (RenewalReport, error) {
		p, err := c.gate.Verify(actorKey)
		if err != nil {
			return RenewalReport{}, err
		}
		acct, err := c.resolveCard(p.Key)
		if err != nil {
			return RenewalReport{}, err
		}
		if force {
			return acct.ForceRenew(c.now()), nil
		}
		return acct.Renew(c.now()), nil
	}()

	c.metrics.observe("renew_card", start, err)
	c.outcome("renew_card", err,
		zap.String("actor", actorKey),
		zap.Bool("forced", force),
		zap.Bool("renewed", report.Renewed),
		zap.Time("renewal_date", report.After))
	return report, err
}

// Card returns a snapshot of the actor's own card.
func (s *LendingService) Card(ctx context.Context, actorKey string) (CardView, error) {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()

	p, err := c.gate.Verify(actorKey)
	if err != nil {
		return CardView{}, err
	}
	acct, err := c.resolveCard(p.Key)
	if err != nil {
		return CardView{}, err
	}
	return acct.View(c.now()), nil
}

// UpdateCardHolder replaces the name and address on the actor's own card.
func (s *LendingService) UpdateCardHolder(ctx context.Context, actorKey string, holder CardHolder) (CardView, error) {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	view, err := func() (CardView, error) {
		p, err := c.gate.Verify(actorKey)
		if err != nil {
			return CardView{}, err
		}
		acct, err := c.resolveCard(p.Key)
		if err != nil {
			return CardView{}, err
		}
		if err := c.check(holder); err != nil {
			return CardView{}, err
		}
		acct.SetDetails(holder)
		return acct.View(c.now()), nil
	}()

	c.metrics.observe("update_card", start, err)
	c.outcome("update_card", err, zap.String("actor", actorKey))
	return view, err
}

// RevokeCard removes the card of holder once nothing is on loan or reserved.
// It is used when an identity is deleted; STAFF or above may revoke any card
// and a user may revoke their own.
//
// commit, if not nil, runs after the checks and before the card is removed.
// An error from commit leaves the card in place, so deleting the identity
// can be passed as commit.
func (s *LendingService) RevokeCard(ctx context.Context, actorKey, holder string, commit func() error) error {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	err := func() error {
		p, err := c.gate.Verify(actorKey)
		if err != nil {
			return err
		}
		if p.Key != holder {
			if err := c.gate.RequireRole(p, RoleStaff); err != nil {
				return err
			}
		}
		acct, err := c.resolveCard(holder)
		if err != nil {
			return err
		}
		if acct.InUse() {
			return fail(ReasonItemInUse, "%s still has %d loans and %d reservations",
				holder, len(acct.Borrowed()), len(acct.Reserved()))
		}
		if commit != nil {
			if err := commit(); err != nil {
				return err
			}
		}
		c.cards.Remove(holder)
		return nil
	}()

	c.metrics.observe("revoke_card", start, err)
	c.outcome("revoke_card", err, zap.String("actor", actorKey), zap.String("holder", holder))
	return err
}

// RenameHolder moves the actor's card to newKey when the identity is
// renamed. commit performs the rename itself; it runs after the checks and
// the card only moves if it succeeds. Ledger rows are keyed by holder, so a
// card with loans or reservations cannot move. An actor without a card just
// runs commit.
func (s *LendingService) RenameHolder(ctx context.Context, actorKey, newKey string, commit func() error) error {
	c := s.c
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	err := func() error {
		p, err := c.gate.Verify(actorKey)
		if err != nil {
			return err
		}
		acct, hasCard := c.cards.Get(p.Key)
		moving := hasCard && newKey != p.Key
		if moving {
			if acct.InUse() {
				return fail(ReasonItemInUse, "%s has loans or reservations and cannot be renamed", p.Key)
			}
			if _, taken := c.cards.Get(newKey); taken {
				return fail(ReasonAlreadyHasCard, "%s already has a library card", newKey)
			}
		}
		if err := commit(); err != nil {
			return err
		}
		if moving {
			c.cards.Remove(p.Key)
			acct.holder = newKey
			c.cards.Issue(acct)
		}
		return nil
	}()

	c.metrics.observe("rename_holder", start, err)
	c.outcome("rename_holder", err, zap.String("actor", actorKey), zap.String("new_key", newKey))
	return err
}
