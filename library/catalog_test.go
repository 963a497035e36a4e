package library

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestCatalogMutationRequiresStaff(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	details := ItemDetails{Title: "Dune", Author: "Frank Herbert", PublishedYear: 1965, Genre: "Fiction"}

	_, err := f.lm.Catalog.AddItem(ctx, "alice", "978-0441013593", details)
	assert.ErrorIs(t, err, ErrInsufficientPrivilege)
	_, err = f.lm.Catalog.UpdateItem(ctx, "alice", "k1", details)
	assert.ErrorIs(t, err, ErrInsufficientPrivilege)
	assert.ErrorIs(t, f.lm.Catalog.DeleteItem(ctx, "alice", "k1"), ErrInsufficientPrivilege)
	_, err = f.lm.Catalog.ListAll(ctx, "alice")
	assert.ErrorIs(t, err, ErrInsufficientPrivilege)

	for _, actor := range []string{"staff", "admin"} {
		all, err := f.lm.Catalog.ListAll(ctx, actor)
		require.NoError(t, err, actor)
		assert.Len(t, all, 8)
	}

	f.users.logout("staff")
	_, err = f.lm.Catalog.ListAll(ctx, "staff")
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestAddAndUpdateItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	details := ItemDetails{Title: "Dune", Author: "Frank Herbert", PublishedYear: 1965, Genre: "Fiction"}

	v, err := f.lm.Catalog.AddItem(ctx, "staff", " 978-0441013593 ", details)
	require.NoError(t, err)
	assert.Equal(t, "978-0441013593", v.Key)
	assert.True(t, v.Available())

	_, err = f.lm.Catalog.AddItem(ctx, "staff", "978-0441013593", details)
	assert.ErrorIs(t, err, ErrDuplicateKey)
	_, err = f.lm.Catalog.AddItem(ctx, "staff", "  ", details)
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.lm.Catalog.AddItem(ctx, "staff", "x", ItemDetails{Author: "Nobody"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = f.lm.Lending.Borrow(ctx, "alice", "978-0441013593")
	require.NoError(t, err)

	details.Title = "Dune (Deluxe Edition)"
	v, err = f.lm.Catalog.UpdateItem(ctx, "staff", "978-0441013593", details)
	require.NoError(t, err)
	assert.Equal(t, "Dune (Deluxe Edition)", v.Title)
	assert.Equal(t, StateBorrowed, v.State, "update leaves the lending state alone")
	assert.Equal(t, "alice", v.Holder)

	_, err = f.lm.Catalog.UpdateItem(ctx, "staff", "missing", details)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRefusesItemsInUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.lm.Lending.Borrow(ctx, "alice", "k1")
	require.NoError(t, err)
	_, err = f.lm.Lending.Reserve(ctx, "bob", "k2")
	require.NoError(t, err)

	assert.ErrorIs(t, f.lm.Catalog.DeleteItem(ctx, "staff", "k1"), ErrItemInUse)
	assert.ErrorIs(t, f.lm.Catalog.DeleteItem(ctx, "staff", "k2"), ErrItemInUse)
	assert.ErrorIs(t, f.lm.Catalog.DeleteItem(ctx, "staff", "missing"), ErrNotFound)
	require.NoError(t, f.lm.Catalog.DeleteItem(ctx, "staff", "k3"))

	_, err = f.lm.Catalog.Get(ctx, "alice", "k3")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.lm.Catalog.Get(ctx, "alice", "k1")
	assert.NoError(t, err)
	require.NoError(t, f.lm.CheckConsistency())
}

func TestDeleteReconcilesAccounts(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := newFixture(t,
		WithPolicy(Policy{ReservationRequiresCard: true, DeleteMode: DeleteReconcile}),
		WithLogger(zap.New(core)))
	ctx := context.Background()

	_, err := f.lm.Lending.Borrow(ctx, "alice", "k1")
	require.NoError(t, err)
	_, err = f.lm.Lending.Reserve(ctx, "bob", "k2")
	require.NoError(t, err)

	require.NoError(t, f.lm.Catalog.DeleteItem(ctx, "staff", "k1"))
	require.NoError(t, f.lm.Catalog.DeleteItem(ctx, "admin", "k2"))

	assert.Empty(t, f.account(t, "alice").Borrowed())
	assert.Empty(t, f.account(t, "bob").Reserved())
	assert.Equal(t, []Operation{OpBorrow, OpReserve, OpWithdraw, OpWithdraw}, f.journal.ops())
	require.NoError(t, f.lm.CheckConsistency())

	withdrawn := logs.FilterMessage("item withdrawn from holder").All()
	require.Len(t, withdrawn, 2)
	assert.Equal(t, "alice", withdrawn[0].ContextMap()["holder"])
	assert.Equal(t, "bob", withdrawn[1].ContextMap()["holder"])
}

func TestDeleteReconcileJournalFailure(t *testing.T) {
	f := newFixture(t, WithPolicy(Policy{ReservationRequiresCard: true, DeleteMode: DeleteReconcile}))
	ctx := context.Background()

	_, err := f.lm.Lending.Borrow(ctx, "alice", "k1")
	require.NoError(t, err)
	f.journal.err = errDiskFull

	assert.ErrorIs(t, f.lm.Catalog.DeleteItem(ctx, "staff", "k1"), errDiskFull)
	assert.Equal(t, StateBorrowed, f.item(t, "k1").State())
	assert.Equal(t, []string{"k1"}, f.account(t, "alice").Borrowed())
}

func TestBrowseAndSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.lm.Catalog.AddItem(ctx, "staff", "orwell-1", ItemDetails{Title: "Animal Farm", Author: "George Orwell"})
	require.NoError(t, err)
	_, err = f.lm.Catalog.AddItem(ctx, "staff", "orwell-2", ItemDetails{Title: "Nineteen Eighty-Four", Author: "George Orwell"})
	require.NoError(t, err)
	_, err = f.lm.Lending.Borrow(ctx, "bob", "orwell-1")
	require.NoError(t, err)

	avail, err := f.lm.Catalog.ListAvailable(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, avail, 9)
	for _, v := range avail {
		assert.NotEqual(t, "orwell-1", v.Key)
	}

	byAuthor, err := f.lm.Catalog.SearchByAuthor(ctx, "alice", "ORWELL")
	require.NoError(t, err)
	require.Len(t, byAuthor, 2)
	assert.Equal(t, "orwell-1", byAuthor[0].Key, "insertion order")
	assert.Equal(t, StateBorrowed, byAuthor[0].State)

	byTitle, err := f.lm.Catalog.SearchByTitle(ctx, "alice", "eighty")
	require.NoError(t, err)
	require.Len(t, byTitle, 1)
	assert.Equal(t, "orwell-2", byTitle[0].Key)

	_, err = f.lm.Catalog.SearchByTitle(ctx, "mallory", "farm")
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestPreloadSkipsTakenKeys(t *testing.T) {
	f := newFixture(t)
	added, skipped := f.lm.Preload([]CatalogEntry{
		{Key: "k1", ItemDetails: ItemDetails{Title: "dup", Author: "x"}},
		{Key: "k9", ItemDetails: ItemDetails{Title: "new", Author: "x"}},
	})
	assert.Equal(t, 1, added)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, "Title 1", f.item(t, "k1").Details().Title)
}

func TestPreloadHoldsEntriesToAddItemRules(t *testing.T) {
	f := newFixture(t)
	added, skipped := f.lm.Preload([]CatalogEntry{
		{Key: "  k10  ", ItemDetails: ItemDetails{Title: "Padded", Author: "x"}},
		{Key: "k11", ItemDetails: ItemDetails{Title: strings.Repeat("t", 300), Author: "x"}},
		{Key: "   ", ItemDetails: ItemDetails{Title: "No key", Author: "x"}},
		{Key: "k12", ItemDetails: ItemDetails{Title: "No author"}},
	})
	assert.Equal(t, 1, added)
	assert.Equal(t, 3, skipped)
	assert.Equal(t, "Padded", f.item(t, "k10").Details().Title)

	_, ok := f.lm.c.dir.Get("k11")
	assert.False(t, ok)
}
