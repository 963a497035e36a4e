package library

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeUsers is an IdentityStore backed by a map.
type fakeUsers struct {
	mu       sync.Mutex
	roles    map[string]Role
	loggedIn map[string]bool
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{roles: map[string]Role{}, loggedIn: map[string]bool{}}
}

func (f *fakeUsers) add(key string, role Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[key] = role
	f.loggedIn[key] = true
}

func (f *fakeUsers) logout(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedIn[key] = false
}

func (f *fakeUsers) remove(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.roles, key)
	delete(f.loggedIn, key)
}

func (f *fakeUsers) FindByKey(key string) (Principal, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	role, ok := f.roles[key]
	if !ok {
		return Principal{}, false
	}
	return Principal{Key: key, Role: role, LoggedIn: f.loggedIn[key]}, true
}

func (f *fakeUsers) IsLoggedIn(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loggedIn[key]
}

// testClock is a settable clock for WithClock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingJournal keeps receipts in memory and can be told to fail.
type recordingJournal struct {
	mu       sync.Mutex
	receipts []Receipt
	err      error
}

func (j *recordingJournal) Record(_ context.Context, r Receipt) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.err != nil {
		return j.err
	}
	j.receipts = append(j.receipts, r)
	return nil
}

func (j *recordingJournal) ops() []Operation {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Operation, len(j.receipts))
	for i, r := range j.receipts {
		out[i] = r.Op
	}
	return out
}

var errDiskFull = errors.New("disk full")

type fixture struct {
	lm      *LibraryManager
	users   *fakeUsers
	clock   *testClock
	journal *recordingJournal
}

// newFixture builds a manager with items k1..k8, users alice and bob
// (USER, with cards), carol (USER, no card), staff (STAFF) and admin
// (ADMIN), all logged in.
func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		users:   newFakeUsers(),
		clock:   &testClock{now: epoch},
		journal: &recordingJournal{},
	}
	f.users.add("alice", RoleUser)
	f.users.add("bob", RoleUser)
	f.users.add("carol", RoleUser)
	f.users.add("staff", RoleStaff)
	f.users.add("admin", RoleAdmin)

	base := []Option{WithClock(f.clock.Now), WithJournal(f.journal)}
	lm, err := NewLibraryManager(f.users, append(base, opts...)...)
	require.NoError(t, err)
	f.lm = lm

	entries := make([]CatalogEntry, 0, 8)
	for i := 1; i <= 8; i++ {
		entries = append(entries, CatalogEntry{
			Key:         fmt.Sprintf("k%d", i),
			ItemDetails: ItemDetails{Title: fmt.Sprintf("Title %d", i), Author: "Author"},
		})
	}
	lm.Preload(entries)

	for _, who := range []string{"alice", "bob"} {
		_, err := lm.Lending.IssueCard(context.Background(), who, testHolder(who))
		require.NoError(t, err)
	}
	return f
}

func testHolder(name string) CardHolder {
	return CardHolder{
		FirstName: name,
		LastName:  "Tester",
		Address:   Address{Street: "1 Main St", City: "Springfield", State: "IL", Zipcode: "62701"},
	}
}

func (f *fixture) item(t *testing.T, key string) *CatalogItem {
	t.Helper()
	it, ok := f.lm.c.dir.Get(key)
	require.True(t, ok, "item %s", key)
	return it
}

func (f *fixture) account(t *testing.T, holder string) *PatronAccount {
	t.Helper()
	a, ok := f.lm.c.cards.Get(holder)
	require.True(t, ok, "account %s", holder)
	return a
}
