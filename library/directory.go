package library

import (
	"slices"
	"strings"
)

// CatalogDirectory stores catalog items by key in insertion order. It has
// no business rules and no locking of its own; LibraryManager serializes
// every access.
type CatalogDirectory struct {
	items map[string]*CatalogItem
	order []string
}

func NewCatalogDirectory() *CatalogDirectory {
	return &CatalogDirectory{items: make(map[string]*CatalogItem)}
}

// Add stores item and reports false if its key is already taken.
func (d *CatalogDirectory) Add(item *CatalogItem) bool {
	if _, ok := d.items[item.Key()]; ok {
		return false
	}
	d.items[item.Key()] = item
	d.order = append(d.order, item.Key())
	return true
}

// Get resolves an item by key.
func (d *CatalogDirectory) Get(key string) (*CatalogItem, bool) {
	it, ok := d.items[key]
	return it, ok
}

// Remove deletes an item and reports whether it existed.
func (d *CatalogDirectory) Remove(key string) bool {
	if _, ok := d.items[key]; !ok {
		return false
	}
	delete(d.items, key)
	if i := slices.Index(d.order, key); i >= 0 {
		d.order = slices.Delete(d.order, i, i+1)
	}
	return true
}

func (d *CatalogDirectory) Len() int { return len(d.items) }

// All returns every item in insertion order.
func (d *CatalogDirectory) All() []*CatalogItem {
	return d.filter(func(*CatalogItem) bool { return true })
}

// Available returns the items that are neither borrowed nor reserved.
func (d *CatalogDirectory) Available() []*CatalogItem {
	return d.filter((*CatalogItem).IsAvailable)
}

// SearchByTitle matches a case-insensitive substring of the title.
func (d *CatalogDirectory) SearchByTitle(q string) []*CatalogItem {
	q = strings.ToLower(q)
	return d.filter(func(it *CatalogItem) bool {
		return strings.Contains(strings.ToLower(it.Details().Title), q)
	})
}

// SearchByAuthor matches a case-insensitive substring of the author.
func (d *CatalogDirectory) SearchByAuthor(q string) []*CatalogItem {
	q = strings.ToLower(q)
	return d.filter(func(it *CatalogItem) bool {
		return strings.Contains(strings.ToLower(it.Details().Author), q)
	})
}

func (d *CatalogDirectory) filter(keep func(*CatalogItem) bool) []*CatalogItem {
	out := make([]*CatalogItem, 0, len(d.order))
	for _, key := range d.order {
		if it := d.items[key]; keep(it) {
			out = append(out, it)
		}
	}
	return out
}

// CardRegistry holds at most one PatronAccount per identity.
type CardRegistry struct {
	cards map[string]*PatronAccount
}

func NewCardRegistry() *CardRegistry {
	return &CardRegistry{cards: make(map[string]*PatronAccount)}
}

// Issue stores a new account and reports false if holder already has one.
func (r *CardRegistry) Issue(acct *PatronAccount) bool {
	if _, ok := r.cards[acct.Holder()]; ok {
		return false
	}
	r.cards[acct.Holder()] = acct
	return true
}

func (r *CardRegistry) Get(holder string) (*PatronAccount, bool) {
	a, ok := r.cards[holder]
	return a, ok
}

func (r *CardRegistry) Remove(holder string) bool {
	if _, ok := r.cards[holder]; !ok {
		return false
	}
	delete(r.cards, holder)
	return true
}

// Each visits every account in no particular order.
func (r *CardRegistry) Each(fn func(*PatronAccount)) {
	for _, a := range r.cards {
		fn(a)
	}
}
