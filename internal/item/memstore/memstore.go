// Package memstore provides an in-memory implementation of item.Store.
package memstore

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/linnemanlabs/itemdesk/internal/item"
)

// Store holds items in memory. Suitable for dev/testing.
type Store struct {
	mu    sync.RWMutex
	items map[string]*entry // item ID -> entry
	seq   uint64
}

// entry pairs an item with its insertion sequence, the natural list order.
type entry struct {
	seq  uint64
	item *item.Item
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{
		items: make(map[string]*entry),
	}
}

// Insert stores a copy of the item. Duplicate IDs are rejected.
func (s *Store) Insert(_ context.Context, it *item.Item) error {
	if !it.Category.Valid() {
		return fmt.Errorf("insert %s: invalid category %q", it.ID, it.Category)
	}
	if it.Resolved != (it.ResolvedAt != nil) {
		return fmt.Errorf("insert %s: resolved flag and resolved_at disagree", it.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[it.ID]; ok {
		return fmt.Errorf("insert %s: duplicate id", it.ID)
	}
	s.seq++
	s.items[it.ID] = &entry{seq: s.seq, item: it.Clone()}
	return nil
}

// Get retrieves an item by ID. Returns a copy.
func (s *Store) Get(_ context.Context, id string) (*item.Item, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[id]
	if !ok {
		return nil, false, nil
	}
	return e.item.Clone(), true, nil
}

// List returns copies of the items matching q.
func (s *Store) List(_ context.Context, q item.Query) ([]*item.Item, error) {
	s.mu.RLock()
	matched := make([]*entry, 0, len(s.items))
	for _, e := range s.items {
		if q.Matches(e.item) {
			matched = append(matched, &entry{seq: e.seq, item: e.item.Clone()})
		}
	}
	s.mu.RUnlock()

	switch q.Order {
	case item.OrderResolvedDesc:
		slices.SortFunc(matched, func(a, b *entry) int {
			if c := compareResolvedAt(b.item, a.item); c != 0 {
				return c
			}
			return cmp.Compare(a.seq, b.seq)
		})
	default:
		slices.SortFunc(matched, func(a, b *entry) int {
			return cmp.Compare(a.seq, b.seq)
		})
	}

	out := make([]*item.Item, len(matched))
	for i, e := range matched {
		out[i] = e.item
	}
	return out, nil
}

// CompareAndSetResolved resolves the item if its resolved flag equals expected.
func (s *Store) CompareAndSetResolved(_ context.Context, id string, expected bool, at time.Time) (bool, error) {
	if expected {
		return false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.items[id]
	if !ok || e.item.Resolved != expected {
		return false, nil
	}
	e.item.Resolved = true
	e.item.ResolvedAt = &at
	return true, nil
}

// Delete removes the item and reports whether it existed.
func (s *Store) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return false, nil
	}
	delete(s.items, id)
	return true, nil
}

// Len returns the number of stored items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func compareResolvedAt(a, b *item.Item) int {
	switch {
	case a.ResolvedAt == nil && b.ResolvedAt == nil:
		return 0
	case a.ResolvedAt == nil:
		return -1
	case b.ResolvedAt == nil:
		return 1
	}
	return a.ResolvedAt.Compare(*b.ResolvedAt)
}
