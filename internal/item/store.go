package item

import (
	"context"
	"time"
)

// Order is a hint for the order a Store returns List results in.
type Order int

const (
	// OrderCreated is the natural order: oldest created first.
	OrderCreated Order = iota

	// OrderResolvedDesc puts the most recently resolved item first.
	OrderResolvedDesc
)

// Query is the predicate a Store evaluates in List.
type Query struct {
	Resolved bool

	// ResolvedBefore, when non-zero and Resolved is true, keeps only items
	// with ResolvedAt <= ResolvedBefore.
	ResolvedBefore time.Time

	Order Order
}

// Matches reports whether it satisfies q. Stores without a query engine use it directly.
func (q Query) Matches(it *Item) bool {
	if it.Resolved != q.Resolved {
		return false
	}
	if q.Resolved && !q.ResolvedBefore.IsZero() {
		return it.ResolvedAt != nil && !it.ResolvedAt.After(q.ResolvedBefore)
	}
	return true
}

// Store is the persistence interface for items. It is the only shared mutable
// state; implementations must be safe for concurrent use.
type Store interface {
	// Insert persists a new item. The item must already be validated.
	Insert(ctx context.Context, it *Item) error

	// Get returns a copy of the item, or ok=false when it does not exist.
	Get(ctx context.Context, id string) (it *Item, ok bool, err error)

	// List returns copies of all items matching q in q.Order.
	List(ctx context.Context, q Query) ([]*Item, error)

	// CompareAndSetResolved atomically sets resolved=true and
	// resolved_at=resolvedAt when the stored resolved flag equals
	// expectedResolved. It reports whether the write happened. Because
	// resolved_at is written once, expectedResolved=true never writes.
	CompareAndSetResolved(ctx context.Context, id string, expectedResolved bool, resolvedAt time.Time) (bool, error)

	// Delete removes the item permanently and reports whether it existed.
	Delete(ctx context.Context, id string) (bool, error)
}

// RoleSource resolves a principal's authoritative role.
type RoleSource interface {
	Role(ctx context.Context, userID string) (Role, error)
}

// Locker guards a sweep pass across replicas. TryLock returns ok=false when
// another holder owns the lock; release must be called when ok is true.
type Locker interface {
	TryLock(ctx context.Context, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}
