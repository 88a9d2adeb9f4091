// Package storetest holds the behavioral checks every item.Store must pass.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/itemdesk/internal/item"
)

// Run exercises s against the item.Store contract. Each subtest uses fresh
// ids, so s may be shared with other data.
func Run(t *testing.T, s item.Store) {
	t.Helper()

	t.Run("InsertGet", func(t *testing.T) { testInsertGet(t, s) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, s) })
	t.Run("NaturalOrder", func(t *testing.T) { testNaturalOrder(t, s) })
	t.Run("CompareAndSetResolved", func(t *testing.T) { testCAS(t, s) })
	t.Run("ResolvedQueries", func(t *testing.T) { testResolvedQueries(t, s) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, s) })
	t.Run("ConcurrentResolve", func(t *testing.T) { testConcurrentResolve(t, s) })
}

// base is truncated to the microsecond so every backend round-trips it exactly.
var base = time.Date(2025, 4, 1, 8, 0, 0, 0, time.UTC)

func newItem(prefix string, c item.Category, created time.Time) *item.Item {
	return &item.Item{
		ID:          prefix + "-" + ulid.Make().String(),
		PersonName:  "Person " + prefix,
		Description: "description " + prefix,
		Category:    c,
		CreatedAt:   created,
		CreatedBy:   "user-" + prefix,
	}
}

func mustInsert(t *testing.T, s item.Store, it *item.Item) {
	t.Helper()
	if err := s.Insert(context.Background(), it); err != nil {
		t.Fatalf("Insert(%s): %v", it.ID, err)
	}
}

func indexOf(items []*item.Item) map[string]int {
	out := make(map[string]int, len(items))
	for i, it := range items {
		out[it.ID] = i
	}
	return out
}

func testInsertGet(t *testing.T, s item.Store) {
	ctx := context.Background()
	in := newItem("ig", item.CategoryUrgent, base)
	mustInsert(t, s, in)

	got, ok, err := s.Get(ctx, in.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("Get returned ok=false, want true")
	}
	if got.PersonName != in.PersonName || got.Description != in.Description || got.Category != in.Category || got.CreatedBy != in.CreatedBy {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, in)
	}
	if !got.CreatedAt.Equal(in.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, in.CreatedAt)
	}
	if got.Resolved || got.ResolvedAt != nil {
		t.Errorf("new item came back resolved: %+v", got)
	}

	if err := s.Insert(ctx, newItemWithID(in.ID)); err == nil {
		t.Error("duplicate Insert succeeded")
	}
}

func newItemWithID(id string) *item.Item {
	it := newItem("dup", item.CategorySmall, base)
	it.ID = id
	return it
}

func testGetMissing(t *testing.T, s item.Store) {
	_, ok, err := s.Get(context.Background(), "missing-"+ulid.Make().String())
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("Get returned ok=true for missing id")
	}
}

func testNaturalOrder(t *testing.T, s item.Store) {
	ids := make([]string, 5)
	for i := range ids {
		it := newItem(fmt.Sprintf("no%d", i), item.CategoryMedium, base.Add(time.Duration(i)*time.Second))
		mustInsert(t, s, it)
		ids[i] = it.ID
	}

	got, err := s.List(context.Background(), item.Query{Resolved: false, Order: item.OrderCreated})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	pos := indexOf(got)
	for i := 1; i < len(ids); i++ {
		a, okA := pos[ids[i-1]]
		b, okB := pos[ids[i]]
		if !okA || !okB {
			t.Fatalf("inserted items missing from open list")
		}
		if a >= b {
			t.Errorf("%s listed after %s, want creation order", ids[i-1], ids[i])
		}
	}
}

func testCAS(t *testing.T, s item.Store) {
	ctx := context.Background()
	it := newItem("cas", item.CategorySmall, base)
	mustInsert(t, s, it)
	first := base.Add(time.Hour)

	if ok, err := s.CompareAndSetResolved(ctx, it.ID, true, first); err != nil || ok {
		t.Fatalf("CAS expected=true on open item = (%v, %v), want (false, nil)", ok, err)
	}
	if ok, err := s.CompareAndSetResolved(ctx, it.ID, false, first); err != nil || !ok {
		t.Fatalf("first CAS = (%v, %v), want (true, nil)", ok, err)
	}
	if ok, err := s.CompareAndSetResolved(ctx, it.ID, false, first.Add(time.Hour)); err != nil || ok {
		t.Fatalf("second CAS = (%v, %v), want (false, nil)", ok, err)
	}
	if ok, err := s.CompareAndSetResolved(ctx, it.ID, true, first.Add(time.Hour)); err != nil || ok {
		t.Fatalf("CAS expected=true on resolved item = (%v, %v), want (false, nil)", ok, err)
	}
	if ok, err := s.CompareAndSetResolved(ctx, "missing-"+ulid.Make().String(), false, first); err != nil || ok {
		t.Fatalf("CAS on missing item = (%v, %v), want (false, nil)", ok, err)
	}

	got, _, err := s.Get(ctx, it.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Resolved || got.ResolvedAt == nil || !got.ResolvedAt.Equal(first) {
		t.Errorf("after CAS: resolved=%v at %v, want true at %v", got.Resolved, got.ResolvedAt, first)
	}
}

func testResolvedQueries(t *testing.T, s item.Store) {
	ctx := context.Background()
	// far in the past so other subtests' stamps do not interleave
	epoch := time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

	ids := make([]string, 3)
	for i := range ids {
		it := newItem(fmt.Sprintf("rq%d", i), item.CategorySmall, epoch)
		mustInsert(t, s, it)
		if ok, err := s.CompareAndSetResolved(ctx, it.ID, false, epoch.Add(time.Duration(i)*time.Hour)); err != nil || !ok {
			t.Fatalf("resolve %s = (%v, %v)", it.ID, ok, err)
		}
		ids[i] = it.ID
	}
	open := newItem("rqopen", item.CategorySmall, epoch)
	mustInsert(t, s, open)

	got, err := s.List(ctx, item.Query{Resolved: true, ResolvedBefore: epoch.Add(time.Hour)})
	if err != nil {
		t.Fatalf("List before: %v", err)
	}
	pos := indexOf(got)
	if _, ok := pos[ids[0]]; !ok {
		t.Error("item resolved before cutoff missing")
	}
	if _, ok := pos[ids[1]]; !ok {
		t.Error("item resolved exactly at cutoff missing")
	}
	if _, ok := pos[ids[2]]; ok {
		t.Error("item resolved after cutoff included")
	}
	if _, ok := pos[open.ID]; ok {
		t.Error("open item included in resolved query")
	}

	got, err = s.List(ctx, item.Query{Resolved: true, Order: item.OrderResolvedDesc})
	if err != nil {
		t.Fatalf("List desc: %v", err)
	}
	pos = indexOf(got)
	if !(pos[ids[2]] < pos[ids[1]] && pos[ids[1]] < pos[ids[0]]) {
		t.Errorf("resolved desc positions = %d, %d, %d, want descending by resolved_at", pos[ids[2]], pos[ids[1]], pos[ids[0]])
	}

	got, err = s.List(ctx, item.Query{Resolved: false})
	if err != nil {
		t.Fatalf("List open: %v", err)
	}
	for _, it := range got {
		if it.Resolved {
			t.Errorf("resolved item %s in open list", it.ID)
		}
	}
}

func testDelete(t *testing.T, s item.Store) {
	ctx := context.Background()
	it := newItem("del", item.CategoryMedium, base)
	mustInsert(t, s, it)

	if ok, err := s.Delete(ctx, it.ID); err != nil || !ok {
		t.Fatalf("Delete = (%v, %v), want (true, nil)", ok, err)
	}
	if ok, err := s.Delete(ctx, it.ID); err != nil || ok {
		t.Fatalf("second Delete = (%v, %v), want (false, nil)", ok, err)
	}
	if _, ok, _ := s.Get(ctx, it.ID); ok {
		t.Error("item still present after Delete")
	}
}

func testConcurrentResolve(t *testing.T, s item.Store) {
	ctx := context.Background()
	it := newItem("conc", item.CategoryUrgent, base)
	mustInsert(t, s, it)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := range 16 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			ok, err := s.CompareAndSetResolved(ctx, it.ID, false, base.Add(time.Duration(n)*time.Minute))
			if err != nil {
				t.Errorf("CAS: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if n := wins.Load(); n != 1 {
		t.Errorf("CAS winners = %d, want 1", n)
	}
}
