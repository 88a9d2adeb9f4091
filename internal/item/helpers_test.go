package item_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/itemdesk/internal/item"
	"github.com/linnemanlabs/itemdesk/internal/item/memstore"
)

// roleMap implements item.RoleSource from a fixed table.
type roleMap map[string]item.Role

func (m roleMap) Role(_ context.Context, id string) (item.Role, error) {
	r, ok := m[id]
	if !ok {
		return "", item.ErrNotFound
	}
	return r, nil
}

// failingRoles always fails like an unreachable identity provider.
type failingRoles struct{}

func (failingRoles) Role(context.Context, string) (item.Role, error) {
	return "", errors.New("identity provider unreachable")
}

var (
	admin = item.Principal{ID: "admin-1", Role: item.RoleAdmin}
	user  = item.Principal{ID: "user-1", Role: item.RoleUser}
	roles = roleMap{admin.ID: item.RoleAdmin, user.ID: item.RoleUser}
)

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store *memstore.Store
	clock *clock
	svc   *item.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	clk := newClock()
	opts := item.Options{Now: clk.Now}
	sweeper := item.NewSweeper(store, item.SweeperConfig{}, nil, opts)
	return &fixture{
		store: store,
		clock: clk,
		svc:   item.NewService(store, roles, sweeper, nil, opts),
	}
}

func (f *fixture) create(t *testing.T, name string, c item.Category) *item.Item {
	t.Helper()
	it, err := f.svc.Create(context.Background(), user, item.NewItem{
		PersonName:  name,
		Description: "needs help with " + name,
		Category:    c,
	})
	if err != nil {
		t.Fatalf("Create(%q, %s): %v", name, c, err)
	}
	// distinct creation timestamps keep the scenarios readable
	f.clock.Advance(time.Second)
	return it
}

func (f *fixture) get(t *testing.T, id string) *item.Item {
	t.Helper()
	it, ok, err := f.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	if !ok {
		t.Fatalf("Get(%s): not found", id)
	}
	return it
}

func ids(items []*item.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.ID
	}
	return out
}
