package lease

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linnemanlabs/itemdesk/internal/item"
)

var _ item.Locker = (*Lease)(nil)

func getRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("ITEMDESK_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ITEMDESK_TEST_REDIS_ADDR not set, skipping integration test")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func testKey(t *testing.T) string {
	return "itemdesk:test:" + t.Name() + ":" + time.Now().Format("150405.000000")
}

func TestNew_DefaultKey(t *testing.T) {
	t.Parallel()

	if l := New(nil, ""); l.key != DefaultKey {
		t.Errorf("key = %q, want %q", l.key, DefaultKey)
	}
}

func TestTryLock_RejectsZeroTTL(t *testing.T) {
	t.Parallel()

	if _, _, err := New(nil, "k").TryLock(context.Background(), 0); err == nil {
		t.Fatal("expected error for zero ttl")
	}
}

func TestTryLock_Exclusive(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	l := New(client, testKey(t))

	release, ok, err := l.TryLock(ctx, time.Minute)
	if err != nil || !ok {
		t.Fatalf("first TryLock = (%v, %v), want (true, nil)", ok, err)
	}

	if _, ok, err := l.TryLock(ctx, time.Minute); err != nil || ok {
		t.Fatalf("second TryLock = (%v, %v), want (false, nil)", ok, err)
	}

	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if h, _ := l.Holder(ctx); h != "" {
		t.Errorf("holder after release = %q, want empty", h)
	}

	release, ok, err = l.TryLock(ctx, time.Minute)
	if err != nil || !ok {
		t.Fatalf("TryLock after release = (%v, %v), want (true, nil)", ok, err)
	}
	_ = release(ctx)
}

func TestRelease_DoesNotStealReacquiredLease(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	l := New(client, testKey(t))

	stale, ok, err := l.TryLock(ctx, 50*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("TryLock = (%v, %v)", ok, err)
	}
	time.Sleep(120 * time.Millisecond)

	fresh, ok, err := l.TryLock(ctx, time.Minute)
	if err != nil || !ok {
		t.Fatalf("TryLock after expiry = (%v, %v)", ok, err)
	}
	defer func() { _ = fresh(ctx) }()

	if err := stale(ctx); !errors.Is(err, ErrLost) {
		t.Fatalf("stale release = %v, want ErrLost", err)
	}
	if h, _ := l.Holder(ctx); h == "" {
		t.Error("stale release removed the new holder's lease")
	}
}

func TestTryLock_ConcurrentSingleWinner(t *testing.T) {
	client := getRedisClient(t)
	ctx := context.Background()
	key := testKey(t)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok, err := New(client, key).TryLock(ctx, time.Minute)
			if err != nil {
				t.Errorf("TryLock: %v", err)
				return
			}
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	client.Del(ctx, key)

	if n := wins.Load(); n != 1 {
		t.Errorf("winners = %d, want 1", n)
	}
}
