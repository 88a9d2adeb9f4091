// Package lease implements a Redis-backed mutual exclusion lease so only one
// replica runs the retention sweep per tick.
package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis key guarding the sweep.
const DefaultKey = "itemdesk:lease:sweep"

// releaseScript deletes the key only while it still holds our token, so an
// expired lease that another replica re-acquired is left alone.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
	return redis.call('DEL', KEYS[1])
end
return 0
`)

// ErrLost is returned by release when the lease expired before it was released.
var ErrLost = errors.New("lease lost before release")

// Lease acquires a named Redis lock. It implements item.Locker.
type Lease struct {
	client redis.UniversalClient
	key    string
}

// New returns a Lease on key. An empty key uses DefaultKey.
func New(client redis.UniversalClient, key string) *Lease {
	if key == "" {
		key = DefaultKey
	}
	return &Lease{client: client, key: key}
}

// TryLock sets the key with SET NX PX and a fresh owner token. ok is false
// when another owner holds the lease. The lease expires after ttl if release
// is never called.
func (l *Lease) TryLock(ctx context.Context, ttl time.Duration) (func(context.Context) error, bool, error) {
	if ttl <= 0 {
		return nil, false, fmt.Errorf("lease %s: ttl must be positive", l.key)
	}
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lease %s: acquire: %w", l.key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		n, err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Int()
		if err != nil {
			return fmt.Errorf("lease %s: release: %w", l.key, err)
		}
		if n == 0 {
			return fmt.Errorf("lease %s: %w", l.key, ErrLost)
		}
		return nil
	}
	return release, true, nil
}

// Holder returns the token currently holding the lease, or "" when free.
func (l *Lease) Holder(ctx context.Context) (string, error) {
	v, err := l.client.Get(ctx, l.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lease %s: get: %w", l.key, err)
	}
	return v, nil
}
