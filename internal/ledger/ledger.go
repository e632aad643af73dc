// Package ledger keeps the remaining-seat counter of each lecture in Redis.
//
// The ledger does not enforce a floor of zero. A caller that sees a negative
// value from Decrement must Increment immediately and reject the attempt.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrNotFound is returned by Remaining when no counter exists for a resource.
var ErrNotFound = errors.New("ledger: entry not found")

// restoreScript returns a seat only while the counter still exists.
var restoreScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return false
end
return redis.call("INCR", KEYS[1])
`)

// Ledger stores one integer counter per resource under "<resource>:capacity".
type Ledger struct {
	client redis.Cmdable
}

// New returns a Ledger backed by client.
func New(client redis.Cmdable) *Ledger {
	return &Ledger{client: client}
}

// Key returns the Redis key holding the counter for resource.
func Key(resource string) string {
	return resource + ":capacity"
}

// Initialize sets the counter to capacity, overwriting any previous value.
func (l *Ledger) Initialize(ctx context.Context, resource string, capacity int) error {
	if err := l.client.Set(ctx, Key(resource), capacity, 0).Err(); err != nil {
		return fmt.Errorf("initialize ledger %s: %w", resource, err)
	}
	return nil
}

// Decrement reserves one seat and returns the remaining count.
func (l *Ledger) Decrement(ctx context.Context, resource string) (int64, error) {
	n, err := l.client.Decr(ctx, Key(resource)).Result()
	if err != nil {
		return 0, fmt.Errorf("decrement ledger %s: %w", resource, err)
	}
	return n, nil
}

// Increment returns one seat and reports the remaining count.
func (l *Ledger) Increment(ctx context.Context, resource string) (int64, error) {
	n, err := l.client.Incr(ctx, Key(resource)).Result()
	if err != nil {
		return 0, fmt.Errorf("increment ledger %s: %w", resource, err)
	}
	return n, nil
}

// Restore returns one seat if the counter still exists and reports whether it
// did. Compensations that may run after the lecture was removed use it so that
// a deleted lecture never gets its counter back.
func (l *Ledger) Restore(ctx context.Context, resource string) (int64, bool, error) {
	n, err := restoreScript.Run(ctx, l.client, []string{Key(resource)}).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("restore ledger %s: %w", resource, err)
	}
	return n, true, nil
}

// Remove deletes the counter. Removing a missing counter is not an error.
func (l *Ledger) Remove(ctx context.Context, resource string) error {
	if err := l.client.Del(ctx, Key(resource)).Err(); err != nil {
		return fmt.Errorf("remove ledger %s: %w", resource, err)
	}
	return nil
}

// Remaining reads the counter without modifying it.
func (l *Ledger) Remaining(ctx context.Context, resource string) (int64, error) {
	n, err := l.client.Get(ctx, Key(resource)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read ledger %s: %w", resource, err)
	}
	return n, nil
}
