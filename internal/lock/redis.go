package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/Shivanand-hulikatti/lecture-admission/internal/metrics"
)

// releaseScript deletes the lock and announces the release only when the
// caller still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    redis.call("PUBLISH", ARGV[2], ARGV[1])
    return redis.call("DEL", KEYS[1])
else
    return 0
end
`)

// ErrSubscriptionClosed is returned when the release channel closes while a
// caller is still waiting on it.
var ErrSubscriptionClosed = errors.New("lock: release subscription closed")

// Options bounds a single Acquire call.
type Options struct {
	// TTL is both the lock expiry and the maximum time spent waiting for a
	// release notification.
	TTL time.Duration
	// RetryDelay separates the immediate attempts.
	RetryDelay time.Duration
	// MaxRetries is the number of immediate attempts before waiting.
	MaxRetries int
}

// Lease identifies a held lock.
type Lease struct {
	Resource string
	Token    string
}

// Key returns the Redis key of the lock for resource.
func Key(resource string) string { return "lock:" + resource }

// Channel returns the pub/sub channel announcing releases of resource.
func Channel(resource string) string { return "lock:" + resource + ":released" }

// Redis implements the distributed lock on a Redis backend.
type Redis struct {
	client   redis.UniversalClient
	notifier Notifier
	log      *slog.Logger
}

// Option configures a Redis locker.
type Option func(*Redis)

// WithNotifier replaces the default Redis pub/sub notifier.
func WithNotifier(n Notifier) Option {
	return func(r *Redis) { r.notifier = n }
}

// WithLogger sets the logger used for cleanup failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Redis) { r.log = l }
}

// NewRedis returns a locker using client.
func NewRedis(client redis.UniversalClient, opts ...Option) *Redis {
	r := &Redis{client: client, log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	if r.notifier == nil {
		r.notifier = NewRedisNotifier(client)
	}
	return r
}

// Acquire tries to take the lock for resource. It reports false when the lock
// could not be obtained within the retry budget and a further opts.TTL of
// waiting. A release notification only triggers a new attempt; it never
// grants the lock by itself.
func (r *Redis) Acquire(ctx context.Context, resource string, opts Options) (Lease, bool, error) {
	if opts.TTL <= 0 {
		return Lease{}, false, fmt.Errorf("acquire lock %s: ttl must be positive", resource)
	}
	start := time.Now()
	lease := Lease{Resource: resource, Token: uuid.NewString()}

	for attempt := 1; attempt <= opts.MaxRetries; attempt++ {
		ok, err := r.tryLock(ctx, lease, opts.TTL)
		if err != nil {
			metrics.LockAcquisitions.WithLabelValues("error").Inc()
			return Lease{}, false, err
		}
		if ok {
			result := "retried"
			if attempt == 1 {
				result = "immediate"
			}
			observe(start, result)
			return lease, true, nil
		}
		if attempt < opts.MaxRetries {
			if err := sleep(ctx, opts.RetryDelay); err != nil {
				return Lease{}, false, err
			}
		}
	}

	return r.await(ctx, lease, opts.TTL, start)
}

// await subscribes to release notifications and re-attempts the lock on each
// one until ttl elapses. The subscription is opened before the next attempt so
// that a release racing with it is not missed.
func (r *Redis) await(ctx context.Context, lease Lease, ttl time.Duration, start time.Time) (Lease, bool, error) {
	sub, err := r.notifier.Subscribe(ctx, Channel(lease.Resource))
	if err != nil {
		metrics.LockAcquisitions.WithLabelValues("error").Inc()
		return Lease{}, false, err
	}
	defer func() {
		if err := sub.Close(); err != nil {
			r.log.Warn("close lock subscription", "resource", lease.Resource, "error", err)
		}
	}()

	timer := time.NewTimer(ttl)
	defer timer.Stop()

	for {
		ok, err := r.tryLock(ctx, lease, ttl)
		if err != nil {
			metrics.LockAcquisitions.WithLabelValues("error").Inc()
			return Lease{}, false, err
		}
		if ok {
			observe(start, "waited")
			return lease, true, nil
		}

		select {
		case _, open := <-sub.Channel():
			if !open {
				metrics.LockAcquisitions.WithLabelValues("error").Inc()
				return Lease{}, false, ErrSubscriptionClosed
			}
		case <-timer.C:
			observe(start, "timeout")
			return Lease{}, false, nil
		case <-ctx.Done():
			metrics.LockAcquisitions.WithLabelValues("error").Inc()
			return Lease{}, false, ctx.Err()
		}
	}
}

// Release frees the lock if it is still held with token. It reports whether
// the lock was released; a lock held by another owner is left untouched.
func (r *Redis) Release(ctx context.Context, resource, token string) (bool, error) {
	n, err := releaseScript.Run(ctx, r.client, []string{Key(resource)}, token, Channel(resource)).Int64()
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", resource, err)
	}
	return n == 1, nil
}

func (r *Redis) tryLock(ctx context.Context, lease Lease, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, Key(lease.Resource), lease.Token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", lease.Resource, err)
	}
	return ok, nil
}

func observe(start time.Time, result string) {
	metrics.LockAcquisitions.WithLabelValues(result).Inc()
	metrics.LockWait.Observe(time.Since(start).Seconds())
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
