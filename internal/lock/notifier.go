package lock

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Notifier opens subscriptions to release notifications.
type Notifier interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

// Subscription delivers release notifications for one channel until closed.
type Subscription interface {
	Channel() <-chan *redis.Message
	Close() error
}

// RedisNotifier implements Notifier with Redis pub/sub.
type RedisNotifier struct {
	client redis.UniversalClient
}

// NewRedisNotifier returns a Notifier using client.
func NewRedisNotifier(client redis.UniversalClient) *RedisNotifier {
	return &RedisNotifier{client: client}
}

// Subscribe returns once Redis has confirmed the subscription, so a publish
// issued after it returns is guaranteed to be delivered.
func (n *RedisNotifier) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := n.client.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	return &redisSubscription{ps: ps, ch: ps.Channel()}, nil
}

type redisSubscription struct {
	ps *redis.PubSub
	ch <-chan *redis.Message
}

func (s *redisSubscription) Channel() <-chan *redis.Message { return s.ch }

func (s *redisSubscription) Close() error { return s.ps.Close() }
