// Package notify provides an optional, Redis-backed signal the Publisher
// can use to cut a backoff sleep short (spec §4.F). Adapted from the
// teacher's queue.RedisNotifier: same PUBLISH/SUBSCRIBE shape, repurposed
// from a multi-instance dequeue wakeup to a single retry-wait interrupt.
// Purely advisory — the Publisher retries on its own timer identically
// with no Interrupter wired in.
package notify

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/oriys/taskworker/internal/obslog"
)

const redisChannel = "taskworker:publish:retry"

// RedisInterrupter implements publish.Interrupter over a Redis pub/sub
// channel: any message published to redisChannel by another process (or an
// operator's redis-cli PUBLISH) wakes every worker currently backing off a
// failed publish.
type RedisInterrupter struct {
	client *redis.Client
	pubsub *redis.PubSub
}

// NewRedisInterrupter subscribes to the retry-wake channel immediately; the
// subscription lives for the process lifetime.
func NewRedisInterrupter(ctx context.Context, client *redis.Client) *RedisInterrupter {
	return &RedisInterrupter{client: client, pubsub: client.Subscribe(ctx, redisChannel)}
}

// Wait blocks for up to max, returning early (true) if a wake message
// arrives on the channel first.
func (r *RedisInterrupter) Wait(ctx context.Context, max time.Duration) bool {
	timer := time.NewTimer(max)
	defer timer.Stop()

	msgCh := r.pubsub.Channel()
	select {
	case <-msgCh:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Wake publishes a retry-wake signal, notifying every worker currently in a
// backoff sleep to retry immediately.
func (r *RedisInterrupter) Wake(ctx context.Context) error {
	if err := r.client.Publish(ctx, redisChannel, "1").Err(); err != nil {
		obslog.Op().Warn("notify: failed to publish retry wake", "error", err)
		return err
	}
	return nil
}

// Close releases the underlying subscription.
func (r *RedisInterrupter) Close() error {
	return r.pubsub.Close()
}
