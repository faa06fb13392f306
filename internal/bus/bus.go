// Package bus is the cross-process event fan-out: domain events are
// published by request handlers and delivered to every subscribed
// gateway over Redis pub/sub. Publishing is fire-and-forget; the
// returned error covers only the publish hop, never delivery.
package bus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/harborapp/harbor/internal/cache"
	"github.com/harborapp/harbor/internal/logger"
	"go.uber.org/zap"
)

// channelPrefix namespaces bus traffic in a shared Redis.
const channelPrefix = "harbor:events:"

// subscriberBuffer bounds how far a slow gateway may fall behind before
// events are dropped on the floor. Lost events are recovered by the
// client-initiated re-sync endpoints, not by the bus.
const subscriberBuffer = 256

// Publisher publishes domain events. Publish returns as soon as the
// event is handed to the transport.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
}

// Bus is a Publisher whose events can also be consumed.
type Bus interface {
	Publisher

	// Subscribe returns a channel carrying every event published on
	// the bus from this point on, in per-channel publish order. The
	// channel is closed when ctx is cancelled.
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// RedisBus fans events out across server processes via Redis pub/sub.
type RedisBus struct {
	redis *cache.RedisClient
}

// NewRedisBus creates a bus on the shared Redis connection.
func NewRedisBus(redis *cache.RedisClient) *RedisBus {
	return &RedisBus{redis: redis}
}

// Publish sends the event to every subscribed process. Fire-and-forget:
// no delivery confirmation exists or is implied.
func (b *RedisBus) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, channelPrefix+evt.Channel, data)
}

// Subscribe listens on every domain channel through a single pub/sub
// connection, which preserves per-channel FIFO ordering. There is no
// cross-channel ordering guarantee.
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	channels := Channels()
	prefixed := make([]string, len(channels))
	for i, ch := range channels {
		prefixed[i] = channelPrefix + ch
	}

	pubsub := b.redis.Subscribe(ctx, prefixed...)

	// Force the subscription to be established before returning so
	// callers never miss events published after Subscribe returns.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan Event, subscriberBuffer)

	go func() {
		defer close(out)
		defer pubsub.Close()

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var evt Event
				if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
					logger.Log.Warn("Dropping undecodable bus event",
						zap.String("redis_channel", msg.Channel),
						zap.Error(err))
					continue
				}
				select {
				case out <- evt:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Loopback is an in-process Bus used by tests and single-node runs. It
// preserves publish order and delivers only to subscribers registered
// before the publish, matching the Redis semantics the gateway relies
// on.
type Loopback struct {
	mu   sync.Mutex
	subs []chan Event
}

// NewLoopback creates an in-process bus.
func NewLoopback() *Loopback {
	return &Loopback{}
}

// Publish delivers the event to every current subscriber. A subscriber
// whose buffer is full loses the event, same as a lagging Redis
// consumer. Sends happen under the lock so a subscriber being torn
// down is never written to after close.
func (l *Loopback) Publish(ctx context.Context, evt Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, sub := range l.subs {
		select {
		case sub <- evt:
		default:
		}
	}
	return nil
}

// Subscribe registers a new subscriber.
func (l *Loopback) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, subscriberBuffer)

	l.mu.Lock()
	l.subs = append(l.subs, ch)
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		for i, sub := range l.subs {
			if sub == ch {
				l.subs = append(l.subs[:i], l.subs[i+1:]...)
				break
			}
		}
		close(ch)
		l.mu.Unlock()
	}()

	return ch, nil
}

var (
	_ Bus = (*RedisBus)(nil)
	_ Bus = (*Loopback)(nil)
)
