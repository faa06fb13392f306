package websocket

import (
	"context"
	"fmt"
	"time"

	"github.com/harborapp/harbor/internal/bus"
	"github.com/harborapp/harbor/internal/logger"
	"github.com/harborapp/harbor/internal/metrics"
	"go.uber.org/zap"
)

const (
	onlineKeyPrefix = "presence:online:"

	// Counters expire unless refreshed, so connections stranded by a
	// crashed process stop counting within this window.
	presenceTTL = 5 * time.Minute

	// How often the janitor refreshes TTLs for local connections.
	presenceRefreshPeriod = time.Minute
)

// CounterStore is the slice of the shared store presence needs: single
// key atomic counters. Satisfied by cache.RedisClient; tests use a
// map-backed fake.
type CounterStore interface {
	Incr(ctx context.Context, key string) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)
	Set(ctx context.Context, key string, value interface{}) error
	GetInt(ctx context.Context, key string) (int64, error)
	MGet(ctx context.Context, keys ...string) ([]interface{}, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// PresenceStore derives online/offline state from the count of live
// connections across all processes, held as one shared counter per
// user. All mutations are single-key atomic increments and decrements;
// transient drift self-heals via the TTL janitor, so no locking or
// transactions are needed.
type PresenceStore struct {
	store CounterStore
	bus   bus.Publisher
}

// NewPresenceStore creates a presence store on the shared counters.
func NewPresenceStore(store CounterStore, publisher bus.Publisher) *PresenceStore {
	return &PresenceStore{store: store, bus: publisher}
}

func onlineKey(userID string) string {
	return onlineKeyPrefix + userID
}

// Connected records a new live connection for the user. A 0 to 1
// transition publishes userOnline.
func (p *PresenceStore) Connected(ctx context.Context, userID string) (int64, error) {
	n, err := p.store.Incr(ctx, onlineKey(userID))
	if err != nil {
		p.countError()
		return 0, fmt.Errorf("presence incr for %s: %w", userID, err)
	}
	if err := p.store.Expire(ctx, onlineKey(userID), presenceTTL); err != nil {
		p.countError()
	}

	if n == 1 {
		p.publishTransition(ctx, userID, true)
	}
	return n, nil
}

// Disconnected records a closed connection for the user. A 1 to 0
// transition publishes userOffline. The counter never goes below zero;
// an extra decrement (double deregister) is floored and absorbed.
func (p *PresenceStore) Disconnected(ctx context.Context, userID string) (int64, error) {
	n, err := p.store.Decr(ctx, onlineKey(userID))
	if err != nil {
		p.countError()
		return 0, fmt.Errorf("presence decr for %s: %w", userID, err)
	}
	if n < 0 {
		if err := p.store.Set(ctx, onlineKey(userID), 0); err != nil {
			p.countError()
		}
		return 0, nil
	}

	if n == 0 {
		p.publishTransition(ctx, userID, false)
	}
	return n, nil
}

// IsOnline reports whether the user has at least one live connection
// anywhere. An unreachable store returns an error; callers must render
// "unknown" rather than guessing.
func (p *PresenceStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := p.store.GetInt(ctx, onlineKey(userID))
	if err != nil {
		if isNilReply(err) {
			return false, nil
		}
		p.countError()
		return false, fmt.Errorf("presence read for %s: %w", userID, err)
	}
	return n > 0, nil
}

// AreOnline resolves presence for many users in one round trip. On
// store failure the whole query errors; partial guessing is worse than
// an honest unknown.
func (p *PresenceStore) AreOnline(ctx context.Context, userIDs []string) (map[string]bool, error) {
	if len(userIDs) == 0 {
		return map[string]bool{}, nil
	}

	keys := make([]string, len(userIDs))
	for i, id := range userIDs {
		keys[i] = onlineKey(id)
	}

	vals, err := p.store.MGet(ctx, keys...)
	if err != nil {
		p.countError()
		return nil, fmt.Errorf("presence bulk read: %w", err)
	}

	result := make(map[string]bool, len(userIDs))
	for i, id := range userIDs {
		result[id] = counterValue(vals[i]) > 0
	}
	return result, nil
}

// RefreshLocal extends the TTL for every user with a connection on
// this process. Run periodically so healthy counters outlive the TTL
// while stranded ones expire.
func (p *PresenceStore) RefreshLocal(ctx context.Context, hub *Hub) {
	for _, userID := range hub.LocalUserIDs() {
		if err := p.store.Expire(ctx, onlineKey(userID), presenceTTL); err != nil {
			p.countError()
			logger.Log.Warn("Presence TTL refresh failed",
				logger.WithUserID(userID),
				zap.Error(err))
		}
	}
}

// RunJanitor refreshes local presence TTLs until ctx is cancelled.
func (p *PresenceStore) RunJanitor(ctx context.Context, hub *Hub) {
	ticker := time.NewTicker(presenceRefreshPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RefreshLocal(ctx, hub)
		}
	}
}

func (p *PresenceStore) publishTransition(ctx context.Context, userID string, online bool) {
	channel := bus.ChannelUserOnline
	if !online {
		channel = bus.ChannelUserOffline
	}

	evt, err := bus.NewBroadcast(channel, bus.PresencePayload{
		UserID:     userID,
		Online:     online,
		LastSeenAt: time.Now().UTC(),
	})
	if err != nil {
		logger.Log.Error("Build presence event", zap.Error(err))
		return
	}

	if err := p.bus.Publish(ctx, evt); err != nil {
		logger.Log.Warn("Publish presence transition failed",
			logger.WithUserID(userID),
			logger.WithChannel(channel),
			zap.Error(err))
	}
}

func (p *PresenceStore) countError() {
	if m := metrics.Get(); m != nil {
		m.PresenceErrors.Inc()
	}
}

// counterValue coerces an MGET reply entry to a count. Missing keys
// come back nil and count as zero.
func counterValue(v interface{}) int64 {
	switch val := v.(type) {
	case nil:
		return 0
	case int64:
		return val
	case string:
		var n int64
		_, err := fmt.Sscan(val, &n)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}

// isNilReply reports whether the error is a missing-key reply rather
// than a store failure.
func isNilReply(err error) bool {
	return err != nil && err.Error() == "redis: nil"
}
