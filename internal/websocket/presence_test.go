package websocket

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/harborapp/harbor/internal/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCounterStore is a map-backed CounterStore. Setting fail makes
// every operation error, simulating an unreachable store.
type fakeCounterStore struct {
	mu     sync.Mutex
	counts map[string]int64
	fail   bool
}

func newFakeCounterStore() *fakeCounterStore {
	return &fakeCounterStore{counts: make(map[string]int64)}
}

func (s *fakeCounterStore) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return 0, errors.New("store unreachable")
	}
	s.counts[key]++
	return s.counts[key], nil
}

func (s *fakeCounterStore) Decr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return 0, errors.New("store unreachable")
	}
	s.counts[key]--
	return s.counts[key], nil
}

func (s *fakeCounterStore) Set(ctx context.Context, key string, value interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store unreachable")
	}
	if n, ok := value.(int); ok {
		s.counts[key] = int64(n)
	}
	return nil
}

func (s *fakeCounterStore) GetInt(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return 0, errors.New("store unreachable")
	}
	n, ok := s.counts[key]
	if !ok {
		return 0, errors.New("redis: nil")
	}
	return n, nil
}

func (s *fakeCounterStore) MGet(ctx context.Context, keys ...string) ([]interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errors.New("store unreachable")
	}
	out := make([]interface{}, len(keys))
	for i, key := range keys {
		if n, ok := s.counts[key]; ok {
			out[i] = n
		}
	}
	return out, nil
}

func (s *fakeCounterStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("store unreachable")
	}
	return nil
}

func TestPresenceOnlineTransitionPublishedOnce(t *testing.T) {
	pub := &capturePublisher{}
	presence := NewPresenceStore(newFakeCounterStore(), pub)
	ctx := context.Background()

	n, err := presence.Connected(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Second connection: count goes up, no second transition
	n, err = presence.Connected(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	online := pub.byChannel(bus.ChannelUserOnline)
	require.Len(t, online, 1)

	var payload bus.PresencePayload
	require.NoError(t, online[0].DecodePayload(&payload))
	assert.Equal(t, "user-1", payload.UserID)
	assert.True(t, payload.Online)
}

func TestPresenceOfflineOnLastDisconnect(t *testing.T) {
	pub := &capturePublisher{}
	presence := NewPresenceStore(newFakeCounterStore(), pub)
	ctx := context.Background()

	_, _ = presence.Connected(ctx, "user-1")
	_, _ = presence.Connected(ctx, "user-1")

	n, err := presence.Disconnected(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, pub.byChannel(bus.ChannelUserOffline))

	n, err = presence.Disconnected(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
	assert.Len(t, pub.byChannel(bus.ChannelUserOffline), 1)
}

func TestPresenceCounterNeverNegative(t *testing.T) {
	pub := &capturePublisher{}
	store := newFakeCounterStore()
	presence := NewPresenceStore(store, pub)
	ctx := context.Background()

	// Decrement with no prior increment: floored at zero, absorbed
	n, err := presence.Disconnected(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	online, err := presence.IsOnline(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, online)
}

func TestPresenceBalancedChurn(t *testing.T) {
	pub := &capturePublisher{}
	presence := NewPresenceStore(newFakeCounterStore(), pub)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := presence.Connected(ctx, "user-1")
		require.NoError(t, err)
	}
	for i := 0; i < 5; i++ {
		_, err := presence.Disconnected(ctx, "user-1")
		require.NoError(t, err)
	}

	online, err := presence.IsOnline(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, online)

	// Exactly one online and one offline transition despite the churn
	assert.Len(t, pub.byChannel(bus.ChannelUserOnline), 1)
	assert.Len(t, pub.byChannel(bus.ChannelUserOffline), 1)
}

func TestPresenceIsOnlineMissingKey(t *testing.T) {
	presence := NewPresenceStore(newFakeCounterStore(), &capturePublisher{})

	// Unknown user, reachable store: definitively offline
	online, err := presence.IsOnline(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.False(t, online)
}

func TestPresenceFailsClosedOnStoreError(t *testing.T) {
	store := newFakeCounterStore()
	presence := NewPresenceStore(store, &capturePublisher{})
	ctx := context.Background()

	_, _ = presence.Connected(ctx, "user-1")
	store.fail = true

	_, err := presence.IsOnline(ctx, "user-1")
	assert.Error(t, err)

	// Bulk lookups error as a whole rather than guessing per user
	_, err = presence.AreOnline(ctx, []string{"user-1", "user-2"})
	assert.Error(t, err)
}

func TestPresenceAreOnline(t *testing.T) {
	presence := NewPresenceStore(newFakeCounterStore(), &capturePublisher{})
	ctx := context.Background()

	_, _ = presence.Connected(ctx, "online-user")

	result, err := presence.AreOnline(ctx, []string{"online-user", "offline-user"})
	require.NoError(t, err)
	assert.True(t, result["online-user"])
	assert.False(t, result["offline-user"])

	empty, err := presence.AreOnline(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
