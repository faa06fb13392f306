package websocket

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/harborapp/harbor/internal/bus"
	"github.com/harborapp/harbor/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	// Initialize logger for tests
	_ = logger.Initialize("error", "")
	os.Exit(m.Run())
}

// newTestClient builds a registered client with no transport attached.
// Messages land in c.send and are read back by the test.
func newTestClient(userID string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		ConnectionID: uuid.New().String(),
		AuthUserID:   userID,
		UserID:       userID,
		send:         make(chan []byte, sendBufferSize),
		ConnectedAt:  time.Now(),
		rateLimiter:  NewRateLimiter(10, 20),
		ctx:          ctx,
		cancel:       cancel,
		registered:   true,
	}
}

// recvMessage pops one queued frame off the client's send buffer.
func recvMessage(t *testing.T, c *Client) *Message {
	t.Helper()
	select {
	case data := <-c.send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return &msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

// capturePublisher records published events for assertions.
type capturePublisher struct {
	mu     sync.Mutex
	events []bus.Event
}

func (p *capturePublisher) Publish(ctx context.Context, evt bus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return nil
}

func (p *capturePublisher) all() []bus.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]bus.Event, len(p.events))
	copy(out, p.events)
	return out
}

func (p *capturePublisher) byChannel(channel string) []bus.Event {
	var out []bus.Event
	for _, evt := range p.all() {
		if evt.Channel == channel {
			out = append(out, evt)
		}
	}
	return out
}

func TestNewHub(t *testing.T) {
	hub := NewHub()
	assert.NotNil(t, hub)
	assert.NotNil(t, hub.clients)
	assert.NotNil(t, hub.allClients)
	assert.NotNil(t, hub.metrics)
}

func TestRateLimiter(t *testing.T) {
	// 5 per second with burst of 10
	rl := NewRateLimiter(5, 10)

	for i := 0; i < 10; i++ {
		assert.True(t, rl.Allow(), "Request %d should be allowed", i+1)
	}

	assert.False(t, rl.Allow(), "Request 11 should be denied")

	time.Sleep(300 * time.Millisecond)
	assert.True(t, rl.Allow(), "Request after wait should be allowed")
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := NewHub()
	c1 := newTestClient("user-1")
	c2 := newTestClient("user-1")

	assert.Equal(t, 1, hub.Register(c1))
	assert.Equal(t, 2, hub.Register(c2))
	assert.True(t, hub.IsUserOnline("user-1"))
	assert.Equal(t, 2, hub.GetUserConnectionCount("user-1"))

	assert.Equal(t, 1, hub.Unregister(c1))
	assert.True(t, hub.IsUserOnline("user-1"))

	assert.Equal(t, 0, hub.Unregister(c2))
	assert.False(t, hub.IsUserOnline("user-1"))
	assert.Equal(t, 0, hub.GetUserConnectionCount("user-1"))
}

func TestHubUnregisterIdempotent(t *testing.T) {
	hub := NewHub()
	c := newTestClient("user-1")

	hub.Register(c)
	assert.Equal(t, 0, hub.Unregister(c))
	// Second unregister must not panic or double-close the send channel
	assert.Equal(t, 0, hub.Unregister(c))
}

func TestHubSendToUserReachesAllConnections(t *testing.T) {
	hub := NewHub()
	c1 := newTestClient("user-1")
	c2 := newTestClient("user-1")
	other := newTestClient("user-2")
	hub.Register(c1)
	hub.Register(c2)
	hub.Register(other)

	delivered := hub.SendToUser("user-1", NewMessage(MessageTypeSystem, SystemPayload{Event: "test"}))
	assert.Equal(t, 2, delivered)

	assert.Equal(t, MessageTypeSystem, recvMessage(t, c1).Type)
	assert.Equal(t, MessageTypeSystem, recvMessage(t, c2).Type)
	assert.Empty(t, other.send)
}

func TestHubSendToUserNoConnections(t *testing.T) {
	hub := NewHub()
	// No connections anywhere: silent no-op, zero deliveries
	assert.Equal(t, 0, hub.SendToUser("ghost", NewMessage(MessageTypeSystem, nil)))
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub()
	c1 := newTestClient("user-1")
	c2 := newTestClient("user-2")
	hub.Register(c1)
	hub.Register(c2)

	delivered := hub.Broadcast(NewMessage(MessageTypeSystem, SystemPayload{Event: "announce"}))
	assert.Equal(t, 2, delivered)
	recvMessage(t, c1)
	recvMessage(t, c2)
}

func TestHubFullBufferDropsConnection(t *testing.T) {
	hub := NewHub()
	c := newTestClient("user-1")
	c.send = make(chan []byte, 1)
	hub.Register(c)

	msg := NewMessage(MessageTypeSystem, nil)
	assert.Equal(t, 1, hub.SendToUser("user-1", msg))

	// Buffer is now full: the push fails and the connection is marked
	// for closing instead of blocking the hub.
	assert.Equal(t, 0, hub.SendToUser("user-1", msg))
	assert.Eventually(t, func() bool {
		c.mu.RLock()
		defer c.mu.RUnlock()
		return c.closed
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, int64(1), hub.GetMetrics().ConnectionsDropped)
}

func TestHubLocalUserIDs(t *testing.T) {
	hub := NewHub()
	assert.Empty(t, hub.LocalUserIDs())

	hub.Register(newTestClient("a"))
	hub.Register(newTestClient("b"))

	users := hub.LocalUserIDs()
	assert.ElementsMatch(t, []string{"a", "b"}, users)
}

func TestHubShutdown(t *testing.T) {
	hub := NewHub()
	c := newTestClient("user-1")
	hub.Register(c)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, hub.Shutdown(ctx))

	// Shutdown notice was queued before the channel closed
	msg := recvMessage(t, c)
	assert.Equal(t, MessageTypeSystem, msg.Type)

	// New registrations are refused
	assert.Equal(t, 0, hub.Register(newTestClient("user-2")))
	assert.Equal(t, int64(0), hub.GetMetrics().ActiveConnections)
}

func TestSendDuringShutdownDoesNotPanic(t *testing.T) {
	hub := NewHub()
	clients := make([]*Client, 5)
	for i := range clients {
		clients[i] = newTestClient("user-1")
		hub.Register(clients[i])
	}

	// Hammer Send from concurrent goroutines, as live read pumps do
	// with pong replies, while Shutdown closes the send channels.
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
					_ = c.Send(NewMessage(MessageTypePong, PongPayload{}))
				}
			}
		}(c)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, hub.Shutdown(ctx))

	close(stop)
	wg.Wait()

	// Sends after shutdown fail cleanly instead of panicking
	for _, c := range clients {
		assert.Error(t, c.Send(NewMessage(MessageTypePong, PongPayload{})))
	}
}

func TestUnregisterDuringSendDoesNotPanic(t *testing.T) {
	hub := NewHub()
	c := newTestClient("user-1")
	hub.Register(c)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				_ = c.Send(NewMessage(MessageTypePong, PongPayload{}))
			}
		}
	}()

	hub.Unregister(c)

	close(stop)
	wg.Wait()

	assert.Error(t, c.Send(NewMessage(MessageTypePong, PongPayload{})))
}

func TestHubMetricsString(t *testing.T) {
	hub := NewHub()
	str := hub.GetMetrics().String()
	assert.Contains(t, str, "connections=0/0")
}

func TestNewMessageAndParsePayload(t *testing.T) {
	msg := NewMessage(MessageTypePing, PingPayload{ClientTime: 1234567890})
	assert.Equal(t, MessageTypePing, msg.Type)
	assert.False(t, msg.Timestamp.IsZero())

	var ping PingPayload
	require.NoError(t, msg.ParsePayload(&ping))
	assert.Equal(t, int64(1234567890), ping.ClientTime)
}

func TestNewErrorMessage(t *testing.T) {
	msg := NewErrorMessage("test_error", "Something went wrong")
	assert.Equal(t, MessageTypeError, msg.Type)

	var payload ErrorPayload
	require.NoError(t, msg.ParsePayload(&payload))
	assert.Equal(t, "test_error", payload.Code)
	assert.Equal(t, "Something went wrong", payload.Message)
}

func TestFlexibleTimeAcceptsBothFormats(t *testing.T) {
	var fromMillis FlexibleTime
	require.NoError(t, json.Unmarshal([]byte("1700000000000"), &fromMillis))
	assert.Equal(t, int64(1700000000000), fromMillis.UnixMilli())

	var fromString FlexibleTime
	require.NoError(t, json.Unmarshal([]byte(`"2024-01-02T03:04:05Z"`), &fromString))
	assert.Equal(t, 2024, fromString.Year())

	var bad FlexibleTime
	assert.Error(t, json.Unmarshal([]byte(`{"nope":1}`), &bad))
}

func TestMessageJSONRoundTrip(t *testing.T) {
	msg := NewMessage(bus.ChannelMessage, bus.MessagePayload{
		MessageID:  "msg-123",
		SenderID:   "user-1",
		ReceiverID: "user-2",
		Body:       "hello",
	})
	msg.ID = "evt-1"

	data, err := json.Marshal(msg)
	require.NoError(t, err)

	var parsed Message
	require.NoError(t, json.Unmarshal(data, &parsed))
	assert.Equal(t, bus.ChannelMessage, parsed.Type)
	assert.Equal(t, "evt-1", parsed.ID)

	var payload bus.MessagePayload
	require.NoError(t, parsed.ParsePayload(&payload))
	assert.Equal(t, "hello", payload.Body)
}
