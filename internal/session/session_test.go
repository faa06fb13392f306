package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/harborapp/harbor/internal/logger"
	wire "github.com/harborapp/harbor/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	_ = logger.Initialize("error", "")
	os.Exit(m.Run())
}

// testServer speaks just enough of the server protocol: it acks
// register frames and can be told to drop the next N connections right
// after the ack, which is how the reconnect tests force transport
// failures.
type testServer struct {
	srv *httptest.Server

	mu        sync.Mutex
	registers int
	pings     int
	conns     []*websocket.Conn
	dropNext  int
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{}
	ts.srv = httptest.NewServer(http.HandlerFunc(ts.handle))
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) url() string {
	return "ws" + strings.TrimPrefix(ts.srv.URL, "http")
}

func (ts *testServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}

	ts.mu.Lock()
	ts.conns = append(ts.conns, conn)
	ts.mu.Unlock()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg wire.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case wire.MessageTypeRegister:
			ts.mu.Lock()
			ts.registers++
			drop := ts.dropNext > 0
			if drop {
				ts.dropNext--
			}
			ts.mu.Unlock()

			ack, _ := json.Marshal(wire.NewMessage(wire.MessageTypeRegistered, nil))
			if err := conn.Write(ctx, websocket.MessageText, ack); err != nil {
				return
			}

			if drop {
				_ = conn.Close(websocket.StatusGoingAway, "dropped by test")
				return
			}

		case wire.MessageTypePing:
			ts.mu.Lock()
			ts.pings++
			ts.mu.Unlock()
		}
	}
}

func (ts *testServer) registerCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.registers
}

func (ts *testServer) pingCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.pings
}

// push sends a frame on the most recent live connection.
func (ts *testServer) push(t *testing.T, msgType string, payload interface{}) {
	t.Helper()
	ts.mu.Lock()
	require.NotEmpty(t, ts.conns)
	conn := ts.conns[len(ts.conns)-1]
	ts.mu.Unlock()

	data, err := json.Marshal(wire.NewMessage(msgType, payload))
	require.NoError(t, err)
	require.NoError(t, conn.Write(context.Background(), websocket.MessageText, data))
}

func fastConfig(url string) Config {
	return Config{
		URL:               url,
		UserID:            "user-1",
		HeartbeatInterval: 50 * time.Millisecond,
		BackoffBase:       10 * time.Millisecond,
		BackoffCap:        50 * time.Millisecond,
		MaxAttempts:       10,
	}
}

func TestBackoffSchedule(t *testing.T) {
	base := time.Second
	limit := 5 * time.Second

	assert.Equal(t, 1*time.Second, backoff(base, limit, 1))
	assert.Equal(t, 2*time.Second, backoff(base, limit, 2))
	assert.Equal(t, 4*time.Second, backoff(base, limit, 3))
	assert.Equal(t, 5*time.Second, backoff(base, limit, 4), "capped")
	assert.Equal(t, 5*time.Second, backoff(base, limit, 10), "stays capped")
}

func TestConnectRegistersAndReceivesEvents(t *testing.T) {
	ts := newTestServer(t)
	s := New(fastConfig(ts.url()))

	received := make(chan json.RawMessage, 1)
	s.On("message", func(payload json.RawMessage) {
		received <- payload
	})

	require.NoError(t, s.Connect(context.Background()))
	defer s.Close()

	assert.Equal(t, StateConnected, s.State())
	assert.Equal(t, 1, ts.registerCount())

	ts.push(t, "message", map[string]string{"body": "hello"})

	select {
	case payload := <-received:
		var got map[string]string
		require.NoError(t, json.Unmarshal(payload, &got))
		assert.Equal(t, "hello", got["body"])
	case <-time.After(2 * time.Second):
		t.Fatal("event never dispatched")
	}
}

func TestEmitWhileDisconnected(t *testing.T) {
	s := New(fastConfig("ws://127.0.0.1:0"))
	err := s.Emit("userTyping", map[string]string{"to_user_id": "bob"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestReconnectReRegisters(t *testing.T) {
	ts := newTestServer(t)
	ts.mu.Lock()
	ts.dropNext = 2
	ts.mu.Unlock()

	s := New(fastConfig(ts.url()))
	require.NoError(t, s.Connect(context.Background()))
	defer s.Close()

	// The first two transports die right after the ack; the session
	// must come back on the third with a fresh register each time.
	require.Eventually(t, func() bool {
		return ts.registerCount() == 3 && s.State() == StateConnected
	}, 5*time.Second, 20*time.Millisecond)
}

func TestReconnectGivesUpAfterMaxAttempts(t *testing.T) {
	ts := newTestServer(t)
	cfg := fastConfig(ts.url())
	cfg.MaxAttempts = 2

	s := New(cfg)
	require.NoError(t, s.Connect(context.Background()))
	defer s.Close()

	// Kill the server so every reconnect attempt fails
	ts.srv.CloseClientConnections()
	ts.srv.Close()

	require.Eventually(t, func() bool {
		return s.State() == StateDisconnected
	}, 5*time.Second, 20*time.Millisecond)
}

func TestHeartbeatKeepsTicking(t *testing.T) {
	ts := newTestServer(t)
	s := New(fastConfig(ts.url()))
	require.NoError(t, s.Connect(context.Background()))
	defer s.Close()

	require.Eventually(t, func() bool {
		return ts.pingCount() >= 2
	}, 3*time.Second, 20*time.Millisecond)
}

func TestOnUnsubscribe(t *testing.T) {
	ts := newTestServer(t)
	s := New(fastConfig(ts.url()))

	var calls int
	var mu sync.Mutex
	off := s.On("notification", func(json.RawMessage) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	require.NoError(t, s.Connect(context.Background()))
	defer s.Close()

	ts.push(t, "notification", map[string]string{"id": "n1"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return calls == 1
	}, 2*time.Second, 10*time.Millisecond)

	off()
	ts.push(t, "notification", map[string]string{"id": "n2"})
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestConnectTwiceRejected(t *testing.T) {
	ts := newTestServer(t)
	s := New(fastConfig(ts.url()))
	require.NoError(t, s.Connect(context.Background()))
	defer s.Close()

	assert.Error(t, s.Connect(context.Background()))
}

func TestCloseIdempotent(t *testing.T) {
	ts := newTestServer(t)
	s := New(fastConfig(ts.url()))
	require.NoError(t, s.Connect(context.Background()))

	s.Close()
	s.Close()
	assert.Equal(t, StateDisconnected, s.State())
}
