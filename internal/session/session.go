// Package session is the client-side counterpart of the realtime
// layer: one Session owns one logical connection to the server,
// re-establishing the transport and re-registering after drops so
// callers only ever deal with event handlers.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/harborapp/harbor/internal/logger"
	wire "github.com/harborapp/harbor/internal/websocket"
	"go.uber.org/zap"
)

// State is where the session is in its connection lifecycle.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

const (
	defaultHeartbeatInterval = 25 * time.Second
	defaultBackoffBase       = time.Second
	defaultBackoffCap        = 5 * time.Second
	defaultMaxAttempts       = 10

	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
)

// ErrNotConnected is returned by Emit when no live connection exists.
var ErrNotConnected = errors.New("session not connected")

// Config configures a Session. Zero-valued tuning fields fall back to
// defaults.
type Config struct {
	// URL of the WebSocket endpoint, e.g. wss://host/ws
	URL string

	// Token authenticates the upgrade request
	Token string

	// UserID must match the identity behind Token; it is re-sent in a
	// register message after every (re)connect
	UserID string

	HeartbeatInterval time.Duration
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	MaxAttempts       int
}

func (c *Config) applyDefaults() {
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = defaultHeartbeatInterval
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = defaultBackoffBase
	}
	if c.BackoffCap == 0 {
		c.BackoffCap = defaultBackoffCap
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
}

// Handler receives the payload of one pushed event.
type Handler func(payload json.RawMessage)

type handlerEntry struct {
	id int
	fn Handler
}

// Session maintains one logical connection. Heartbeating and
// reconnection run as independent loops: the heartbeat ticker never
// drives reconnect decisions and keeps ticking across transport
// generations, simply skipping beats while no connection exists.
type Session struct {
	cfg Config

	mu       sync.RWMutex
	state    State
	conn     *websocket.Conn
	handlers map[string][]handlerEntry
	nextID   int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// closed distinguishes a deliberate Close from a transport drop
	closed bool
}

// New creates a session; no I/O happens until Connect.
func New(cfg Config) *Session {
	cfg.applyDefaults()
	return &Session{
		cfg:      cfg,
		state:    StateDisconnected,
		handlers: make(map[string][]handlerEntry),
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// On subscribes fn to pushed events of the given type and returns an
// unsubscribe func. Handlers run on the session's read goroutine.
func (s *Session) On(eventType string, fn Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.handlers[eventType] = append(s.handlers[eventType], handlerEntry{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		entries := s.handlers[eventType]
		for i, e := range entries {
			if e.id == id {
				s.handlers[eventType] = append(entries[:i], entries[i+1:]...)
				break
			}
		}
	}
}

// Connect dials, registers, and starts the read and heartbeat loops.
// It returns once the register handshake completes; after that the
// session keeps itself connected until Close.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateDisconnected {
		s.mu.Unlock()
		return fmt.Errorf("connect from state %q", s.state)
	}
	s.state = StateConnecting
	s.closed = false
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.mu.Unlock()

	conn, err := s.dialAndRegister(ctx)
	if err != nil {
		s.setState(StateDisconnected)
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.state = StateConnected
	s.mu.Unlock()

	s.wg.Add(2)
	go s.readLoop(conn)
	go s.heartbeatLoop()
	return nil
}

// Close tears the session down. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = StateDisconnected
	conn := s.conn
	s.conn = nil
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "client closing")
	}
	s.wg.Wait()
}

// Emit sends a client message upstream. While disconnected or
// reconnecting it warns and drops the message; callers needing
// delivery guarantees must use the HTTP API instead.
func (s *Session) Emit(msgType string, payload interface{}) error {
	s.mu.RLock()
	conn := s.conn
	state := s.state
	s.mu.RUnlock()

	if state != StateConnected || conn == nil {
		logger.Log.Warn("Emit while not connected, dropping",
			zap.String("type", msgType),
			zap.String("state", string(state)))
		return ErrNotConnected
	}

	return s.write(conn, wire.NewMessage(msgType, payload))
}

func (s *Session) write(conn *websocket.Conn, msg *wire.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// dialAndRegister establishes one transport generation: dial, send
// register, wait for the registered ack. Frames arriving before the
// ack are dispatched normally.
func (s *Session) dialAndRegister(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	url := s.cfg.URL
	if s.cfg.Token != "" {
		url += "?token=" + s.cfg.Token
	}

	conn, _, err := websocket.Dial(dialCtx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.cfg.URL, err)
	}

	if err := s.write(conn, wire.NewMessage(wire.MessageTypeRegister, wire.RegisterPayload{
		UserID: s.cfg.UserID,
	})); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "register write failed")
		return nil, err
	}

	ackCtx, ackCancel := context.WithTimeout(ctx, handshakeTimeout)
	defer ackCancel()

	for {
		_, data, err := conn.Read(ackCtx)
		if err != nil {
			_ = conn.Close(websocket.StatusInternalError, "register ack failed")
			return nil, fmt.Errorf("waiting for register ack: %w", err)
		}

		var msg wire.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == wire.MessageTypeRegistered {
			return conn, nil
		}
		if msg.Type == wire.MessageTypeError {
			_ = conn.Close(websocket.StatusNormalClosure, "register rejected")
			return nil, fmt.Errorf("register rejected: %s", string(msg.Payload))
		}
		s.dispatch(&msg)
	}
}

// readLoop consumes one transport generation. When the transport dies
// and the session was not deliberately closed, it hands off to the
// reconnect loop.
func (s *Session) readLoop(conn *websocket.Conn) {
	defer s.wg.Done()

	for {
		_, data, err := conn.Read(s.ctx)
		if err != nil {
			break
		}

		var msg wire.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Log.Warn("Undecodable frame from server", zap.Error(err))
			continue
		}
		s.dispatch(&msg)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.state = StateReconnecting
	s.conn = nil
	s.mu.Unlock()

	s.reconnect()
}

// reconnect retries with exponential backoff until a transport comes
// up, the attempt budget is spent, or the session is closed. Every
// successful reconnect re-registers: server-side connection state died
// with the old transport.
func (s *Session) reconnect() {
	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		wait := backoff(s.cfg.BackoffBase, s.cfg.BackoffCap, attempt)

		select {
		case <-s.ctx.Done():
			return
		case <-time.After(wait):
		}

		conn, err := s.dialAndRegister(s.ctx)
		if err != nil {
			logger.Log.Warn("Reconnect attempt failed",
				zap.Int("attempt", attempt),
				zap.Error(err))
			continue
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = conn.Close(websocket.StatusNormalClosure, "client closing")
			return
		}
		s.conn = conn
		s.state = StateConnected
		s.mu.Unlock()

		logger.Log.Info("Reconnected", zap.Int("attempt", attempt))

		s.wg.Add(1)
		go s.readLoop(conn)
		return
	}

	logger.Log.Error("Reconnect attempts exhausted",
		zap.Int("attempts", s.cfg.MaxAttempts))
	s.setState(StateDisconnected)
}

// heartbeatLoop sends application-level pings while connected. It runs
// for the life of the session, not of any one transport, and never
// triggers reconnects itself: a dead transport surfaces in readLoop.
func (s *Session) heartbeatLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.mu.RLock()
			conn := s.conn
			state := s.state
			s.mu.RUnlock()

			if state != StateConnected || conn == nil {
				continue
			}

			err := s.write(conn, wire.NewMessage(wire.MessageTypePing, wire.PingPayload{
				ClientTime: time.Now().UnixMilli(),
			}))
			if err != nil {
				logger.Log.Debug("Heartbeat write failed", zap.Error(err))
			}
		}
	}
}

func (s *Session) dispatch(msg *wire.Message) {
	if msg.Type == wire.MessageTypePong {
		return
	}

	s.mu.RLock()
	entries := make([]handlerEntry, len(s.handlers[msg.Type]))
	copy(entries, s.handlers[msg.Type])
	s.mu.RUnlock()

	for _, e := range entries {
		e.fn(msg.Payload)
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// backoff returns the wait before the given 1-based attempt, doubling
// from base and capped at limit.
func backoff(base, limit time.Duration, attempt int) time.Duration {
	wait := base
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= limit {
			return limit
		}
	}
	if wait > limit {
		return limit
	}
	return wait
}
