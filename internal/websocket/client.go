package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/harborapp/harbor/internal/logger"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// A connection that produces no frame (pong included) within this
	// window is treated as dead even if no close event ever fires.
	pongWait = 60 * time.Second

	// Send pings with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// A connection must send register within this window after the
	// upgrade or it is dropped.
	registerWait = 30 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	// Send buffer size
	sendBufferSize = 256
)

// Client represents a single WebSocket connection. It is owned by the
// Hub on the process that accepted it.
type Client struct {
	conn *websocket.Conn

	hub     *Hub
	gateway *Gateway

	// ConnectionID identifies this connection in logs and metrics
	ConnectionID string

	// AuthUserID is the identity proven at upgrade time (JWT)
	AuthUserID string

	// UserID is bound by the register message; empty until then
	UserID string

	// Buffered channel of outbound messages
	send chan []byte

	ConnectedAt     time.Time
	LastHeartbeatAt time.Time
	RemoteAddr      string
	UserAgent       string

	rateLimiter *RateLimiter

	registerTimer *time.Timer

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	registered bool
	closed     bool
	sendClosed bool
}

// RateLimiter implements a simple token bucket rate limiter
type RateLimiter struct {
	tokens    float64
	maxTokens float64
	refill    float64
	lastTime  time.Time
	mu        sync.Mutex
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(maxPerSecond, burst int) *RateLimiter {
	return &RateLimiter{
		tokens:    float64(burst),
		maxTokens: float64(burst),
		refill:    float64(maxPerSecond),
		lastTime:  time.Now(),
	}
}

// Allow checks if an action is allowed and consumes a token
func (r *RateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(r.lastTime).Seconds()
	r.lastTime = now

	r.tokens += elapsed * r.refill
	if r.tokens > r.maxTokens {
		r.tokens = r.maxTokens
	}

	if r.tokens >= 1 {
		r.tokens--
		return true
	}
	return false
}

// NewClient creates a Client for an accepted connection.
func NewClient(gateway *Gateway, conn *websocket.Conn, authUserID string) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		conn:         conn,
		hub:          gateway.hub,
		gateway:      gateway,
		ConnectionID: uuid.New().String(),
		AuthUserID:   authUserID,
		send:         make(chan []byte, sendBufferSize),
		ConnectedAt:  time.Now(),
		rateLimiter:  NewRateLimiter(10, 20),
		ctx:          ctx,
		cancel:       cancel,
	}

	c.registerTimer = time.AfterFunc(registerWait, func() {
		if !c.IsRegistered() {
			logger.Log.Warn("Connection never registered, dropping",
				zap.String("connection_id", c.ConnectionID),
				logger.WithUserID(c.AuthUserID))
			c.Close()
		}
	})

	return c
}

// ReadPump pumps messages from the WebSocket connection into the
// gateway. It blocks until the connection dies; the deferred
// DropConnection is the single place a dead connection is cleaned up,
// whether it closed, errored, or went silent past the heartbeat
// window.
func (c *Client) ReadPump() {
	defer func() {
		c.gateway.DropConnection(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		// Any data frame within pongWait keeps the connection
		// alive. Protocol pongs are consumed inside Read without
		// returning, so they do not reset this deadline; liveness
		// rides on the client's application-level pings, which are
		// data frames. A silent network path hits the deadline and
		// is treated as dead without waiting for a close frame.
		readCtx, readCancel := context.WithTimeout(c.ctx, pongWait)
		_, data, err := c.conn.Read(readCtx)
		readCancel()

		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				logger.Log.Info("Connection closed by peer",
					zap.String("connection_id", c.ConnectionID),
					logger.WithUserID(c.UserID))
			} else if c.ctx.Err() == nil {
				logger.Log.Warn("Connection read failed",
					zap.String("connection_id", c.ConnectionID),
					logger.WithUserID(c.UserID),
					zap.Error(err))
			}
			return
		}

		if !c.rateLimiter.Allow() {
			c.SendError("rate_limited", "Too many messages, please slow down")
			continue
		}

		c.hub.metrics.MessagesReceived.Add(1)

		var message Message
		if err := json.Unmarshal(data, &message); err != nil {
			logger.Log.Warn("WebSocket JSON parse error",
				logger.WithUserID(c.UserID),
				zap.Error(err))
			c.SendError("invalid_json", "Failed to parse message")
			continue
		}

		c.handleMessage(&message)
	}
}

// WritePump pumps queued messages to the WebSocket connection and
// keeps intermediaries from idling it out with periodic pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.conn.Close(websocket.StatusGoingAway, "server shutdown")
			return

		case message, ok := <-c.send:
			if !ok {
				c.conn.Close(websocket.StatusNormalClosure, "closing")
				return
			}

			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Write(ctx, websocket.MessageText, message)
			cancel()

			if err != nil {
				if c.ctx.Err() == nil {
					logger.Log.Warn("Connection write failed",
						zap.String("connection_id", c.ConnectionID),
						logger.WithUserID(c.UserID),
						zap.Error(err))
				}
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Ping(ctx)
			cancel()

			if err != nil {
				return
			}
		}
	}
}

// handleMessage routes an inbound frame. Only register, ping, and
// heartbeat are accepted before registration completes.
func (c *Client) handleMessage(message *Message) {
	switch message.Type {
	case MessageTypePing, MessageTypeHeartbeat:
		c.handlePing(message)
		return

	case MessageTypeRegister:
		var reg RegisterPayload
		if err := message.ParsePayload(&reg); err != nil {
			c.SendError("invalid_register", "Failed to parse register payload")
			return
		}
		c.gateway.RegisterConnection(c, reg)
		return
	}

	if !c.IsRegistered() {
		c.SendError("not_registered", "Send register before other messages")
		return
	}

	if err := c.gateway.HandleClientMessage(c.ctx, c, message); err != nil {
		logger.Log.Warn("Client message rejected",
			zap.String("type", message.Type),
			logger.WithUserID(c.UserID),
			zap.Error(err))
		c.SendError("handler_error", fmt.Sprintf("Failed to process %s", message.Type))
	}
}

// handlePing responds to application-level pings with a pong carrying
// latency info, and refreshes the heartbeat timestamp.
func (c *Client) handlePing(message *Message) {
	c.mu.Lock()
	c.LastHeartbeatAt = time.Now()
	c.mu.Unlock()

	var ping PingPayload
	_ = message.ParsePayload(&ping)

	serverTime := time.Now().UnixMilli()
	pong := NewMessage(MessageTypePong, PongPayload{
		ClientTime: ping.ClientTime,
		ServerTime: serverTime,
		Latency:    serverTime - ping.ClientTime,
	})
	if message.ID != "" {
		pong.ReplyTo = message.ID
	}

	// Best-effort; the connection may be closing
	_ = c.Send(pong)
}

// markRegistered flips the connection to registered state.
func (c *Client) markRegistered(userID string) {
	c.mu.Lock()
	c.registered = true
	c.UserID = userID
	c.mu.Unlock()
	if c.registerTimer != nil {
		c.registerTimer.Stop()
	}
}

// IsRegistered reports whether register completed on this connection.
func (c *Client) IsRegistered() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.registered
}

// Send queues a message for this client.
func (c *Client) Send(message *Message) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	// Held across the channel send so closeSend cannot close the
	// channel between the closed check and the enqueue.
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return fmt.Errorf("client connection closed")
	}

	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return fmt.Errorf("client shutting down")
	default:
		return fmt.Errorf("send buffer full")
	}
}

// closeSend marks the client closed and closes its send channel. Only
// the hub calls this, after removing the client from its maps; the
// exclusive lock serializes against in-flight Sends so none can write
// to a closed channel.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	c.closed = true
	close(c.send)
}

// SendError sends an error message to the client
func (c *Client) SendError(code, message string) {
	_ = c.Send(NewErrorMessage(code, message))
}

// Close closes the client connection. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	if c.registerTimer != nil {
		c.registerTimer.Stop()
	}
	c.cancel()
	if c.conn != nil {
		c.conn.Close(websocket.StatusNormalClosure, "closing")
	}
}
