package websocket

import (
	"context"
	"fmt"

	"github.com/harborapp/harbor/internal/bus"
	"github.com/harborapp/harbor/internal/logger"
	"github.com/harborapp/harbor/internal/metrics"
	"go.uber.org/zap"
)

// Gateway bridges the cross-process event bus and this process's live
// connections. Events published anywhere are received once per process
// and routed against the local Hub only, so a user connected to
// process A receives events published from process B without B holding
// any connection state.
type Gateway struct {
	hub      *Hub
	bus      bus.Bus
	presence *PresenceStore
	relay    *CallRelay
}

// NewGateway wires a hub to the bus, presence store, and call relay.
func NewGateway(hub *Hub, eventBus bus.Bus, presence *PresenceStore, relay *CallRelay) *Gateway {
	return &Gateway{
		hub:      hub,
		bus:      eventBus,
		presence: presence,
		relay:    relay,
	}
}

// Hub exposes the connection registry, mainly for HTTP handlers.
func (g *Gateway) Hub() *Hub {
	return g.hub
}

// Presence exposes the presence store for HTTP handlers.
func (g *Gateway) Presence() *PresenceStore {
	return g.presence
}

// Run consumes the bus until ctx is cancelled. Call once per process.
func (g *Gateway) Run(ctx context.Context) error {
	events, err := g.bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("gateway subscribe: %w", err)
	}

	logger.Log.Info("Gateway subscribed to event bus")

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			g.Dispatch(evt)
		}
	}
}

// Dispatch routes one bus event to the local connections that should
// receive it: the target user's connections for point-to-point
// channels, every registered connection for broadcast channels.
// Delivery is best-effort; zero local connections means nothing
// happens here, another process may still deliver.
func (g *Gateway) Dispatch(evt bus.Event) {
	msg := NewRawMessage(evt.Channel, evt.ID, evt.Payload)

	var delivered int
	if bus.IsPointToPoint(evt.Channel) {
		if evt.TargetUserID == "" {
			logger.Log.Warn("Dropping unaddressed point-to-point event",
				logger.WithChannel(evt.Channel))
			if m := metrics.Get(); m != nil {
				m.EventsDropped.WithLabelValues(evt.Channel).Inc()
			}
			return
		}
		delivered = g.hub.SendToUser(evt.TargetUserID, msg)
	} else {
		delivered = g.hub.Broadcast(msg)
	}

	if m := metrics.Get(); m != nil {
		m.EventsDelivered.WithLabelValues(evt.Channel).Add(float64(delivered))
	}
}

// RegisterConnection completes the register handshake: it binds the
// connection to its authenticated user, adds it to the Hub, and bumps
// the shared online counter (0 to 1 publishes userOnline). Clients
// must re-register after every reconnect because the old Connection
// state died with the old transport.
func (g *Gateway) RegisterConnection(c *Client, reg RegisterPayload) {
	if reg.UserID == "" || reg.UserID != c.AuthUserID {
		logger.Log.Warn("Register user mismatch",
			zap.String("claimed", reg.UserID),
			zap.String("authenticated", c.AuthUserID))
		c.SendError("register_mismatch", "Registered user does not match authenticated user")
		c.Close()
		return
	}

	if c.IsRegistered() {
		// Re-register on a live connection is harmless; acknowledge
		// without double-counting.
		_ = c.Send(NewMessage(MessageTypeRegistered, RegisterPayload{UserID: c.UserID}))
		return
	}

	c.markRegistered(reg.UserID)
	g.hub.Register(c)

	if m := metrics.Get(); m != nil {
		m.ConnectionsTotal.Inc()
		m.ConnectionsActive.Set(float64(g.hub.GetMetrics().ActiveConnections))
		m.PresenceOnline.Set(float64(len(g.hub.LocalUserIDs())))
	}

	if _, err := g.presence.Connected(c.ctx, c.UserID); err != nil {
		// The connection stays usable; presence may briefly
		// undercount until the janitor or the next register.
		logger.Log.Warn("Presence increment failed",
			logger.WithUserID(c.UserID),
			zap.Error(err))
	}

	_ = c.Send(NewMessage(MessageTypeRegistered, RegisterPayload{UserID: c.UserID}))
}

// DropConnection cleans up a dead connection: removes it from the Hub,
// decrements the shared counter (1 to 0 publishes userOffline), and if
// this was the user's last connection anywhere, tears down any call
// they were in.
func (g *Gateway) DropConnection(c *Client) {
	if !c.IsRegistered() {
		return
	}

	g.hub.Unregister(c)

	if m := metrics.Get(); m != nil {
		m.ConnectionsActive.Set(float64(g.hub.GetMetrics().ActiveConnections))
		m.PresenceOnline.Set(float64(len(g.hub.LocalUserIDs())))
	}

	// The client's own context is gone by now; use a fresh one so
	// cleanup I/O still runs.
	ctx := context.Background()

	remaining, err := g.presence.Disconnected(ctx, c.UserID)
	if err != nil {
		logger.Log.Warn("Presence decrement failed",
			logger.WithUserID(c.UserID),
			zap.Error(err))
		return
	}

	if remaining == 0 {
		g.relay.EndCallsFor(ctx, c.UserID)
	}
}

// HandleClientMessage routes inbound frames from registered
// connections: typing indicators and call signaling are the only
// client-originated domain events; everything else enters the system
// through HTTP handlers.
func (g *Gateway) HandleClientMessage(ctx context.Context, c *Client, message *Message) error {
	switch message.Type {
	case bus.ChannelUserTyping, bus.ChannelUserStoppedTyping:
		var typing bus.TypingPayload
		if err := message.ParsePayload(&typing); err != nil {
			return err
		}
		if typing.ToUserID == "" {
			return fmt.Errorf("typing indicator missing target")
		}
		typing.FromUserID = c.UserID

		evt, err := bus.NewDirect(message.Type, typing.ToUserID, typing)
		if err != nil {
			return err
		}
		return g.publish(ctx, evt)

	case bus.ChannelCallOffer:
		var offer bus.CallOfferPayload
		if err := message.ParsePayload(&offer); err != nil {
			return err
		}
		return g.relay.HandleOffer(ctx, c.UserID, offer)

	case bus.ChannelCallAnswer:
		var answer bus.CallAnswerPayload
		if err := message.ParsePayload(&answer); err != nil {
			return err
		}
		return g.relay.HandleAnswer(ctx, c.UserID, answer)

	case bus.ChannelCallICECandidate:
		var candidate bus.ICECandidatePayload
		if err := message.ParsePayload(&candidate); err != nil {
			return err
		}
		return g.relay.HandleCandidate(ctx, c.UserID, candidate)

	case bus.ChannelCallEnd:
		var end bus.CallEndPayload
		if err := message.ParsePayload(&end); err != nil {
			return err
		}
		return g.relay.HandleEnd(ctx, c.UserID, end)

	default:
		return fmt.Errorf("unknown message type %q", message.Type)
	}
}

func (g *Gateway) publish(ctx context.Context, evt bus.Event) error {
	if err := g.bus.Publish(ctx, evt); err != nil {
		return err
	}
	if m := metrics.Get(); m != nil {
		m.EventsPublished.WithLabelValues(evt.Channel).Inc()
	}
	return nil
}
