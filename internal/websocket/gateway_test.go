package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/harborapp/harbor/internal/bus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestGateway builds a gateway on the given bus with a fake counter
// store shared across gateways when passed in.
func newTestGateway(eventBus bus.Bus, store *fakeCounterStore) *Gateway {
	if store == nil {
		store = newFakeCounterStore()
	}
	hub := NewHub()
	presence := NewPresenceStore(store, eventBus)
	relay := NewCallRelay(eventBus)
	return NewGateway(hub, eventBus, presence, relay)
}

// recvOfType reads frames until one of the wanted type arrives,
// skipping presence broadcasts generated by other registrations.
func recvOfType(t *testing.T, c *Client, msgType string) *Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case data := <-c.send:
			var msg Message
			require.NoError(t, json.Unmarshal(data, &msg))
			if msg.Type == msgType {
				return &msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %q frame", msgType)
			return nil
		}
	}
}

// assertNoFrameOfType asserts no frame of the given type is queued.
func assertNoFrameOfType(t *testing.T, c *Client, msgType string) {
	t.Helper()
	for {
		select {
		case data := <-c.send:
			var msg Message
			require.NoError(t, json.Unmarshal(data, &msg))
			assert.NotEqual(t, msgType, msg.Type)
		default:
			return
		}
	}
}

// connectClient runs the register handshake and drains the ack.
func connectClient(t *testing.T, g *Gateway, userID string) *Client {
	t.Helper()
	c := newTestClient(userID)
	c.registered = false
	c.UserID = ""

	g.RegisterConnection(c, RegisterPayload{UserID: userID})
	require.True(t, c.IsRegistered())

	ack := recvMessage(t, c)
	require.Equal(t, MessageTypeRegistered, ack.Type)
	return c
}

func TestDispatchPointToPointReachesOnlyTarget(t *testing.T) {
	g := newTestGateway(bus.NewLoopback(), nil)
	target := connectClient(t, g, "target")
	other := connectClient(t, g, "other")

	evt, err := bus.NewDirect(bus.ChannelMessage, "target", bus.MessagePayload{
		MessageID: "m1",
		SenderID:  "other",
		Body:      "hi",
	})
	require.NoError(t, err)

	g.Dispatch(evt)

	msg := recvMessage(t, target)
	assert.Equal(t, bus.ChannelMessage, msg.Type)
	assert.Equal(t, evt.ID, msg.ID)
	assert.Empty(t, other.send)
}

func TestDispatchBroadcastReachesEveryone(t *testing.T) {
	g := newTestGateway(bus.NewLoopback(), nil)
	c1 := connectClient(t, g, "user-1")
	c2 := connectClient(t, g, "user-2")

	evt, err := bus.NewBroadcast(bus.ChannelPostCreated, bus.PostPayload{PostID: "p1"})
	require.NoError(t, err)

	g.Dispatch(evt)

	assert.Equal(t, bus.ChannelPostCreated, recvMessage(t, c1).Type)
	assert.Equal(t, bus.ChannelPostCreated, recvMessage(t, c2).Type)
}

func TestDispatchUnaddressedDirectDropped(t *testing.T) {
	g := newTestGateway(bus.NewLoopback(), nil)
	c := connectClient(t, g, "user-1")

	// A malformed event straight off the wire, bypassing NewDirect
	g.Dispatch(bus.Event{
		ID:      "bad",
		Channel: bus.ChannelMessage,
	})

	assert.Empty(t, c.send)
}

func TestFanOutAcrossGatewaysExactlyOnce(t *testing.T) {
	loopback := bus.NewLoopback()
	store := newFakeCounterStore()

	g1 := newTestGateway(loopback, store)
	g2 := newTestGateway(loopback, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = g1.Run(ctx) }()
	go func() { _ = g2.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	alice := connectClient(t, g1, "alice")
	bob := connectClient(t, g2, "bob")

	evt, err := bus.NewDirect(bus.ChannelMessage, "alice", bus.MessagePayload{
		MessageID: "m1",
		SenderID:  "bob",
		Body:      "hello from the other side",
	})
	require.NoError(t, err)
	require.NoError(t, loopback.Publish(ctx, evt))

	// Alice is on g1; the event crosses the bus and reaches her there,
	// exactly once, even though g2 also consumed it.
	msg := recvOfType(t, alice, bus.ChannelMessage)
	assert.Equal(t, evt.ID, msg.ID)

	time.Sleep(50 * time.Millisecond)
	assertNoFrameOfType(t, alice, bus.ChannelMessage)
	assertNoFrameOfType(t, bob, bus.ChannelMessage)
}

func TestBroadcastAcrossGateways(t *testing.T) {
	loopback := bus.NewLoopback()
	store := newFakeCounterStore()

	g1 := newTestGateway(loopback, store)
	g2 := newTestGateway(loopback, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = g1.Run(ctx) }()
	go func() { _ = g2.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	alice := connectClient(t, g1, "alice")
	bob := connectClient(t, g2, "bob")

	evt, err := bus.NewBroadcast(bus.ChannelPostCreated, bus.PostPayload{PostID: "p1"})
	require.NoError(t, err)
	require.NoError(t, loopback.Publish(ctx, evt))

	recvOfType(t, alice, bus.ChannelPostCreated)
	recvOfType(t, bob, bus.ChannelPostCreated)
}

func TestRegisterConnectionRejectsMismatchedUser(t *testing.T) {
	g := newTestGateway(bus.NewLoopback(), nil)

	c := newTestClient("real-user")
	c.registered = false
	c.UserID = ""

	g.RegisterConnection(c, RegisterPayload{UserID: "someone-else"})

	assert.False(t, c.IsRegistered())
	assert.False(t, g.Hub().IsUserOnline("someone-else"))

	msg := recvMessage(t, c)
	assert.Equal(t, MessageTypeError, msg.Type)

	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	assert.True(t, closed)
}

func TestRegisterConnectionIdempotent(t *testing.T) {
	g := newTestGateway(bus.NewLoopback(), nil)
	c := connectClient(t, g, "user-1")

	g.RegisterConnection(c, RegisterPayload{UserID: "user-1"})
	ack := recvMessage(t, c)
	assert.Equal(t, MessageTypeRegistered, ack.Type)

	// Counted once in the hub and once in presence
	assert.Equal(t, 1, g.Hub().GetUserConnectionCount("user-1"))
	n, err := g.Presence().IsOnline(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, n)
}

func TestDropConnectionUnregisteredIsNoop(t *testing.T) {
	g := newTestGateway(bus.NewLoopback(), nil)
	c := newTestClient("user-1")
	c.registered = false

	// Connection died before register completed: nothing to clean up
	g.DropConnection(c)
	assert.Equal(t, 0, g.Hub().GetUserConnectionCount("user-1"))
}

func TestDropLastConnectionEndsCalls(t *testing.T) {
	loopback := bus.NewLoopback()
	g := newTestGateway(loopback, nil)

	events, err := loopback.Subscribe(context.Background())
	require.NoError(t, err)

	c := connectClient(t, g, "alice")
	require.NoError(t, g.relay.HandleOffer(context.Background(), "alice", bus.CallOfferPayload{
		CalleeID: "bob",
		CallType: bus.CallTypeVoice,
	}))

	g.DropConnection(c)

	assert.Equal(t, 0, g.relay.ActiveSessions())

	var sawEnded, sawOffline bool
	deadline := time.After(2 * time.Second)
	for !(sawEnded && sawOffline) {
		select {
		case evt := <-events:
			switch evt.Channel {
			case bus.ChannelCallEnded:
				assert.Equal(t, "bob", evt.TargetUserID)
				var payload bus.CallEndPayload
				require.NoError(t, evt.DecodePayload(&payload))
				assert.Equal(t, "disconnected", payload.Reason)
				sawEnded = true
			case bus.ChannelUserOffline:
				sawOffline = true
			}
		case <-deadline:
			t.Fatalf("missing events: ended=%v offline=%v", sawEnded, sawOffline)
		}
	}
}

func TestDropConnectionKeepsCallWhileOtherConnectionsRemain(t *testing.T) {
	g := newTestGateway(bus.NewLoopback(), nil)

	c1 := connectClient(t, g, "alice")
	c2 := connectClient(t, g, "alice")
	require.NoError(t, g.relay.HandleOffer(context.Background(), "alice", bus.CallOfferPayload{
		CalleeID: "bob",
		CallType: bus.CallTypeVoice,
	}))

	g.DropConnection(c1)
	assert.Equal(t, 1, g.relay.ActiveSessions(), "call survives while a connection remains")

	g.DropConnection(c2)
	assert.Equal(t, 0, g.relay.ActiveSessions())
}

func TestCallRelayAcrossGateways(t *testing.T) {
	loopback := bus.NewLoopback()
	store := newFakeCounterStore()

	g1 := newTestGateway(loopback, store)
	g2 := newTestGateway(loopback, store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = g1.Run(ctx) }()
	go func() { _ = g2.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)

	alice := connectClient(t, g1, "alice")
	bobOld := connectClient(t, g1, "bob")

	require.NoError(t, g1.HandleClientMessage(ctx, alice, NewMessage(bus.ChannelCallOffer, bus.CallOfferPayload{
		CalleeID: "bob",
		CallType: bus.CallTypeVideo,
		SDP:      json.RawMessage(`{"type":"offer"}`),
	})))
	recvOfType(t, bobOld, bus.ChannelCallIncoming)

	require.NoError(t, g1.HandleClientMessage(ctx, bobOld, NewMessage(bus.ChannelCallAnswer, bus.CallAnswerPayload{
		CallerID: "alice",
		Accepted: true,
		SDP:      json.RawMessage(`{"type":"answer"}`),
	})))
	recvOfType(t, alice, bus.ChannelCallAnswer)

	// Bob's connection migrates to the other gateway mid-call: the new
	// connection registers first, then the old one dies.
	bobNew := connectClient(t, g2, "bob")
	g1.DropConnection(bobOld)

	// The call survives the migration; bob is still online elsewhere.
	assert.Equal(t, 1, g1.relay.ActiveSessions())

	require.NoError(t, g1.HandleClientMessage(ctx, alice, NewMessage(bus.ChannelCallICECandidate, bus.ICECandidatePayload{
		ToUserID:  "bob",
		Candidate: json.RawMessage(`{"candidate":"a1"}`),
	})))

	msg := recvOfType(t, bobNew, bus.ChannelCallICECandidate)
	var candidate bus.ICECandidatePayload
	require.NoError(t, msg.ParsePayload(&candidate))
	assert.Equal(t, "alice", candidate.FromUserID)

	// The reverse path works from the new gateway too, even though its
	// relay never saw the offer.
	require.NoError(t, g2.HandleClientMessage(ctx, bobNew, NewMessage(bus.ChannelCallICECandidate, bus.ICECandidatePayload{
		ToUserID:  "alice",
		Candidate: json.RawMessage(`{"candidate":"b1"}`),
	})))
	msg = recvOfType(t, alice, bus.ChannelCallICECandidate)
	require.NoError(t, msg.ParsePayload(&candidate))
	assert.Equal(t, "bob", candidate.FromUserID)

	time.Sleep(50 * time.Millisecond)
	assertNoFrameOfType(t, bobNew, bus.ChannelCallEnded)
	assertNoFrameOfType(t, alice, bus.ChannelCallEnded)
}

func TestHandleClientMessageTyping(t *testing.T) {
	loopback := bus.NewLoopback()
	g := newTestGateway(loopback, nil)

	events, err := loopback.Subscribe(context.Background())
	require.NoError(t, err)

	c := connectClient(t, g, "alice")

	payload, _ := json.Marshal(bus.TypingPayload{ToUserID: "bob"})
	msg := &Message{Type: bus.ChannelUserTyping, Payload: payload}
	require.NoError(t, g.HandleClientMessage(context.Background(), c, msg))

	select {
	case evt := <-events:
		assert.Equal(t, bus.ChannelUserTyping, evt.Channel)
		assert.Equal(t, "bob", evt.TargetUserID)

		var typing bus.TypingPayload
		require.NoError(t, evt.DecodePayload(&typing))
		assert.Equal(t, "alice", typing.FromUserID, "sender comes from the connection, not the payload")
	case <-time.After(2 * time.Second):
		t.Fatal("typing event never published")
	}
}

func TestHandleClientMessageRejectsUnknownType(t *testing.T) {
	g := newTestGateway(bus.NewLoopback(), nil)
	c := connectClient(t, g, "alice")

	err := g.HandleClientMessage(context.Background(), c, &Message{Type: "mystery"})
	assert.Error(t, err)
}

func TestHandleClientMessageTypingRequiresTarget(t *testing.T) {
	g := newTestGateway(bus.NewLoopback(), nil)
	c := connectClient(t, g, "alice")

	payload, _ := json.Marshal(bus.TypingPayload{})
	err := g.HandleClientMessage(context.Background(), c, &Message{
		Type:    bus.ChannelUserTyping,
		Payload: payload,
	})
	assert.Error(t, err)
}
