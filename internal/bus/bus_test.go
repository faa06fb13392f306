package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborapp/harbor/internal/logger"
)

func TestMain(m *testing.M) {
	logger.Initialize("error", "")
	m.Run()
}

func TestNewDirectRequiresTarget(t *testing.T) {
	_, err := NewDirect(ChannelMessage, "", MessagePayload{})
	assert.Error(t, err)

	evt, err := NewDirect(ChannelMessage, "user-1", MessagePayload{MessageID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, ChannelMessage, evt.Channel)
	assert.Equal(t, "user-1", evt.TargetUserID)
	assert.NotEmpty(t, evt.ID)
	assert.False(t, evt.PublishedAt.IsZero())
}

func TestNewDirectRejectsBroadcastChannel(t *testing.T) {
	_, err := NewDirect(ChannelPostCreated, "user-1", PostPayload{})
	assert.Error(t, err)
}

func TestNewBroadcastRejectsPointToPointChannel(t *testing.T) {
	_, err := NewBroadcast(ChannelMessage, MessagePayload{})
	assert.Error(t, err)

	evt, err := NewBroadcast(ChannelUserOnline, PresencePayload{UserID: "user-1"})
	require.NoError(t, err)
	assert.Empty(t, evt.TargetUserID)
}

func TestEventPayloadRoundTrip(t *testing.T) {
	evt, err := NewDirect(ChannelMessage, "user-2", MessagePayload{
		MessageID:  "m1",
		SenderID:   "user-1",
		ReceiverID: "user-2",
		Body:       "hello",
	})
	require.NoError(t, err)

	var payload MessagePayload
	require.NoError(t, evt.DecodePayload(&payload))
	assert.Equal(t, "m1", payload.MessageID)
	assert.Equal(t, "hello", payload.Body)
}

func TestIsPointToPoint(t *testing.T) {
	assert.True(t, IsPointToPoint(ChannelMessage))
	assert.True(t, IsPointToPoint(ChannelCallOffer))
	assert.True(t, IsPointToPoint(ChannelUnreadCountUpdated))
	assert.False(t, IsPointToPoint(ChannelPostCreated))
	assert.False(t, IsPointToPoint(ChannelUserOnline))
	assert.False(t, IsPointToPoint("no-such-channel"))
}

func TestChannelsCoverEveryConstant(t *testing.T) {
	channels := Channels()
	seen := make(map[string]bool, len(channels))
	for _, ch := range channels {
		assert.False(t, seen[ch], "duplicate channel %q", ch)
		seen[ch] = true
	}
	assert.True(t, seen[ChannelMessage])
	assert.True(t, seen[ChannelCallEnded])
	assert.True(t, seen[ChannelUserOffline])
	assert.Len(t, channels, 25)
}

func TestLoopbackDeliversToAllSubscribers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lb := NewLoopback()
	sub1, err := lb.Subscribe(ctx)
	require.NoError(t, err)
	sub2, err := lb.Subscribe(ctx)
	require.NoError(t, err)

	evt, err := NewBroadcast(ChannelPostCreated, PostPayload{PostID: "p1"})
	require.NoError(t, err)
	require.NoError(t, lb.Publish(ctx, evt))

	for _, sub := range []<-chan Event{sub1, sub2} {
		select {
		case got := <-sub:
			assert.Equal(t, evt.ID, got.ID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestLoopbackPreservesPublishOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lb := NewLoopback()
	sub, err := lb.Subscribe(ctx)
	require.NoError(t, err)

	var want []string
	for i := 0; i < 20; i++ {
		evt, err := NewBroadcast(ChannelUserUpdated, UserUpdatedPayload{UserID: "u"})
		require.NoError(t, err)
		require.NoError(t, lb.Publish(ctx, evt))
		want = append(want, evt.ID)
	}

	for _, id := range want {
		select {
		case got := <-sub:
			assert.Equal(t, id, got.ID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestLoopbackSubscriberRemovedOnCancel(t *testing.T) {
	subCtx, subCancel := context.WithCancel(context.Background())
	lb := NewLoopback()

	sub, err := lb.Subscribe(subCtx)
	require.NoError(t, err)

	subCancel()
	select {
	case _, open := <-sub:
		assert.False(t, open, "channel should be closed after cancel")
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}

	// Publishing after teardown must not panic or block.
	evt, err := NewBroadcast(ChannelUserOnline, PresencePayload{UserID: "u"})
	require.NoError(t, err)
	assert.NoError(t, lb.Publish(context.Background(), evt))
}

func TestLoopbackMissesEventsPublishedBeforeSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lb := NewLoopback()

	early, err := NewBroadcast(ChannelUserOnline, PresencePayload{UserID: "u"})
	require.NoError(t, err)
	require.NoError(t, lb.Publish(ctx, early))

	sub, err := lb.Subscribe(ctx)
	require.NoError(t, err)

	late, err := NewBroadcast(ChannelUserOffline, PresencePayload{UserID: "u"})
	require.NoError(t, err)
	require.NoError(t, lb.Publish(ctx, late))

	select {
	case got := <-sub:
		assert.Equal(t, late.ID, got.ID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	assert.Empty(t, sub)
}
