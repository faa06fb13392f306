package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Channel names are the literal strings used on the wire. Clients
// subscribe to these names directly, so they are part of the protocol
// and must not be renamed.
const (
	// Direct messaging
	ChannelMessage            = "message"
	ChannelMessageEdited      = "messageEdited"
	ChannelMessageDeleted     = "messageDeleted"
	ChannelMessagesRead       = "messagesRead"
	ChannelUserTyping         = "userTyping"
	ChannelUserStoppedTyping  = "userStoppedTyping"
	ChannelUnreadCountUpdated = "unreadCountUpdated"

	// Notifications
	ChannelNotification         = "notification"
	ChannelNotificationRead     = "notificationRead"
	ChannelNotificationsCleared = "notificationsCleared"

	// Posts and groups (broadcast)
	ChannelPostCreated  = "postCreated"
	ChannelPostUpdated  = "postUpdated"
	ChannelPostDeleted  = "postDeleted"
	ChannelGroupCreated = "groupCreated"
	ChannelGroupUpdated = "groupUpdated"
	ChannelGroupDeleted = "groupDeleted"

	// Call signaling (always point-to-point)
	ChannelCallIncoming     = "call:incoming"
	ChannelCallOffer        = "call:offer"
	ChannelCallAnswer       = "call:answer"
	ChannelCallICECandidate = "call:ice-candidate"
	ChannelCallEnd          = "call:end"
	ChannelCallEnded        = "call:ended"

	// Presence and profile (broadcast)
	ChannelUserOnline  = "userOnline"
	ChannelUserOffline = "userOffline"
	ChannelUserUpdated = "userUpdated"
)

// pointToPoint marks channels whose events address a single user.
// Everything else is delivered to every registered connection.
var pointToPoint = map[string]bool{
	ChannelMessage:              true,
	ChannelMessageEdited:        true,
	ChannelMessageDeleted:       true,
	ChannelMessagesRead:         true,
	ChannelUserTyping:           true,
	ChannelUserStoppedTyping:    true,
	ChannelUnreadCountUpdated:   true,
	ChannelNotification:         true,
	ChannelNotificationRead:     true,
	ChannelNotificationsCleared: true,
	ChannelCallIncoming:         true,
	ChannelCallOffer:            true,
	ChannelCallAnswer:           true,
	ChannelCallICECandidate:     true,
	ChannelCallEnd:              true,
	ChannelCallEnded:            true,
}

// Channels returns every channel the bus carries, in a stable order.
func Channels() []string {
	return []string{
		ChannelMessage, ChannelMessageEdited, ChannelMessageDeleted,
		ChannelMessagesRead, ChannelUserTyping, ChannelUserStoppedTyping,
		ChannelUnreadCountUpdated,
		ChannelNotification, ChannelNotificationRead, ChannelNotificationsCleared,
		ChannelPostCreated, ChannelPostUpdated, ChannelPostDeleted,
		ChannelGroupCreated, ChannelGroupUpdated, ChannelGroupDeleted,
		ChannelCallIncoming, ChannelCallOffer, ChannelCallAnswer,
		ChannelCallICECandidate, ChannelCallEnd, ChannelCallEnded,
		ChannelUserOnline, ChannelUserOffline, ChannelUserUpdated,
	}
}

// IsPointToPoint reports whether events on the channel address a single
// target user.
func IsPointToPoint(channel string) bool {
	return pointToPoint[channel]
}

// Event is the envelope published on the bus. TargetUserID is empty for
// broadcast channels and required for point-to-point channels; the
// gateway routes purely on this field and never inspects the payload.
type Event struct {
	ID           string          `json:"id"`
	Channel      string          `json:"channel"`
	TargetUserID string          `json:"target_user_id,omitempty"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	PublishedAt  time.Time       `json:"published_at"`
}

// NewBroadcast builds an event for a broadcast channel.
func NewBroadcast(channel string, payload interface{}) (Event, error) {
	if IsPointToPoint(channel) {
		return Event{}, fmt.Errorf("channel %q is point-to-point and requires a target user", channel)
	}
	return newEvent(channel, "", payload)
}

// NewDirect builds an event addressed to a single user.
func NewDirect(channel, targetUserID string, payload interface{}) (Event, error) {
	if !IsPointToPoint(channel) {
		return Event{}, fmt.Errorf("channel %q is broadcast and cannot be addressed", channel)
	}
	if targetUserID == "" {
		return Event{}, fmt.Errorf("channel %q requires a target user", channel)
	}
	return newEvent(channel, targetUserID, payload)
}

func newEvent(channel, targetUserID string, payload interface{}) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal payload for %q: %w", channel, err)
	}
	return Event{
		ID:           uuid.New().String(),
		Channel:      channel,
		TargetUserID: targetUserID,
		Payload:      data,
		PublishedAt:  time.Now().UTC(),
	}, nil
}

// DecodePayload unmarshals the event payload into target.
func (e Event) DecodePayload(target interface{}) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, target)
}
