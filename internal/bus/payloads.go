package bus

import (
	"encoding/json"
	"time"
)

// One payload type per channel. Addressing lives in the Event envelope;
// payload fields describe the domain change only.

// MessagePayload rides the "message" channel.
type MessagePayload struct {
	MessageID  string    `json:"message_id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name,omitempty"`
	ReceiverID string    `json:"receiver_id"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sent_at"`
}

// MessageEditedPayload rides "messageEdited".
type MessageEditedPayload struct {
	MessageID string    `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	Body      string    `json:"body"`
	EditedAt  time.Time `json:"edited_at"`
}

// MessageDeletedPayload rides "messageDeleted".
type MessageDeletedPayload struct {
	MessageID string `json:"message_id"`
	SenderID  string `json:"sender_id"`
}

// MessagesReadPayload rides "messagesRead"; sent to the peer whose
// messages were just read.
type MessagesReadPayload struct {
	ReaderID string    `json:"reader_id"`
	PeerID   string    `json:"peer_id"`
	ReadAt   time.Time `json:"read_at"`
}

// TypingPayload rides "userTyping" and "userStoppedTyping".
type TypingPayload struct {
	FromUserID string `json:"from_user_id"`
	ToUserID   string `json:"to_user_id"`
}

// UnreadCountPayload rides "unreadCountUpdated". Counts are recomputed
// from the source of truth, never incremented client-side.
type UnreadCountPayload struct {
	UserID        string `json:"user_id"`
	Messages      int64  `json:"messages"`
	Notifications int64  `json:"notifications"`
}

// NotificationPayload rides "notification".
type NotificationPayload struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
	ActorID   string    `json:"actor_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationReadPayload rides "notificationRead".
type NotificationReadPayload struct {
	NotificationID string `json:"notification_id"`
}

// NotificationsClearedPayload rides "notificationsCleared".
type NotificationsClearedPayload struct {
	ClearedAt time.Time `json:"cleared_at"`
}

// PostPayload rides the post channels.
type PostPayload struct {
	PostID     string    `json:"post_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name,omitempty"`
	Body       string    `json:"body,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// GroupPayload rides the group channels.
type GroupPayload struct {
	GroupID string `json:"group_id"`
	OwnerID string `json:"owner_id"`
	Name    string `json:"name,omitempty"`
}

// PresencePayload rides "userOnline" and "userOffline".
type PresencePayload struct {
	UserID     string    `json:"user_id"`
	Online     bool      `json:"online"`
	LastSeenAt time.Time `json:"last_seen_at"`
}

// UserUpdatedPayload rides "userUpdated".
type UserUpdatedPayload struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// CallType distinguishes voice from video calls.
type CallType string

const (
	CallTypeVoice CallType = "voice"
	CallTypeVideo CallType = "video"
)

// CallOfferPayload rides "call:offer" (client to server) and
// "call:incoming" (server to callee). SDP is opaque to the relay.
type CallOfferPayload struct {
	CallerID   string          `json:"caller_id"`
	CallerName string          `json:"caller_name,omitempty"`
	CalleeID   string          `json:"callee_id"`
	CallType   CallType        `json:"call_type"`
	SDP        json.RawMessage `json:"sdp"`
}

// CallAnswerPayload rides "call:answer", relayed back to the caller.
type CallAnswerPayload struct {
	CalleeID string          `json:"callee_id"`
	CallerID string          `json:"caller_id"`
	Accepted bool            `json:"accepted"`
	SDP      json.RawMessage `json:"sdp,omitempty"`
}

// ICECandidatePayload rides "call:ice-candidate".
type ICECandidatePayload struct {
	FromUserID string          `json:"from_user_id"`
	ToUserID   string          `json:"to_user_id"`
	Candidate  json.RawMessage `json:"candidate"`
}

// CallEndPayload rides "call:end" (hangup request) and "call:ended"
// (relay notification to the other peer).
type CallEndPayload struct {
	FromUserID string `json:"from_user_id"`
	ToUserID   string `json:"to_user_id"`
	Reason     string `json:"reason,omitempty"` // "hangup", "declined", "disconnected"
}
