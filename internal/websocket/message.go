package websocket

import (
	"encoding/json"
	"fmt"
	"time"
)

// FlexibleTime handles both Unix millisecond timestamps and RFC3339 strings
type FlexibleTime struct {
	time.Time
}

// UnmarshalJSON implements custom unmarshaling for timestamps
func (ft *FlexibleTime) UnmarshalJSON(b []byte) error {
	// Try Unix milliseconds first
	var ms int64
	if err := json.Unmarshal(b, &ms); err == nil {
		ft.Time = time.UnixMilli(ms)
		return nil
	}

	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return fmt.Errorf("timestamp must be Unix milliseconds (integer) or RFC3339 string")
	}

	t, err := time.Parse(time.RFC3339, str)
	if err != nil {
		return err
	}
	ft.Time = t
	return nil
}

// MarshalJSON implements custom marshaling (always output as RFC3339)
func (ft FlexibleTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(ft.Time)
}

// Client-to-server message types. Server-to-client messages reuse the
// bus channel literals as their type, so the set of event names a
// browser listens on matches the bus exactly.
const (
	MessageTypeRegister  = "register"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeHeartbeat = "heartbeat" // alias for ping kept for older clients

	MessageTypeSystem     = "system"
	MessageTypeError      = "error"
	MessageTypeRegistered = "registered"
)

// Message is the wire envelope for a single WebSocket frame.
type Message struct {
	// Type identifies the message for routing; for pushed domain
	// events it is the bus channel name.
	Type string `json:"type"`

	// Payload contains the message-specific data
	Payload json.RawMessage `json:"payload,omitempty"`

	// ID is a unique message identifier
	ID string `json:"id,omitempty"`

	// ReplyTo references the original message ID for responses
	ReplyTo string `json:"reply_to,omitempty"`

	// Timestamp when the message was created (accepts Unix ms or RFC3339)
	Timestamp FlexibleTime `json:"timestamp"`
}

// NewMessage creates a message with the current timestamp. Marshal
// failures surface when the message is encoded for the wire.
func NewMessage(msgType string, payload interface{}) *Message {
	data, _ := json.Marshal(payload)
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: FlexibleTime{Time: time.Now().UTC()},
	}
}

// NewRawMessage wraps an already-encoded payload, used by the gateway
// to forward bus events without a decode/encode round trip.
func NewRawMessage(msgType, id string, payload json.RawMessage) *Message {
	return &Message{
		Type:      msgType,
		ID:        id,
		Payload:   payload,
		Timestamp: FlexibleTime{Time: time.Now().UTC()},
	}
}

// NewErrorMessage creates an error message
func NewErrorMessage(code, message string) *Message {
	return NewMessage(MessageTypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
}

// ParsePayload unmarshals the payload into a specific type
func (m *Message) ParsePayload(target interface{}) error {
	if len(m.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(m.Payload, target)
}

// ErrorPayload represents an error message payload
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RegisterPayload binds the connection to a user after (re)connect.
// The user ID must match the authenticated identity from the upgrade.
type RegisterPayload struct {
	UserID string `json:"user_id"`
}

// PingPayload represents a ping message payload
type PingPayload struct {
	ClientTime int64 `json:"client_time"`
}

// PongPayload represents a pong message payload
type PongPayload struct {
	ClientTime int64 `json:"client_time"`
	ServerTime int64 `json:"server_time"`
	Latency    int64 `json:"latency_ms"`
}

// SystemPayload represents system event payloads
type SystemPayload struct {
	Event   string                 `json:"event"`
	Message string                 `json:"message,omitempty"`
	Data    map[string]interface{} `json:"data,omitempty"`
}
