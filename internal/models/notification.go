package models

import "time"

// Notification kinds
const (
	NotificationKindMessage = "message"
	NotificationKindFollow  = "follow"
	NotificationKindMention = "mention"
	NotificationKindGroup   = "group_invite"
	NotificationKindSystem  = "system"
)

// Notification is one item in a user's notification feed
type Notification struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"type:uuid;index;not null" json:"user_id"`

	Kind  string `gorm:"not null" json:"kind"`
	Title string `gorm:"not null" json:"title"`
	Body  string `gorm:"type:text" json:"body,omitempty"`

	// ActorID is the user whose action produced this notification
	ActorID string `gorm:"type:uuid" json:"actor_id,omitempty"`

	ReadAt *time.Time `json:"read_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
