package models

import (
	"time"

	"gorm.io/gorm"
)

// Message is one direct message between two users. Delivery over the
// realtime layer is best-effort; this row is the source of truth
// clients re-sync from after reconnecting.
type Message struct {
	ID         string `gorm:"primaryKey;type:uuid" json:"id"`
	SenderID   string `gorm:"type:uuid;index;not null" json:"sender_id"`
	ReceiverID string `gorm:"type:uuid;index;not null" json:"receiver_id"`
	Body       string `gorm:"type:text;not null" json:"body"`

	ReadAt   *time.Time `json:"read_at,omitempty"`
	EditedAt *time.Time `json:"edited_at,omitempty"`

	Sender   *User `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	Receiver *User `gorm:"foreignKey:ReceiverID" json:"-"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
