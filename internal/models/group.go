package models

import (
	"time"

	"gorm.io/gorm"
)

// Group is a named collection of users
type Group struct {
	ID          string `gorm:"primaryKey;type:uuid" json:"id"`
	OwnerID     string `gorm:"type:uuid;index;not null" json:"owner_id"`
	Name        string `gorm:"not null" json:"name"`
	Description string `gorm:"type:text" json:"description,omitempty"`

	Members []GroupMember `gorm:"foreignKey:GroupID" json:"members,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// GroupMember links a user to a group
type GroupMember struct {
	ID      uint   `gorm:"primaryKey" json:"id"`
	GroupID string `gorm:"type:uuid;index;not null" json:"group_id"`
	UserID  string `gorm:"type:uuid;index;not null" json:"user_id"`
	Role    string `gorm:"default:member" json:"role"`

	CreatedAt time.Time `json:"created_at"`
}
