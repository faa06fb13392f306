package models

import (
	"time"

	"gorm.io/gorm"
)

// Post is a public feed entry
type Post struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	AuthorID string `gorm:"type:uuid;index;not null" json:"author_id"`
	Body     string `gorm:"type:text;not null" json:"body"`

	Author *User `gorm:"foreignKey:AuthorID" json:"author,omitempty"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}
