package models

import "time"

// ConversationLock is a lease giving one request exclusive use of a
// conversation until ExpiresAt.
type ConversationLock struct {
	ConversationID uint      `gorm:"primaryKey;autoIncrement:false"`
	Holder         string    `gorm:"size:64"`
	ExpiresAt      time.Time `gorm:"index;not null"`
}

// CancelFlag records a pending cancellation for a map until ExpiresAt.
type CancelFlag struct {
	MapID     string    `gorm:"primaryKey;size:12"`
	ExpiresAt time.Time `gorm:"index;not null"`
}
