package models

import "time"

// Conversation groups chat messages for one owner within a project.
// Rows with SoftDeletedAt set are invisible to every read path.
type Conversation struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	ProjectID     string `gorm:"size:12;not null;index"`
	OwnerID       string `gorm:"size:64;not null;index"`
	Title         string `gorm:"size:256;not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SoftDeletedAt *time.Time `gorm:"index"`
}

// ChatMessage is one entry of the append-only conversation log. MessageJSON
// holds the provider-shaped message verbatim. ConversationID is nullable for
// rows written before conversations existed.
type ChatMessage struct {
	ID             uint   `gorm:"primaryKey;autoIncrement"`
	MapID          string `gorm:"size:12;not null;index"`
	ConversationID *uint  `gorm:"index:idx_conversation_order,priority:1"`
	SenderID       string `gorm:"size:64;not null"`
	MessageJSON    string `gorm:"type:text;not null"`
	CreatedAt      time.Time `gorm:"index:idx_conversation_order,priority:2"`
}

// TitlePending is the placeholder title of a conversation awaiting a label.
const TitlePending = "title pending"
