package models

import (
	"time"

	"daa-assistant/backend/pkg/chat"
)

// Message is one persisted conversation turn. ID is the canonical order.
type Message struct {
	ID        uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	SessionID string    `json:"session_id" gorm:"index;not null"`
	Role      string    `json:"role" gorm:"size:16;not null"`
	Content   string    `json:"content" gorm:"type:text"`
	Image     string    `json:"image,omitempty" gorm:"type:text"`
	Timestamp time.Time `json:"timestamp"`
}

// TableName keeps the table name stable across drivers.
func (Message) TableName() string {
	return "history"
}

// ToChat converts the row into the provider-neutral message type.
func (m Message) ToChat() chat.Message {
	return chat.Message{
		Role:      chat.Role(m.Role),
		Content:   m.Content,
		Image:     m.Image,
		Timestamp: m.Timestamp,
	}
}
