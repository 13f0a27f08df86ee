package models

import (
	"time"
)

// ChatMessage represents a message posted in a chat room. Messages are never updated.
type ChatMessage struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	RoomID    uint      `gorm:"not null;index:idx_message_room_created" json:"room_id"` // foreign key to chat_rooms table
	Room      ChatRoom  `gorm:"foreignKey:RoomID;constraint:OnDelete:RESTRICT" json:"-"`
	SenderID  uint      `gorm:"not null;index" json:"sender_id"`
	Text      *string   `gorm:"type:text" json:"text,omitempty"`
	ImageKey  *string   `json:"image_key,omitempty"`                     // storage key of an uploaded image
	ImageURL  *string   `gorm:"-" json:"image_url,omitempty"`            // computed field, presigned URL for image
	CreatedAt time.Time `gorm:"index:idx_message_room_created" json:"created_at"`
}

// TableName specifies the table name for the ChatMessage model
func (ChatMessage) TableName() string {
	return "chat_messages"
}
