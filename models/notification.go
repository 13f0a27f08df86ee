package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// NotificationType classifies the domain event that raised a notification
type NotificationType string

const (
	NotificationCommon  NotificationType = "Common"
	NotificationBooking NotificationType = "Booking"
	NotificationOther   NotificationType = "Other"
)

// Notification is shared by every recipient it was fanned out to.
// The ID is assigned by the producer so that redelivered jobs map to the same row.
type Notification struct {
	ID        string           `gorm:"primaryKey;size:36" json:"id"`
	Type      NotificationType `gorm:"not null;index" json:"type"`
	Title     string           `gorm:"not null" json:"title"`
	Body      string           `gorm:"type:text" json:"body"`
	Payload   datatypes.JSON   `json:"payload,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// TableName specifies the table name for the Notification model
func (Notification) TableName() string {
	return "notifications"
}

// NotificationBox is a recipient's inbox entry for a notification.
// Deleting a box never deletes the underlying notification.
type NotificationBox struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	NotificationID string         `gorm:"not null;size:36;uniqueIndex:idx_box_notification_recipient" json:"notification_id"`
	Notification   Notification   `gorm:"foreignKey:NotificationID" json:"notification"`
	RecipientID    uint           `gorm:"not null;uniqueIndex:idx_box_notification_recipient;index" json:"recipient_id"`
	Seen           bool           `gorm:"not null;default:false" json:"seen"`
	CreatedAt      time.Time      `json:"created_at"`
	DeletedAt      gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for the NotificationBox model
func (NotificationBox) TableName() string {
	return "notification_boxes"
}

// Delivery channels for notification jobs
const (
	ChannelEmail = "email"
	ChannelPush  = "push"
)

// NotificationJob is the broker payload for one notification delivery.
// It carries everything the worker needs to rebuild the Notification and its recipients.
type NotificationJob struct {
	NotificationID string           `json:"notification_id"`
	Channel        string           `json:"channel"`
	Type           NotificationType `json:"type"`
	Title          string           `json:"title"`
	Body           string           `json:"body"`
	Payload        json.RawMessage  `json:"payload,omitempty"`
	RecipientIDs   []uint           `json:"recipient_ids"`
	CreatedAt      time.Time        `json:"created_at"`
}

// ToNotification builds the shared notification row for this job
func (j NotificationJob) ToNotification() Notification {
	return Notification{
		ID:        j.NotificationID,
		Type:      j.Type,
		Title:     j.Title,
		Body:      j.Body,
		Payload:   datatypes.JSON(j.Payload),
		CreatedAt: j.CreatedAt,
	}
}

// AllModels lists every model for auto-migration
func AllModels() []interface{} {
	return []interface{}{
		&Account{},
		&ChatRoom{},
		&RoomParticipant{},
		&ChatMessage{},
		&Notification{},
		&NotificationBox{},
	}
}
