package models

import (
	"fmt"
	"time"
)

// Room kinds
const (
	RoomKindDirect  = "direct"
	RoomKindSupport = "support"
)

// Room statuses. Direct rooms stay in StatusDirect for their whole life; support rooms
// move PendingSupport -> Assigned -> AwaitingNewSupporter -> Assigned ... -> Closed.
const (
	StatusDirect               = "Direct"
	StatusPendingSupport       = "PendingSupport"
	StatusAssigned             = "Assigned"
	StatusAwaitingNewSupporter = "AwaitingNewSupporter"
	StatusClosed               = "Closed"
)

// OpenSupportStatuses are the statuses of a support room that still needs or has a supporter
var OpenSupportStatuses = []string{StatusPendingSupport, StatusAssigned, StatusAwaitingNewSupporter}

// ClaimableStatuses are the statuses from which a staff member may claim a room
var ClaimableStatuses = []string{StatusPendingSupport, StatusAwaitingNewSupporter}

// ChatRoom is a direct conversation or a customer support ticket
type ChatRoom struct {
	ID             uint              `gorm:"primaryKey" json:"id"`
	Kind           string            `gorm:"not null;index" json:"kind"`                           // direct, support
	Status         string            `gorm:"not null;index" json:"status"`                         // see Status* constants
	DirectKey      *string           `gorm:"uniqueIndex" json:"-"`                                 // unordered account pair, direct rooms only
	SupportKey     *string           `gorm:"uniqueIndex" json:"-"`                                 // set while a support room is open, one per customer
	CustomerID     *uint             `gorm:"index" json:"customer_id,omitempty"`                   // support rooms only
	LastActivityAt time.Time         `gorm:"not null;index" json:"last_activity_at"`               // bumped on every message
	Participants   []RoomParticipant `gorm:"foreignKey:RoomID" json:"participants,omitempty"`
	CreatedAt      time.Time         `gorm:"index" json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// TableName specifies the table name for the ChatRoom model
func (ChatRoom) TableName() string {
	return "chat_rooms"
}

// IsSupport reports whether the room is a support ticket
func (r ChatRoom) IsSupport() bool {
	return r.Kind == RoomKindSupport
}

// IsOpen reports whether the room still accepts messages
func (r ChatRoom) IsOpen() bool {
	return r.Status != StatusClosed
}

// SupportRoomKey builds the key held by a customer's open support room
func SupportRoomKey(customerID uint) string {
	return fmt.Sprintf("support:%d", customerID)
}

// DirectRoomKey builds the lookup key for a direct room between two accounts.
// The key is independent of argument order.
func DirectRoomKey(a, b uint) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d:%d", a, b)
}
