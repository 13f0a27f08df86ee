package models

import "time"

// RoomParticipant is one account's membership in a chat room.
// LeftAt is nil while the participant is active.
type RoomParticipant struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	RoomID     uint       `gorm:"not null;index:idx_participant_room_account" json:"room_id"`
	AccountID  uint       `gorm:"not null;index:idx_participant_room_account;index" json:"account_id"`
	Role       string     `gorm:"not null" json:"role"` // customer, staff
	JoinedAt   time.Time  `gorm:"not null" json:"joined_at"`
	LeftAt     *time.Time `json:"left_at,omitempty"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
}

// TableName specifies the table name for the RoomParticipant model
func (RoomParticipant) TableName() string {
	return "room_participants"
}

// IsActive reports whether the participant has not left the room
func (p RoomParticipant) IsActive() bool {
	return p.LeftAt == nil
}
