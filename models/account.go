package models

import (
	"time"

	"gorm.io/gorm"
)

// Account roles
const (
	RoleCustomer = "customer"
	RoleStaff    = "staff"
)

// Account represents a customer or staff member known to the account directory
type Account struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Auth0ID   string         `gorm:"uniqueIndex;not null" json:"auth0_id"` // Auth0 user ID (from 'sub' claim)
	Name      string         `gorm:"not null" json:"name"`
	Email     string         `gorm:"uniqueIndex;not null" json:"email"`
	AvatarURL string         `json:"avatar_url"`
	Role      string         `gorm:"not null;default:'customer';index" json:"role"` // "customer" or "staff"
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for the Account model
func (Account) TableName() string {
	return "accounts"
}

// IsStaff reports whether the account belongs to the support staff pool
func (a Account) IsStaff() bool {
	return a.Role == RoleStaff
}
