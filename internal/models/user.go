package models

import (
	"time"

	"gorm.io/gorm"
)

// Role is the application-wide role of a user.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// User represents an account that can open admin sessions.
type User struct {
	ID string `gorm:"type:varchar(36);primaryKey"` // Primary key.

	Email        string `gorm:"type:varchar(320);not null;uniqueIndex"`    // Login email.
	Name         string `gorm:"type:text"`                                 // Display name.
	PasswordHash string `gorm:"type:text;not null"`                        // Bcrypt password hash.
	Blocked      bool   `gorm:"not null;default:false"`                    // Blocked users cannot sign in.
	Role         Role   `gorm:"type:varchar(16);not null;default:'member'"` // Application role.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// BeforeCreate assigns a UUID primary key.
func (u *User) BeforeCreate(*gorm.DB) error {
	newID(&u.ID)
	return nil
}

// SessionToken tracks an issued admin session so it can be revoked.
type SessionToken struct {
	ID string `gorm:"type:varchar(36);primaryKey"` // Primary key, carried as the token's sid claim.

	UserID    string    `gorm:"type:varchar(36);not null;index"` // Session owner.
	Revoked   bool      `gorm:"not null;default:false"`          // Revocation flag.
	ExpiresAt time.Time `gorm:"not null"`                        // Expiry timestamp.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// BeforeCreate assigns a UUID primary key.
func (s *SessionToken) BeforeCreate(*gorm.DB) error {
	newID(&s.ID)
	return nil
}
