package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// VirtualKey is a caller-facing credential scoped to a project.
type VirtualKey struct {
	ID string `gorm:"type:varchar(36);primaryKey"` // Primary key.

	ProjectID   string `gorm:"type:varchar(36);not null;index"` // Owning project.
	KeyHash     string `gorm:"type:varchar(64);not null;uniqueIndex"` // Keyed hash used for lookup.
	SealedKey   string `gorm:"type:text;not null"`              // Encrypted secret.
	Alias       string `gorm:"type:varchar(255);not null"`      // Display alias.
	Description string `gorm:"type:text"`                       // Free-form description.
	Blocked     bool   `gorm:"not null;default:false"`          // Blocked keys authenticate but cannot call deployments.

	RequestLimits datatypes.JSONType[RequestLimits] // Request quotas per period.
	TokenLimits   datatypes.JSONType[TokenLimits]   // Token quotas per period.

	// Key holds the plain secret after it was opened by the store.
	Key string `gorm:"-"`

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// BeforeCreate assigns a UUID primary key.
func (k *VirtualKey) BeforeCreate(*gorm.DB) error {
	newID(&k.ID)
	return nil
}
