package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Project groups virtual keys and carries tenant-wide limits.
type Project struct {
	ID string `gorm:"type:varchar(36);primaryKey"` // Primary key.

	Name string `gorm:"type:varchar(255);not null"` // Display name.

	RequestLimits datatypes.JSONType[RequestLimits] // Request quotas per period.
	TokenLimits   datatypes.JSONType[TokenLimits]   // Token quotas per period.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// BeforeCreate assigns a UUID primary key.
func (p *Project) BeforeCreate(*gorm.DB) error {
	newID(&p.ID)
	return nil
}
