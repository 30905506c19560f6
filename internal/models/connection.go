package models

import (
	"time"

	"gorm.io/gorm"
)

// Provider tags accepted for connections.
const (
	ProviderOpenAI = "openai/v1"
	ProviderAzure  = "azure/openai"
	ProviderGemini = "gemini"
)

// Connection is a configured credential and endpoint for one upstream provider.
type Connection struct {
	ID string `gorm:"type:varchar(36);primaryKey"` // Primary key.

	Provider       string `gorm:"type:varchar(32);not null;index"` // Provider tag.
	Model          string `gorm:"type:varchar(255)"`               // Upstream model (openai, gemini).
	DeploymentName string `gorm:"type:varchar(255)"`               // Upstream deployment (azure).
	APIEndpoint    string `gorm:"type:text;not null"`              // Base URL of the provider.
	APIKey         string `gorm:"type:text;not null"`              // Sealed provider credential.
	APIVersion     string `gorm:"type:varchar(64)"`                // API version, when the provider needs one.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}

// BeforeCreate assigns a UUID primary key.
func (c *Connection) BeforeCreate(*gorm.DB) error {
	newID(&c.ID)
	return nil
}

// UpstreamModel returns the model or deployment identifier sent upstream.
func (c Connection) UpstreamModel() string {
	if c.Provider == ProviderAzure {
		return c.DeploymentName
	}
	return c.Model
}
