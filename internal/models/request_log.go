package models

import (
	"time"

	"gorm.io/gorm"
)

// RequestLog stores the outcome of one forwarded inference request.
type RequestLog struct {
	ID string `gorm:"type:varchar(36);primaryKey"` // Primary key.

	VirtualKeyID string `gorm:"type:varchar(36);not null;index"` // Calling key.
	DeploymentID string `gorm:"type:varchar(36);not null;index"` // Resolved deployment.
	ConnectionID string `gorm:"type:varchar(36);index"`          // Selected connection.
	ProjectID    string `gorm:"type:varchar(36);not null;index"` // Owning project.

	Provider        string `gorm:"type:varchar(32)"`  // Provider tag of the connection.
	Method          string `gorm:"type:varchar(16)"`  // Inbound HTTP method.
	Path            string `gorm:"type:varchar(255)"` // Inbound path.
	DeploymentName  string `gorm:"type:varchar(255)"` // Requested deployment name.
	VirtualKeyAlias string `gorm:"type:varchar(255)"` // Alias of the calling key.
	Stream          bool   `gorm:"not null;default:false"`

	HTTPStatusCode int    `gorm:"not null"` // Status returned to the caller.
	Error          string `gorm:"type:text"` // Error message, if any.

	InputTokens  int64 `gorm:"not null;default:0"` // Prompt tokens.
	OutputTokens int64 `gorm:"not null;default:0"` // Completion tokens.
	TotalTokens  int64 `gorm:"not null;default:0"` // Total tokens.

	RequestedAt time.Time `gorm:"not null;index"` // Request start.
	RespondedAt time.Time `gorm:"not null"`       // Response end.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
}

// BeforeCreate assigns a UUID primary key.
func (r *RequestLog) BeforeCreate(*gorm.DB) error {
	newID(&r.ID)
	return nil
}
