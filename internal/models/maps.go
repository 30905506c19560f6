package models

import (
	"time"

	"gorm.io/gorm"
)

// ConnectionDeployment is a weighted edge binding a connection to a deployment.
type ConnectionDeployment struct {
	ID string `gorm:"type:varchar(36);primaryKey"` // Primary key.

	ConnectionID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_connection_deployment_pair;index"` // Bound connection.
	DeploymentID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_connection_deployment_pair;index"` // Bound deployment.
	Weight       int    `gorm:"not null;default:1"`                                                          // Relative share for weighted strategies.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// BeforeCreate assigns a UUID primary key.
func (m *ConnectionDeployment) BeforeCreate(*gorm.DB) error {
	newID(&m.ID)
	return nil
}

// VirtualKeyDeployment grants a virtual key permission to call a deployment.
type VirtualKeyDeployment struct {
	ID string `gorm:"type:varchar(36);primaryKey"` // Primary key.

	VirtualKeyID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_virtual_key_deployment_pair;index"` // Granted key.
	DeploymentID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_virtual_key_deployment_pair;index"` // Granted deployment.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}

// BeforeCreate assigns a UUID primary key.
func (m *VirtualKeyDeployment) BeforeCreate(*gorm.DB) error {
	newID(&m.ID)
	return nil
}
