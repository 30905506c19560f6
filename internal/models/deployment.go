package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Access controls deployment visibility.
type Access string

const (
	AccessPublic  Access = "public"
	AccessPrivate Access = "private"
)

// Valid reports whether the access value is known.
func (a Access) Valid() bool {
	return a == AccessPublic || a == AccessPrivate
}

// Strategy selects how a deployment spreads requests across connections.
type Strategy string

const (
	StrategyRoundRobin               Strategy = "round_robin"
	StrategyWeightedRoundRobin       Strategy = "weighted_round_robin"
	StrategyLeastConnections         Strategy = "least_connections"
	StrategyWeightedLeastConnections Strategy = "weighted_least_connections"
)

// Valid reports whether the strategy value is known.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyRoundRobin, StrategyWeightedRoundRobin, StrategyLeastConnections, StrategyWeightedLeastConnections:
		return true
	default:
		return false
	}
}

// Deployment is a named routing target resolved to one or more connections.
type Deployment struct {
	ID string `gorm:"type:varchar(36);primaryKey"` // Primary key.

	Name     string   `gorm:"type:varchar(255);not null;index"`                 // Routing name used as request model.
	Access   Access   `gorm:"type:varchar(16);not null;default:'private'"`      // Visibility.
	Strategy Strategy `gorm:"type:varchar(32);not null;default:'round_robin'"` // Load balancing strategy.

	RequestLimits datatypes.JSONType[RequestLimits] // Request quotas per period.
	TokenLimits   datatypes.JSONType[TokenLimits]   // Token quotas per period.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"`       // Last update timestamp.
}

// BeforeCreate assigns a UUID primary key.
func (d *Deployment) BeforeCreate(*gorm.DB) error {
	newID(&d.ID)
	return nil
}
