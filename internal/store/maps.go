package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/llmur/llmur/internal/models"
)

// WeightedConnection is a connection bound to a deployment with its weight.
type WeightedConnection struct {
	MapID      string
	Weight     int
	Connection models.Connection
}

// ConnectionDeploymentFilter narrows ListConnectionDeployments.
type ConnectionDeploymentFilter struct {
	ConnectionID string
	DeploymentID string
}

// VirtualKeyDeploymentFilter narrows ListVirtualKeyDeployments.
type VirtualKeyDeploymentFilter struct {
	VirtualKeyID string
	DeploymentID string
}

// CreateConnectionDeployment binds a connection to a deployment.
// Both ends must exist; a duplicate pair returns ErrConflict.
func (s *Store) CreateConnectionDeployment(ctx context.Context, m *models.ConnectionDeployment) error {
	if err := s.ready(); err != nil {
		return err
	}
	if errRef := requireRef[models.Connection](ctx, s.db, "connection_id", m.ConnectionID); errRef != nil {
		return errRef
	}
	if errRef := requireRef[models.Deployment](ctx, s.db, "deployment_id", m.DeploymentID); errRef != nil {
		return errRef
	}
	if m.Weight <= 0 {
		m.Weight = 1
	}
	return translateWriteError("create connection deployment", s.db.WithContext(ctx).Create(m).Error)
}

// GetConnectionDeployment loads a binding by id.
func (s *Store) GetConnectionDeployment(ctx context.Context, id string) (models.ConnectionDeployment, error) {
	if err := s.ready(); err != nil {
		return models.ConnectionDeployment{}, err
	}
	return getByID[models.ConnectionDeployment](ctx, s.db, id)
}

// ListConnectionDeployments returns bindings matching the filter.
func (s *Store) ListConnectionDeployments(ctx context.Context, filter ConnectionDeploymentFilter) ([]models.ConnectionDeployment, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	query := s.db.WithContext(ctx).Order("connection_id ASC, id ASC")
	if v := strings.TrimSpace(filter.ConnectionID); v != "" {
		query = query.Where("connection_id = ?", v)
	}
	if v := strings.TrimSpace(filter.DeploymentID); v != "" {
		query = query.Where("deployment_id = ?", v)
	}
	var rows []models.ConnectionDeployment
	if errFind := query.Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("store: list connection deployments: %w", errFind)
	}
	return rows, nil
}

// DeleteConnectionDeployment removes a binding.
func (s *Store) DeleteConnectionDeployment(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return deleteByID[models.ConnectionDeployment](ctx, s.db, id)
}

// ListDeploymentConnections returns the connections bound to a deployment, ordered by connection id.
func (s *Store) ListDeploymentConnections(ctx context.Context, deploymentID string) ([]WeightedConnection, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	maps, errMaps := s.ListConnectionDeployments(ctx, ConnectionDeploymentFilter{DeploymentID: deploymentID})
	if errMaps != nil {
		return nil, errMaps
	}
	if len(maps) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(maps))
	for _, m := range maps {
		ids = append(ids, m.ConnectionID)
	}
	var conns []models.Connection
	if errFind := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&conns).Error; errFind != nil {
		return nil, fmt.Errorf("store: load deployment connections: %w", errFind)
	}
	byID := make(map[string]models.Connection, len(conns))
	for _, c := range conns {
		byID[c.ID] = c
	}

	out := make([]WeightedConnection, 0, len(maps))
	for _, m := range maps {
		conn, ok := byID[m.ConnectionID]
		if !ok {
			continue
		}
		opened, errOpen := s.openConnection(conn)
		if errOpen != nil {
			return nil, errOpen
		}
		out = append(out, WeightedConnection{MapID: m.ID, Weight: m.Weight, Connection: opened})
	}
	return out, nil
}

// CreateVirtualKeyDeployment grants a key access to a deployment.
// Both ends must exist; a duplicate pair returns ErrConflict.
func (s *Store) CreateVirtualKeyDeployment(ctx context.Context, m *models.VirtualKeyDeployment) error {
	if err := s.ready(); err != nil {
		return err
	}
	if errRef := requireRef[models.VirtualKey](ctx, s.db, "virtual_key_id", m.VirtualKeyID); errRef != nil {
		return errRef
	}
	if errRef := requireRef[models.Deployment](ctx, s.db, "deployment_id", m.DeploymentID); errRef != nil {
		return errRef
	}
	return translateWriteError("create virtual key deployment", s.db.WithContext(ctx).Create(m).Error)
}

// GetVirtualKeyDeployment loads a grant by id.
func (s *Store) GetVirtualKeyDeployment(ctx context.Context, id string) (models.VirtualKeyDeployment, error) {
	if err := s.ready(); err != nil {
		return models.VirtualKeyDeployment{}, err
	}
	return getByID[models.VirtualKeyDeployment](ctx, s.db, id)
}

// ListVirtualKeyDeployments returns grants matching the filter.
func (s *Store) ListVirtualKeyDeployments(ctx context.Context, filter VirtualKeyDeploymentFilter) ([]models.VirtualKeyDeployment, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	query := s.db.WithContext(ctx).Order("created_at ASC, id ASC")
	if v := strings.TrimSpace(filter.VirtualKeyID); v != "" {
		query = query.Where("virtual_key_id = ?", v)
	}
	if v := strings.TrimSpace(filter.DeploymentID); v != "" {
		query = query.Where("deployment_id = ?", v)
	}
	var rows []models.VirtualKeyDeployment
	if errFind := query.Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("store: list virtual key deployments: %w", errFind)
	}
	return rows, nil
}

// DeleteVirtualKeyDeployment removes a grant.
func (s *Store) DeleteVirtualKeyDeployment(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return deleteByID[models.VirtualKeyDeployment](ctx, s.db, id)
}

// HasVirtualKeyDeployment reports whether the key may call the deployment.
func (s *Store) HasVirtualKeyDeployment(ctx context.Context, virtualKeyID, deploymentID string) (bool, error) {
	if err := s.ready(); err != nil {
		return false, err
	}
	var count int64
	if errCount := s.db.WithContext(ctx).
		Model(&models.VirtualKeyDeployment{}).
		Where("virtual_key_id = ? AND deployment_id = ?", virtualKeyID, deploymentID).
		Count(&count).Error; errCount != nil {
		return false, fmt.Errorf("store: check grant: %w", errCount)
	}
	return count > 0, nil
}
