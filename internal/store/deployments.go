package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/llmur/llmur/internal/models"
	"gorm.io/gorm"
)

// CreateDeployment inserts a deployment.
func (s *Store) CreateDeployment(ctx context.Context, deployment *models.Deployment) error {
	if err := s.ready(); err != nil {
		return err
	}
	return translateWriteError("create deployment", s.db.WithContext(ctx).Create(deployment).Error)
}

// GetDeployment loads a deployment by id.
func (s *Store) GetDeployment(ctx context.Context, id string) (models.Deployment, error) {
	if err := s.ready(); err != nil {
		return models.Deployment{}, err
	}
	return getByID[models.Deployment](ctx, s.db, id)
}

// ListDeployments returns every deployment, oldest first.
func (s *Store) ListDeployments(ctx context.Context) ([]models.Deployment, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var rows []models.Deployment
	if errFind := s.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("store: list deployments: %w", errFind)
	}
	return rows, nil
}

// FindDeploymentsByName returns deployments named name, earliest created first.
func (s *Store) FindDeploymentsByName(ctx context.Context, name string) ([]models.Deployment, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	var rows []models.Deployment
	if errFind := s.db.WithContext(ctx).
		Where("name = ?", name).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("store: find deployment by name: %w", errFind)
	}
	return rows, nil
}

// DeleteDeployment removes a deployment with its connection bindings and key grants.
func (s *Store) DeleteDeployment(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errDelete := tx.Where("deployment_id = ?", id).Delete(&models.ConnectionDeployment{}).Error; errDelete != nil {
			return fmt.Errorf("store: delete deployment bindings: %w", errDelete)
		}
		if errDelete := tx.Where("deployment_id = ?", id).Delete(&models.VirtualKeyDeployment{}).Error; errDelete != nil {
			return fmt.Errorf("store: delete deployment grants: %w", errDelete)
		}
		return deleteByID[models.Deployment](ctx, tx, id)
	})
}
