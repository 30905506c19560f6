package store

import (
	"context"
	"fmt"

	"github.com/llmur/llmur/internal/models"
	"gorm.io/gorm"
)

// CreateProject inserts a project.
func (s *Store) CreateProject(ctx context.Context, project *models.Project) error {
	if err := s.ready(); err != nil {
		return err
	}
	return translateWriteError("create project", s.db.WithContext(ctx).Create(project).Error)
}

// GetProject loads a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (models.Project, error) {
	if err := s.ready(); err != nil {
		return models.Project{}, err
	}
	return getByID[models.Project](ctx, s.db, id)
}

// ListProjects returns every project, oldest first.
func (s *Store) ListProjects(ctx context.Context) ([]models.Project, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var rows []models.Project
	if errFind := s.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("store: list projects: %w", errFind)
	}
	return rows, nil
}

// DeleteProject removes a project together with its virtual keys and their grants.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		keyIDs := tx.Model(&models.VirtualKey{}).Select("id").Where("project_id = ?", id)
		if errDelete := tx.Where("virtual_key_id IN (?)", keyIDs).Delete(&models.VirtualKeyDeployment{}).Error; errDelete != nil {
			return fmt.Errorf("store: delete project grants: %w", errDelete)
		}
		if errDelete := tx.Where("project_id = ?", id).Delete(&models.VirtualKey{}).Error; errDelete != nil {
			return fmt.Errorf("store: delete project keys: %w", errDelete)
		}
		return deleteByID[models.Project](ctx, tx, id)
	})
}
