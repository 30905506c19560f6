package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/llmur/llmur/internal/models"
	"github.com/llmur/llmur/internal/security"
	"gorm.io/gorm"
)

// CreateVirtualKey generates the secret when missing, then inserts the key.
// The owning project must exist. On return key.Key holds the plain secret.
func (s *Store) CreateVirtualKey(ctx context.Context, key *models.VirtualKey) error {
	if err := s.ready(); err != nil {
		return err
	}
	if errRef := requireRef[models.Project](ctx, s.db, "project_id", key.ProjectID); errRef != nil {
		return errRef
	}

	if strings.TrimSpace(key.Key) == "" {
		secret, errGenerate := security.GenerateVirtualKey()
		if errGenerate != nil {
			return errGenerate
		}
		key.Key = secret
	}
	if strings.TrimSpace(key.Alias) == "" {
		key.Alias = security.DefaultAlias(key.Key)
	}
	sealed, errSeal := s.sealer.Seal(key.Key)
	if errSeal != nil {
		return fmt.Errorf("store: seal virtual key: %w", errSeal)
	}
	key.SealedKey = sealed
	key.KeyHash = security.HashKey(key.Key, s.appSecret)
	return translateWriteError("create virtual key", s.db.WithContext(ctx).Create(key).Error)
}

// GetVirtualKey loads a virtual key by id with its secret opened.
func (s *Store) GetVirtualKey(ctx context.Context, id string) (models.VirtualKey, error) {
	if err := s.ready(); err != nil {
		return models.VirtualKey{}, err
	}
	row, err := getByID[models.VirtualKey](ctx, s.db, id)
	if err != nil {
		return row, err
	}
	return s.openVirtualKey(row)
}

// FindVirtualKeyBySecret resolves a presented secret to its key.
func (s *Store) FindVirtualKeyBySecret(ctx context.Context, secret string) (models.VirtualKey, error) {
	if err := s.ready(); err != nil {
		return models.VirtualKey{}, err
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return models.VirtualKey{}, ErrNotFound
	}
	var row models.VirtualKey
	if errFind := s.db.WithContext(ctx).
		Where("key_hash = ?", security.HashKey(secret, s.appSecret)).
		Take(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.VirtualKey{}, ErrNotFound
		}
		return models.VirtualKey{}, fmt.Errorf("store: find virtual key: %w", errFind)
	}
	row.Key = secret
	return row, nil
}

// ListVirtualKeys returns keys, optionally restricted to one project.
func (s *Store) ListVirtualKeys(ctx context.Context, projectID string) ([]models.VirtualKey, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	query := s.db.WithContext(ctx).Order("created_at ASC, id ASC")
	if projectID = strings.TrimSpace(projectID); projectID != "" {
		query = query.Where("project_id = ?", projectID)
	}
	var rows []models.VirtualKey
	if errFind := query.Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("store: list virtual keys: %w", errFind)
	}
	for i := range rows {
		opened, errOpen := s.openVirtualKey(rows[i])
		if errOpen != nil {
			return nil, errOpen
		}
		rows[i] = opened
	}
	return rows, nil
}

// DeleteVirtualKey removes a key and its deployment grants. The secret stops working immediately.
func (s *Store) DeleteVirtualKey(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errDelete := tx.Where("virtual_key_id = ?", id).Delete(&models.VirtualKeyDeployment{}).Error; errDelete != nil {
			return fmt.Errorf("store: delete key grants: %w", errDelete)
		}
		return deleteByID[models.VirtualKey](ctx, tx, id)
	})
}

func (s *Store) openVirtualKey(row models.VirtualKey) (models.VirtualKey, error) {
	plain, errOpen := s.sealer.Open(row.SealedKey)
	if errOpen != nil {
		return models.VirtualKey{}, fmt.Errorf("store: open virtual key %s: %w", row.ID, errOpen)
	}
	row.Key = plain
	return row, nil
}
