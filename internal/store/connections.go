package store

import (
	"context"
	"fmt"

	"github.com/llmur/llmur/internal/models"
	"gorm.io/gorm"
)

// CreateConnection seals the credential and inserts the connection.
// On return conn carries the plain credential again.
func (s *Store) CreateConnection(ctx context.Context, conn *models.Connection) error {
	if err := s.ready(); err != nil {
		return err
	}
	plain := conn.APIKey
	sealed, errSeal := s.sealer.Seal(plain)
	if errSeal != nil {
		return fmt.Errorf("store: seal connection key: %w", errSeal)
	}
	conn.APIKey = sealed
	errCreate := s.db.WithContext(ctx).Create(conn).Error
	conn.APIKey = plain
	return translateWriteError("create connection", errCreate)
}

// GetConnection loads a connection by id with its credential opened.
func (s *Store) GetConnection(ctx context.Context, id string) (models.Connection, error) {
	if err := s.ready(); err != nil {
		return models.Connection{}, err
	}
	row, err := getByID[models.Connection](ctx, s.db, id)
	if err != nil {
		return row, err
	}
	return s.openConnection(row)
}

// ListConnections returns every connection ordered by id.
func (s *Store) ListConnections(ctx context.Context) ([]models.Connection, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var rows []models.Connection
	if errFind := s.db.WithContext(ctx).Order("id ASC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("store: list connections: %w", errFind)
	}
	for i := range rows {
		opened, errOpen := s.openConnection(rows[i])
		if errOpen != nil {
			return nil, errOpen
		}
		rows[i] = opened
	}
	return rows, nil
}

// DeleteConnection removes a connection and every deployment binding it had.
func (s *Store) DeleteConnection(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errDelete := tx.Where("connection_id = ?", id).Delete(&models.ConnectionDeployment{}).Error; errDelete != nil {
			return fmt.Errorf("store: delete connection bindings: %w", errDelete)
		}
		return deleteByID[models.Connection](ctx, tx, id)
	})
}

func (s *Store) openConnection(row models.Connection) (models.Connection, error) {
	plain, errOpen := s.sealer.Open(row.APIKey)
	if errOpen != nil {
		return models.Connection{}, fmt.Errorf("store: open connection %s key: %w", row.ID, errOpen)
	}
	row.APIKey = plain
	return row, nil
}
