package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/llmur/llmur/internal/db"
	"github.com/llmur/llmur/internal/security"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a unique constraint rejects a write.
	ErrConflict = errors.New("store: conflict")
)

// ReferenceError reports a foreign key that points at a missing row.
type ReferenceError struct {
	Field string
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("store: referenced %s not found", e.Field)
}

// Is makes ReferenceError match ErrNotFound.
func (e *ReferenceError) Is(target error) bool {
	return target == ErrNotFound
}

// Store persists gateway entities through GORM.
// Secrets are sealed before they reach the database and opened on read.
type Store struct {
	db        *gorm.DB
	sealer    *security.Sealer
	appSecret string
}

// New constructs a Store. A nil sealer stores secrets as given.
func New(conn *gorm.DB, sealer *security.Sealer, appSecret string) *Store {
	return &Store{db: conn, sealer: sealer, appSecret: appSecret}
}

// DB exposes the underlying connection.
func (s *Store) DB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store: not initialized")
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("store: handle: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return fmt.Errorf("store: not initialized")
	}
	return nil
}

func getByID[T any](ctx context.Context, conn *gorm.DB, id string) (T, error) {
	var row T
	id = strings.TrimSpace(id)
	if id == "" {
		return row, ErrNotFound
	}
	if errFind := conn.WithContext(ctx).Where("id = ?", id).Take(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return row, ErrNotFound
		}
		return row, fmt.Errorf("store: get: %w", errFind)
	}
	return row, nil
}

func exists[T any](ctx context.Context, conn *gorm.DB, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, nil
	}
	var count int64
	var model T
	if errCount := conn.WithContext(ctx).Model(&model).Where("id = ?", id).Count(&count).Error; errCount != nil {
		return false, fmt.Errorf("store: exists: %w", errCount)
	}
	return count > 0, nil
}

func requireRef[T any](ctx context.Context, conn *gorm.DB, field, id string) error {
	found, err := exists[T](ctx, conn, id)
	if err != nil {
		return err
	}
	if !found {
		return &ReferenceError{Field: field}
	}
	return nil
}

func deleteByID[T any](ctx context.Context, tx *gorm.DB, id string) error {
	var model T
	res := tx.WithContext(ctx).Where("id = ?", strings.TrimSpace(id)).Delete(&model)
	if res.Error != nil {
		return fmt.Errorf("store: delete: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func translateWriteError(op string, err error) error {
	if err == nil {
		return nil
	}
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("store: %s: %w", op, ErrConflict)
	}
	return fmt.Errorf("store: %s: %w", op, err)
}
