package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/llmur/llmur/internal/models"
	"gorm.io/gorm"
)

// CreateUser inserts a user. The password must already be hashed.
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if err := s.ready(); err != nil {
		return err
	}
	user.Email = strings.ToLower(strings.TrimSpace(user.Email))
	return translateWriteError("create user", s.db.WithContext(ctx).Create(user).Error)
}

// GetUser loads a user by id.
func (s *Store) GetUser(ctx context.Context, id string) (models.User, error) {
	if err := s.ready(); err != nil {
		return models.User{}, err
	}
	return getByID[models.User](ctx, s.db, id)
}

// FindUserByEmail loads a user by login email.
func (s *Store) FindUserByEmail(ctx context.Context, email string) (models.User, error) {
	if err := s.ready(); err != nil {
		return models.User{}, err
	}
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return models.User{}, ErrNotFound
	}
	var user models.User
	if errFind := s.db.WithContext(ctx).Where("email = ?", email).Take(&user).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("store: find user: %w", errFind)
	}
	return user, nil
}

// ListUsers returns every user, oldest first.
func (s *Store) ListUsers(ctx context.Context) ([]models.User, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	var rows []models.User
	if errFind := s.db.WithContext(ctx).Order("created_at ASC, id ASC").Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("store: list users: %w", errFind)
	}
	return rows, nil
}

// DeleteUser removes a user and its sessions.
func (s *Store) DeleteUser(ctx context.Context, id string) error {
	if err := s.ready(); err != nil {
		return err
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errDelete := tx.Where("user_id = ?", id).Delete(&models.SessionToken{}).Error; errDelete != nil {
			return fmt.Errorf("store: delete user sessions: %w", errDelete)
		}
		return deleteByID[models.User](ctx, tx, id)
	})
}
