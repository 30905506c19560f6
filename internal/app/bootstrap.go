package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/llmur/llmur/internal/config"
	"github.com/llmur/llmur/internal/models"
	"github.com/llmur/llmur/internal/security"
	"github.com/llmur/llmur/internal/store"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// HasUsers reports whether at least one user account exists.
func HasUsers(conn *gorm.DB) (bool, error) {
	if conn == nil {
		return false, fmt.Errorf("nil db")
	}
	if !conn.Migrator().HasTable(&models.User{}) {
		return false, nil
	}
	var count int64
	if errCount := conn.Model(&models.User{}).Count(&count).Error; errCount != nil {
		return false, errCount
	}
	return count > 0, nil
}

// EnsureBootstrapAdmin creates the configured admin user when the database has no users yet.
// It reports whether a user was created.
func EnsureBootstrapAdmin(ctx context.Context, st *store.Store, cfg config.BootstrapAdminConfig) (bool, error) {
	email := strings.TrimSpace(cfg.Email)
	if email == "" || st == nil {
		return false, nil
	}
	exists, errCheck := HasUsers(st.DB())
	if errCheck != nil {
		return false, fmt.Errorf("check users: %w", errCheck)
	}
	if exists {
		return false, nil
	}

	hash, errHash := security.HashPassword(cfg.Password)
	if errHash != nil {
		return false, fmt.Errorf("hash bootstrap password: %w", errHash)
	}
	user := models.User{
		Email:        email,
		Name:         "admin",
		PasswordHash: hash,
		Role:         models.RoleAdmin,
	}
	if errCreate := st.CreateUser(ctx, &user); errCreate != nil {
		return false, fmt.Errorf("create bootstrap admin: %w", errCreate)
	}
	log.Infof("created bootstrap admin user %s", user.Email)
	return true, nil
}
