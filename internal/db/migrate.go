package db

import (
	"fmt"

	"github.com/llmur/llmur/internal/models"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	switch DialectName(conn) {
	case DialectSQLite, DialectPostgres, "":
	default:
		return fmt.Errorf("db: unsupported dialect: %s", DialectName(conn))
	}

	if errAutoMigrate := conn.AutoMigrate(
		&models.User{},
		&models.SessionToken{},
		&models.Project{},
		&models.Connection{},
		&models.Deployment{},
		&models.ConnectionDeployment{},
		&models.VirtualKey{},
		&models.VirtualKeyDeployment{},
		&models.RequestLog{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}
	return nil
}
