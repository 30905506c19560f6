package db

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// sqlitePrefix marks DSNs that should open an embedded SQLite database.
const sqlitePrefix = "sqlite:"

// pgUniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// Open connects to the database described by dsn.
// DSNs prefixed with "sqlite:" or ending in ".db" use SQLite, everything else PostgreSQL.
func Open(dsn string) (*gorm.DB, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("db: empty dsn")
	}

	cfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
	}

	var dialector gorm.Dialector
	if sqliteDSN, ok := sqliteSource(dsn); ok {
		dialector = sqlite.Open(sqliteDSN)
	} else {
		dialector = postgres.Open(dsn)
	}

	conn, err := gorm.Open(dialector, cfg)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	if IsSQLite(conn) {
		sqlDB, errDB := conn.DB()
		if errDB != nil {
			return nil, fmt.Errorf("db: sqlite handle: %w", errDB)
		}
		// SQLite allows a single writer.
		sqlDB.SetMaxOpenConns(1)
	}
	return conn, nil
}

func sqliteSource(dsn string) (string, bool) {
	if strings.HasPrefix(dsn, sqlitePrefix) {
		return strings.TrimPrefix(dsn, sqlitePrefix), true
	}
	if strings.HasSuffix(dsn, ".db") || strings.HasPrefix(dsn, "file:") {
		return dsn, true
	}
	return "", false
}

// IsUniqueViolation reports whether err comes from a unique constraint.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
