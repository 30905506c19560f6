package security

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/llmur/llmur/internal/models"
	"gorm.io/gorm"
)

// ErrInvalidSession is returned for unknown, expired, revoked or malformed session tokens.
var ErrInvalidSession = errors.New("security: invalid session token")

const defaultSessionExpiry = 30 * 24 * time.Hour

// SessionClaims are the JWT claims carried by a session token.
type SessionClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// SessionManager issues and resolves admin session tokens.
type SessionManager struct {
	db     *gorm.DB
	secret []byte
	expiry time.Duration
	nowFn  func() time.Time
}

// NewSessionManager constructs a SessionManager signing with secret.
func NewSessionManager(db *gorm.DB, secret string, expiry time.Duration) *SessionManager {
	if expiry <= 0 {
		expiry = defaultSessionExpiry
	}
	return &SessionManager{
		db:     db,
		secret: []byte(secret),
		expiry: expiry,
		nowFn:  time.Now,
	}
}

// Issue stores a new session for userID and returns its signed token.
func (m *SessionManager) Issue(ctx context.Context, userID string) (string, models.SessionToken, error) {
	if m == nil || m.db == nil {
		return "", models.SessionToken{}, fmt.Errorf("session: not initialized")
	}
	if len(m.secret) == 0 {
		return "", models.SessionToken{}, fmt.Errorf("session: missing signing secret")
	}
	now := m.nowFn().UTC()
	row := models.SessionToken{
		UserID:    userID,
		ExpiresAt: now.Add(m.expiry),
	}
	if errCreate := m.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return "", models.SessionToken{}, fmt.Errorf("session: create: %w", errCreate)
	}

	claims := SessionClaims{
		SessionID: row.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(row.ExpiresAt),
		},
	}
	token, errSign := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if errSign != nil {
		return "", models.SessionToken{}, fmt.Errorf("session: sign: %w", errSign)
	}
	return token, row, nil
}

// Resolve returns the user owning a valid session token.
func (m *SessionManager) Resolve(ctx context.Context, token string) (models.User, error) {
	token = strings.TrimSpace(token)
	if m == nil || m.db == nil || token == "" || len(m.secret) == 0 {
		return models.User{}, ErrInvalidSession
	}

	claims := &SessionClaims{}
	parsed, errParse := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.nowFn))
	if errParse != nil || !parsed.Valid || claims.SessionID == "" {
		return models.User{}, ErrInvalidSession
	}

	var session models.SessionToken
	if errFind := m.db.WithContext(ctx).Where("id = ?", claims.SessionID).Take(&session).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.User{}, ErrInvalidSession
		}
		return models.User{}, fmt.Errorf("session: load: %w", errFind)
	}
	if session.Revoked || !m.nowFn().UTC().Before(session.ExpiresAt) || session.UserID != claims.Subject {
		return models.User{}, ErrInvalidSession
	}

	var user models.User
	if errFind := m.db.WithContext(ctx).Where("id = ?", session.UserID).Take(&user).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return models.User{}, ErrInvalidSession
		}
		return models.User{}, fmt.Errorf("session: load user: %w", errFind)
	}
	if user.Blocked {
		return models.User{}, ErrInvalidSession
	}
	return user, nil
}

// Revoke marks a session as revoked.
func (m *SessionManager) Revoke(ctx context.Context, sessionID string) error {
	if m == nil || m.db == nil {
		return fmt.Errorf("session: not initialized")
	}
	res := m.db.WithContext(ctx).Model(&models.SessionToken{}).
		Where("id = ?", sessionID).
		Update("revoked", true)
	if res.Error != nil {
		return fmt.Errorf("session: revoke: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrInvalidSession
	}
	return nil
}
