package security

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/llmur/llmur/internal/models"
	"gorm.io/gorm"
)

func TestGenerateVirtualKeyPrefixAndUniqueness(t *testing.T) {
	first, err := GenerateVirtualKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	second, err := GenerateVirtualKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(first, VirtualKeyPrefix) {
		t.Fatalf("expected prefix %q, got %q", VirtualKeyPrefix, first)
	}
	if first == second {
		t.Fatalf("expected distinct keys")
	}
}

func TestDefaultAlias(t *testing.T) {
	if got := DefaultAlias("sk-abcdefgh1234"); got != "sk-...1234" {
		t.Fatalf("expected sk-...1234, got %q", got)
	}
}

func TestHashKeyDependsOnSecret(t *testing.T) {
	a := HashKey("sk-one", "secret-a")
	b := HashKey("sk-one", "secret-b")
	if a == b {
		t.Fatalf("expected different hashes for different app secrets")
	}
	if a != HashKey("sk-one", "secret-a") {
		t.Fatalf("expected deterministic hash")
	}
}

func TestSealerRoundTrip(t *testing.T) {
	sealer, err := NewSealer("app-secret")
	if err != nil {
		t.Fatalf("new sealer: %v", err)
	}
	sealed, err := sealer.Seal("sk-secret")
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if sealed == "sk-secret" {
		t.Fatalf("expected ciphertext to differ from plaintext")
	}
	opened, err := sealer.Open(sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if opened != "sk-secret" {
		t.Fatalf("expected sk-secret, got %q", opened)
	}

	other, _ := NewSealer("other-secret")
	if _, errOpen := other.Open(sealed); errOpen == nil {
		t.Fatalf("expected open with a different secret to fail")
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("Hello1234")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if !CheckPassword(hash, "Hello1234") {
		t.Fatalf("expected password to match")
	}
	if CheckPassword(hash, "wrong") {
		t.Fatalf("expected wrong password to fail")
	}
}

func openSessionDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := conn.AutoMigrate(&models.User{}, &models.SessionToken{}); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	return conn
}

func TestSessionIssueResolveRevoke(t *testing.T) {
	conn := openSessionDB(t)
	user := models.User{Email: "a@example.com", PasswordHash: "x", Role: models.RoleMember}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}

	manager := NewSessionManager(conn, "jwt-secret", time.Hour)
	ctx := context.Background()
	token, session, err := manager.Issue(ctx, user.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if session.UserID != user.ID || session.Revoked {
		t.Fatalf("unexpected session row: %+v", session)
	}

	resolved, err := manager.Resolve(ctx, token)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.ID != user.ID {
		t.Fatalf("expected user %s, got %s", user.ID, resolved.ID)
	}

	if errRevoke := manager.Revoke(ctx, session.ID); errRevoke != nil {
		t.Fatalf("revoke: %v", errRevoke)
	}
	if _, errResolve := manager.Resolve(ctx, token); errResolve != ErrInvalidSession {
		t.Fatalf("expected ErrInvalidSession after revoke, got %v", errResolve)
	}
}

func TestSessionResolveRejectsExpiredAndForeignTokens(t *testing.T) {
	conn := openSessionDB(t)
	user := models.User{Email: "b@example.com", PasswordHash: "x", Role: models.RoleMember}
	if errCreate := conn.Create(&user).Error; errCreate != nil {
		t.Fatalf("create user: %v", errCreate)
	}

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	manager := NewSessionManager(conn, "jwt-secret", time.Minute)
	manager.nowFn = func() time.Time { return now }
	token, _, err := manager.Issue(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	other := NewSessionManager(conn, "other-secret", time.Minute)
	other.nowFn = manager.nowFn
	if _, errResolve := other.Resolve(context.Background(), token); errResolve != ErrInvalidSession {
		t.Fatalf("expected foreign signature to fail, got %v", errResolve)
	}

	now = now.Add(2 * time.Minute)
	if _, errResolve := manager.Resolve(context.Background(), token); errResolve != ErrInvalidSession {
		t.Fatalf("expected expired token to fail, got %v", errResolve)
	}
	if _, errResolve := manager.Resolve(context.Background(), "not-a-jwt"); errResolve != ErrInvalidSession {
		t.Fatalf("expected malformed token to fail, got %v", errResolve)
	}
}
