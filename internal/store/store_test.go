package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/llmur/llmur/internal/db"
	"github.com/llmur/llmur/internal/models"
	"github.com/llmur/llmur/internal/security"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	conn, err := db.Open(fmt.Sprintf("sqlite:file:%s?mode=memory&cache=shared", uuid.NewString()))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate: %v", errMigrate)
	}
	sealer, err := security.NewSealer("test-app-secret")
	if err != nil {
		t.Fatalf("sealer: %v", err)
	}
	return New(conn, sealer, "test-app-secret")
}

func TestVirtualKeyRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	project := models.Project{Name: "p"}
	if err := s.CreateProject(ctx, &project); err != nil {
		t.Fatalf("create project: %v", err)
	}
	key := models.VirtualKey{ProjectID: project.ID}
	if err := s.CreateVirtualKey(ctx, &key); err != nil {
		t.Fatalf("create key: %v", err)
	}
	if !strings.HasPrefix(key.Key, "sk-") || !strings.HasPrefix(key.Alias, "sk-") {
		t.Fatalf("expected sk- prefixes, got key=%q alias=%q", key.Key, key.Alias)
	}

	got, err := s.GetVirtualKey(ctx, key.ID)
	if err != nil {
		t.Fatalf("get key: %v", err)
	}
	if got.ProjectID != project.ID || got.Alias != key.Alias || got.Blocked || got.Key != key.Key {
		t.Fatalf("unexpected key after round trip: %+v", got)
	}
	if got.SealedKey == key.Key {
		t.Fatalf("expected secret to be sealed at rest")
	}

	found, err := s.FindVirtualKeyBySecret(ctx, key.Key)
	if err != nil {
		t.Fatalf("find by secret: %v", err)
	}
	if found.ID != key.ID {
		t.Fatalf("expected key %s, got %s", key.ID, found.ID)
	}
	if _, err := s.FindVirtualKeyBySecret(ctx, "sk-unknown"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown secret, got %v", err)
	}
}

func TestCreateVirtualKeyRequiresProject(t *testing.T) {
	s := newTestStore(t)
	err := s.CreateVirtualKey(context.Background(), &models.VirtualKey{ProjectID: uuid.NewString()})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	var refErr *ReferenceError
	if !errors.As(err, &refErr) || refErr.Field != "project_id" {
		t.Fatalf("expected project_id reference error, got %v", err)
	}
}

func TestDeleteTwiceReturnsNotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	deployment := models.Deployment{Name: "d", Access: models.AccessPublic, Strategy: models.StrategyRoundRobin}
	if err := s.CreateDeployment(ctx, &deployment); err != nil {
		t.Fatalf("create deployment: %v", err)
	}
	if err := s.DeleteDeployment(ctx, deployment.ID); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := s.DeleteDeployment(ctx, deployment.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestConnectionDeploymentConstraints(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conn := models.Connection{Provider: models.ProviderOpenAI, Model: "gpt", APIEndpoint: "http://x", APIKey: "upstream"}
	if err := s.CreateConnection(ctx, &conn); err != nil {
		t.Fatalf("create connection: %v", err)
	}
	if conn.APIKey != "upstream" {
		t.Fatalf("expected plain key after create, got %q", conn.APIKey)
	}
	deployment := models.Deployment{Name: "d", Access: models.AccessPublic, Strategy: models.StrategyRoundRobin}
	if err := s.CreateDeployment(ctx, &deployment); err != nil {
		t.Fatalf("create deployment: %v", err)
	}

	bad := models.ConnectionDeployment{ConnectionID: uuid.NewString(), DeploymentID: deployment.ID}
	if err := s.CreateConnectionDeployment(ctx, &bad); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing connection, got %v", err)
	}

	first := models.ConnectionDeployment{ConnectionID: conn.ID, DeploymentID: deployment.ID}
	if err := s.CreateConnectionDeployment(ctx, &first); err != nil {
		t.Fatalf("create map: %v", err)
	}
	if first.Weight != 1 {
		t.Fatalf("expected default weight 1, got %d", first.Weight)
	}
	dup := models.ConnectionDeployment{ConnectionID: conn.ID, DeploymentID: deployment.ID, Weight: 3}
	if err := s.CreateConnectionDeployment(ctx, &dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate pair, got %v", err)
	}

	bound, err := s.ListDeploymentConnections(ctx, deployment.ID)
	if err != nil {
		t.Fatalf("list deployment connections: %v", err)
	}
	if len(bound) != 1 || bound[0].Connection.APIKey != "upstream" {
		t.Fatalf("unexpected bound connections: %+v", bound)
	}

	if err := s.DeleteConnection(ctx, conn.ID); err != nil {
		t.Fatalf("delete connection: %v", err)
	}
	bound, err = s.ListDeploymentConnections(ctx, deployment.ID)
	if err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if len(bound) != 0 {
		t.Fatalf("expected bindings removed with connection, got %d", len(bound))
	}
}

func TestListDeploymentConnectionsOrderedByConnectionID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	deployment := models.Deployment{Name: "d", Access: models.AccessPublic, Strategy: models.StrategyWeightedRoundRobin}
	if err := s.CreateDeployment(ctx, &deployment); err != nil {
		t.Fatalf("create deployment: %v", err)
	}
	ids := []string{"cccccccc-0000-0000-0000-000000000000", "aaaaaaaa-0000-0000-0000-000000000000", "bbbbbbbb-0000-0000-0000-000000000000"}
	for i, id := range ids {
		conn := models.Connection{ID: id, Provider: models.ProviderOpenAI, Model: "m", APIEndpoint: "http://x", APIKey: "k"}
		if err := s.CreateConnection(ctx, &conn); err != nil {
			t.Fatalf("create connection: %v", err)
		}
		m := models.ConnectionDeployment{ConnectionID: id, DeploymentID: deployment.ID, Weight: i + 1}
		if err := s.CreateConnectionDeployment(ctx, &m); err != nil {
			t.Fatalf("create map: %v", err)
		}
	}
	bound, err := s.ListDeploymentConnections(ctx, deployment.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(bound) != 3 {
		t.Fatalf("expected 3 connections, got %d", len(bound))
	}
	if bound[0].Connection.ID != ids[1] || bound[1].Connection.ID != ids[2] || bound[2].Connection.ID != ids[0] {
		t.Fatalf("expected connection id order, got %s %s %s", bound[0].Connection.ID, bound[1].Connection.ID, bound[2].Connection.ID)
	}
}

func TestVirtualKeyGrants(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	project := models.Project{Name: "p"}
	if err := s.CreateProject(ctx, &project); err != nil {
		t.Fatalf("create project: %v", err)
	}
	key := models.VirtualKey{ProjectID: project.ID}
	if err := s.CreateVirtualKey(ctx, &key); err != nil {
		t.Fatalf("create key: %v", err)
	}
	deployment := models.Deployment{Name: "d", Access: models.AccessPrivate, Strategy: models.StrategyRoundRobin}
	if err := s.CreateDeployment(ctx, &deployment); err != nil {
		t.Fatalf("create deployment: %v", err)
	}

	ok, err := s.HasVirtualKeyDeployment(ctx, key.ID, deployment.ID)
	if err != nil || ok {
		t.Fatalf("expected no grant yet, got ok=%v err=%v", ok, err)
	}
	grant := models.VirtualKeyDeployment{VirtualKeyID: key.ID, DeploymentID: deployment.ID}
	if err := s.CreateVirtualKeyDeployment(ctx, &grant); err != nil {
		t.Fatalf("create grant: %v", err)
	}
	ok, err = s.HasVirtualKeyDeployment(ctx, key.ID, deployment.ID)
	if err != nil || !ok {
		t.Fatalf("expected grant, got ok=%v err=%v", ok, err)
	}
	dup := models.VirtualKeyDeployment{VirtualKeyID: key.ID, DeploymentID: deployment.ID}
	if err := s.CreateVirtualKeyDeployment(ctx, &dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	if err := s.DeleteProject(ctx, project.ID); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	if _, err := s.GetVirtualKey(ctx, key.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected key removed with project, got %v", err)
	}
	grants, err := s.ListVirtualKeyDeployments(ctx, VirtualKeyDeploymentFilter{DeploymentID: deployment.ID})
	if err != nil {
		t.Fatalf("list grants: %v", err)
	}
	if len(grants) != 0 {
		t.Fatalf("expected grants removed with project, got %d", len(grants))
	}
}

func TestFindDeploymentsByNameEarliestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	first := models.Deployment{Name: "shared", Access: models.AccessPublic, Strategy: models.StrategyRoundRobin}
	if err := s.CreateDeployment(ctx, &first); err != nil {
		t.Fatalf("create: %v", err)
	}
	second := models.Deployment{Name: "shared", Access: models.AccessPublic, Strategy: models.StrategyRoundRobin}
	second.CreatedAt = first.CreatedAt.Add(time.Second)
	if err := s.CreateDeployment(ctx, &second); err != nil {
		t.Fatalf("create: %v", err)
	}
	rows, err := s.FindDeploymentsByName(ctx, "shared")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != first.ID {
		t.Fatalf("expected earliest deployment first, got %+v", rows)
	}
}

func TestUsersByEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	user := models.User{Email: " Alice@Example.com ", PasswordHash: "h", Role: models.RoleMember}
	if err := s.CreateUser(ctx, &user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	got, err := s.FindUserByEmail(ctx, "alice@example.com")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("expected %s, got %s", user.ID, got.ID)
	}
	dup := models.User{Email: "alice@example.com", PasswordHash: "h", Role: models.RoleMember}
	if err := s.CreateUser(ctx, &dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate email, got %v", err)
	}
}
