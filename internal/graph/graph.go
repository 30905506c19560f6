// Package graph resolves a virtual key and a deployment name into the set of
// entities a request is routed through.
package graph

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/llmur/llmur/internal/models"
	"github.com/llmur/llmur/internal/security"
	"github.com/llmur/llmur/internal/store"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrUnauthorized covers absent, malformed and unknown virtual keys.
	ErrUnauthorized = errors.New("graph: invalid virtual key")
	// ErrKeyBlocked is returned for a known key that may not call deployments.
	ErrKeyBlocked = errors.New("graph: virtual key is blocked")
	// ErrDeploymentNotFound is returned when no deployment carries the requested name.
	ErrDeploymentNotFound = errors.New("graph: deployment not found")
	// ErrNotPermitted is returned when the key holds no grant for the deployment.
	ErrNotPermitted = errors.New("graph: deployment not permitted for virtual key")
	// ErrNoConnections is returned for a deployment without mapped connections.
	ErrNoConnections = errors.New("graph: deployment has no connections")
)

// Source is the persistence the resolver reads from.
type Source interface {
	FindVirtualKeyBySecret(ctx context.Context, secret string) (models.VirtualKey, error)
	GetProject(ctx context.Context, id string) (models.Project, error)
	FindDeploymentsByName(ctx context.Context, name string) ([]models.Deployment, error)
	ListVirtualKeyDeployments(ctx context.Context, filter store.VirtualKeyDeploymentFilter) ([]models.VirtualKeyDeployment, error)
	ListDeploymentConnections(ctx context.Context, deploymentID string) ([]store.WeightedConnection, error)
}

// Identity is an authenticated virtual key with its project and grants.
type Identity struct {
	Key       models.VirtualKey
	Project   models.Project
	permitted map[string]struct{}
}

// Permits reports whether the key holds a grant for deploymentID.
func (id *Identity) Permits(deploymentID string) bool {
	if id == nil {
		return false
	}
	_, ok := id.permitted[deploymentID]
	return ok
}

// PermittedDeployments returns the ids of every granted deployment.
func (id *Identity) PermittedDeployments() []string {
	if id == nil {
		return nil
	}
	out := make([]string, 0, len(id.permitted))
	for depID := range id.permitted {
		out = append(out, depID)
	}
	return out
}

// Graph is a fully resolved request path.
type Graph struct {
	Identity    *Identity
	Deployment  models.Deployment
	Connections []store.WeightedConnection
}

// Resolver resolves virtual keys and deployments in routing order.
type Resolver struct {
	src Source
}

// NewResolver constructs a Resolver over src.
func NewResolver(src Source) *Resolver {
	return &Resolver{src: src}
}

// ParseBearer extracts the token of an "Authorization: Bearer <token>" header.
func ParseBearer(header string) (string, error) {
	fields := strings.Fields(header)
	if len(fields) != 2 || fields[0] != "Bearer" {
		return "", ErrUnauthorized
	}
	return fields[1], nil
}

// ResolveVirtualKey authenticates token. Blocked keys resolve successfully; callers decide.
func (r *Resolver) ResolveVirtualKey(ctx context.Context, token string) (*Identity, error) {
	if r == nil || r.src == nil {
		return nil, fmt.Errorf("graph: resolver not initialized")
	}
	token = strings.TrimSpace(token)
	if token == "" || !strings.HasPrefix(token, security.VirtualKeyPrefix) {
		return nil, ErrUnauthorized
	}
	key, errKey := r.src.FindVirtualKeyBySecret(ctx, token)
	if errKey != nil {
		if errors.Is(errKey, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("graph: resolve virtual key: %w", errKey)
	}
	project, errProject := r.src.GetProject(ctx, key.ProjectID)
	if errProject != nil {
		if errors.Is(errProject, store.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("graph: resolve project: %w", errProject)
	}
	grants, errGrants := r.src.ListVirtualKeyDeployments(ctx, store.VirtualKeyDeploymentFilter{VirtualKeyID: key.ID})
	if errGrants != nil {
		return nil, fmt.Errorf("graph: load grants: %w", errGrants)
	}
	permitted := make(map[string]struct{}, len(grants))
	for _, g := range grants {
		permitted[g.DeploymentID] = struct{}{}
	}
	return &Identity{Key: key, Project: project, permitted: permitted}, nil
}

// ResolveDeployment finds the deployment named name. When several share the name the
// earliest created one wins.
func (r *Resolver) ResolveDeployment(ctx context.Context, name string) (models.Deployment, error) {
	if r == nil || r.src == nil {
		return models.Deployment{}, fmt.Errorf("graph: resolver not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Deployment{}, ErrDeploymentNotFound
	}
	found, err := r.src.FindDeploymentsByName(ctx, name)
	if err != nil {
		return models.Deployment{}, fmt.Errorf("graph: find deployment: %w", err)
	}
	if len(found) == 0 {
		return models.Deployment{}, ErrDeploymentNotFound
	}
	if len(found) > 1 {
		log.WithFields(log.Fields{
			"deployment": name,
			"matches":    len(found),
			"chosen":     found[0].ID,
		}).Warn("graph: deployment name is ambiguous, using the earliest created")
	}
	return found[0], nil
}

// Resolve runs the inference resolution order: key, deployment, grant, connections.
// Blocked keys are rejected.
func (r *Resolver) Resolve(ctx context.Context, token, deploymentName string) (*Graph, error) {
	return r.resolve(ctx, token, deploymentName, true)
}

// Inspect resolves like Resolve but reports blocked keys instead of rejecting them.
func (r *Resolver) Inspect(ctx context.Context, token, deploymentName string) (*Graph, error) {
	return r.resolve(ctx, token, deploymentName, false)
}

func (r *Resolver) resolve(ctx context.Context, token, deploymentName string, rejectBlocked bool) (*Graph, error) {
	identity, errKey := r.ResolveVirtualKey(ctx, token)
	if errKey != nil {
		return nil, errKey
	}
	if rejectBlocked && identity.Key.Blocked {
		return nil, ErrKeyBlocked
	}
	deployment, errDep := r.ResolveDeployment(ctx, deploymentName)
	if errDep != nil {
		return nil, errDep
	}
	if !identity.Permits(deployment.ID) {
		return nil, ErrNotPermitted
	}
	conns, errConns := r.src.ListDeploymentConnections(ctx, deployment.ID)
	if errConns != nil {
		return nil, fmt.Errorf("graph: load connections: %w", errConns)
	}
	if len(conns) == 0 {
		return nil, ErrNoConnections
	}
	return &Graph{Identity: identity, Deployment: deployment, Connections: conns}, nil
}

// StatusCode maps a resolution error to the inference status vocabulary.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrKeyBlocked), errors.Is(err, ErrNotPermitted):
		return http.StatusUnauthorized
	case errors.Is(err, ErrDeploymentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNoConnections):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// InspectStatusCode maps a resolution error for the introspection route, where a
// missing grant reads as an unknown deployment.
func InspectStatusCode(err error) int {
	if errors.Is(err, ErrNotPermitted) {
		return http.StatusNotFound
	}
	return StatusCode(err)
}
