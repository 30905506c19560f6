package graph

import (
	"time"

	"github.com/llmur/llmur/internal/models"
)

const redacted = "[REDACTED]"

// View is the JSON rendering of a Graph with provider credentials redacted.
type View struct {
	VirtualKey  VirtualKeyView   `json:"virtual_key"`
	Project     ProjectView      `json:"project"`
	Deployment  DeploymentView   `json:"deployment"`
	Connections []ConnectionView `json:"connections"`
}

type VirtualKeyView struct {
	ID            string               `json:"id"`
	ProjectID     string               `json:"project_id"`
	Key           string               `json:"key"`
	Alias         string               `json:"alias"`
	Description   string               `json:"description,omitempty"`
	Blocked       bool                 `json:"blocked"`
	RequestLimits models.RequestLimits `json:"request_limits"`
	TokenLimits   models.TokenLimits   `json:"token_limits"`
}

type ProjectView struct {
	ID            string               `json:"id"`
	Name          string               `json:"name"`
	RequestLimits models.RequestLimits `json:"request_limits"`
	TokenLimits   models.TokenLimits   `json:"token_limits"`
}

type DeploymentView struct {
	ID            string               `json:"id"`
	Name          string               `json:"name"`
	Access        models.Access        `json:"access"`
	Strategy      models.Strategy      `json:"strategy"`
	RequestLimits models.RequestLimits `json:"request_limits"`
	TokenLimits   models.TokenLimits   `json:"token_limits"`
	CreatedAt     time.Time            `json:"created_at"`
}

type ConnectionView struct {
	MapID          string `json:"map_id"`
	Weight         int    `json:"weight"`
	ID             string `json:"id"`
	Provider       string `json:"provider"`
	Model          string `json:"model,omitempty"`
	DeploymentName string `json:"deployment_name,omitempty"`
	APIEndpoint    string `json:"api_endpoint"`
	APIVersion     string `json:"api_version,omitempty"`
	APIKey         string `json:"api_key"`
}

// Render builds the redacted view. The virtual key keeps its own secret.
func (g *Graph) Render() View {
	if g == nil || g.Identity == nil {
		return View{Connections: []ConnectionView{}}
	}
	key := g.Identity.Key
	project := g.Identity.Project
	out := View{
		VirtualKey: VirtualKeyView{
			ID:            key.ID,
			ProjectID:     key.ProjectID,
			Key:           key.Key,
			Alias:         key.Alias,
			Description:   key.Description,
			Blocked:       key.Blocked,
			RequestLimits: key.RequestLimits.Data(),
			TokenLimits:   key.TokenLimits.Data(),
		},
		Project: ProjectView{
			ID:            project.ID,
			Name:          project.Name,
			RequestLimits: project.RequestLimits.Data(),
			TokenLimits:   project.TokenLimits.Data(),
		},
		Deployment: DeploymentView{
			ID:            g.Deployment.ID,
			Name:          g.Deployment.Name,
			Access:        g.Deployment.Access,
			Strategy:      g.Deployment.Strategy,
			RequestLimits: g.Deployment.RequestLimits.Data(),
			TokenLimits:   g.Deployment.TokenLimits.Data(),
			CreatedAt:     g.Deployment.CreatedAt,
		},
		Connections: make([]ConnectionView, 0, len(g.Connections)),
	}
	for _, wc := range g.Connections {
		out.Connections = append(out.Connections, ConnectionView{
			MapID:          wc.MapID,
			Weight:         wc.Weight,
			ID:             wc.Connection.ID,
			Provider:       wc.Connection.Provider,
			Model:          wc.Connection.Model,
			DeploymentName: wc.Connection.DeploymentName,
			APIEndpoint:    wc.Connection.APIEndpoint,
			APIVersion:     wc.Connection.APIVersion,
			APIKey:         redacted,
		})
	}
	return out
}
