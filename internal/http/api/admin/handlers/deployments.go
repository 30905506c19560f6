package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/llmur/llmur/internal/models"
	"github.com/llmur/llmur/internal/store"
	"gorm.io/datatypes"
)

// RouterState is the routing state dropped when a deployment goes away.
type RouterState interface {
	Forget(ctx context.Context, deploymentID string)
}

// DeploymentHandler manages deployments.
type DeploymentHandler struct {
	store  *store.Store
	router RouterState
}

// NewDeploymentHandler constructs a DeploymentHandler. router may be nil.
func NewDeploymentHandler(st *store.Store, router RouterState) *DeploymentHandler {
	return &DeploymentHandler{store: st, router: router}
}

type createDeploymentRequest struct {
	Name     string `json:"name" binding:"required"`
	Access   string `json:"access"`
	Strategy string `json:"strategy"`
	limitsPayload
}

// Create creates a deployment. Access defaults to private and strategy to round_robin.
func (h *DeploymentHandler) Create(c *gin.Context) {
	var body createDeploymentRequest
	if !bindJSON(c, &body) {
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "name must not be blank"})
		return
	}
	access := models.Access(strings.TrimSpace(body.Access))
	if access == "" {
		access = models.AccessPrivate
	}
	if !access.Valid() {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid access"})
		return
	}
	strategy := models.Strategy(strings.TrimSpace(body.Strategy))
	if strategy == "" {
		strategy = models.StrategyRoundRobin
	}
	if !strategy.Valid() {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid strategy"})
		return
	}

	deployment := models.Deployment{
		Name:          name,
		Access:        access,
		Strategy:      strategy,
		RequestLimits: datatypes.NewJSONType(body.requestLimits()),
		TokenLimits:   datatypes.NewJSONType(body.tokenLimits()),
	}
	if errCreate := h.store.CreateDeployment(c.Request.Context(), &deployment); errCreate != nil {
		writeStoreError(c, errCreate, "create deployment")
		return
	}
	c.JSON(http.StatusOK, formatDeployment(&deployment))
}

// Get returns a deployment by id.
func (h *DeploymentHandler) Get(c *gin.Context) {
	deployment, errGet := h.store.GetDeployment(c.Request.Context(), pathID(c))
	if errGet != nil {
		writeStoreError(c, errGet, "get deployment")
		return
	}
	c.JSON(http.StatusOK, formatDeployment(&deployment))
}

// List returns every deployment.
func (h *DeploymentHandler) List(c *gin.Context) {
	rows, errList := h.store.ListDeployments(c.Request.Context())
	if errList != nil {
		writeStoreError(c, errList, "list deployments")
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatDeployment(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"deployments": out})
}

// Delete removes a deployment with its bindings and grants.
func (h *DeploymentHandler) Delete(c *gin.Context) {
	id := pathID(c)
	if errDelete := h.store.DeleteDeployment(c.Request.Context(), id); errDelete != nil {
		writeStoreError(c, errDelete, "delete deployment")
		return
	}
	if h.router != nil {
		h.router.Forget(c.Request.Context(), id)
	}
	deleted(c)
}

func formatDeployment(d *models.Deployment) gin.H {
	return gin.H{
		"id":             d.ID,
		"name":           d.Name,
		"access":         d.Access,
		"strategy":       d.Strategy,
		"request_limits": d.RequestLimits.Data(),
		"token_limits":   d.TokenLimits.Data(),
		"created_at":     d.CreatedAt,
		"updated_at":     d.UpdatedAt,
	}
}
