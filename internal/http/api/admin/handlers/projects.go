package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/llmur/llmur/internal/models"
	"github.com/llmur/llmur/internal/store"
	"gorm.io/datatypes"
)

// ProjectHandler manages projects.
type ProjectHandler struct {
	store *store.Store
}

// NewProjectHandler constructs a ProjectHandler.
func NewProjectHandler(st *store.Store) *ProjectHandler {
	return &ProjectHandler{store: st}
}

type createProjectRequest struct {
	Name string `json:"name" binding:"required"`
	limitsPayload
}

// Create creates a project.
func (h *ProjectHandler) Create(c *gin.Context) {
	var body createProjectRequest
	if !bindJSON(c, &body) {
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "name must not be blank"})
		return
	}
	project := models.Project{
		Name:          name,
		RequestLimits: datatypes.NewJSONType(body.requestLimits()),
		TokenLimits:   datatypes.NewJSONType(body.tokenLimits()),
	}
	if errCreate := h.store.CreateProject(c.Request.Context(), &project); errCreate != nil {
		writeStoreError(c, errCreate, "create project")
		return
	}
	c.JSON(http.StatusOK, formatProject(&project))
}

// Get returns a project by id.
func (h *ProjectHandler) Get(c *gin.Context) {
	project, errGet := h.store.GetProject(c.Request.Context(), pathID(c))
	if errGet != nil {
		writeStoreError(c, errGet, "get project")
		return
	}
	c.JSON(http.StatusOK, formatProject(&project))
}

// List returns every project.
func (h *ProjectHandler) List(c *gin.Context) {
	rows, errList := h.store.ListProjects(c.Request.Context())
	if errList != nil {
		writeStoreError(c, errList, "list projects")
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatProject(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"projects": out})
}

// Delete removes a project.
func (h *ProjectHandler) Delete(c *gin.Context) {
	if errDelete := h.store.DeleteProject(c.Request.Context(), pathID(c)); errDelete != nil {
		writeStoreError(c, errDelete, "delete project")
		return
	}
	deleted(c)
}

func formatProject(p *models.Project) gin.H {
	return gin.H{
		"id":             p.ID,
		"name":           p.Name,
		"request_limits": p.RequestLimits.Data(),
		"token_limits":   p.TokenLimits.Data(),
		"created_at":     p.CreatedAt,
		"updated_at":     p.UpdatedAt,
	}
}
