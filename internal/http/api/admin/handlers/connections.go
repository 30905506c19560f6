package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/llmur/llmur/internal/models"
	"github.com/llmur/llmur/internal/provider"
	"github.com/llmur/llmur/internal/store"
)

// ConnectionHandler manages upstream provider connections.
type ConnectionHandler struct {
	store *store.Store
}

// NewConnectionHandler constructs a ConnectionHandler.
func NewConnectionHandler(st *store.Store) *ConnectionHandler {
	return &ConnectionHandler{store: st}
}

// createConnectionRequest is the connection payload. Required fields depend on the provider.
type createConnectionRequest struct {
	Provider       string `json:"provider" binding:"required"`
	Model          string `json:"model"`
	DeploymentName string `json:"deployment_name"`
	APIEndpoint    string `json:"api_endpoint"`
	APIKey         string `json:"api_key"`
	APIVersion     string `json:"api_version"`
}

// Create creates a connection after checking the provider's required fields.
func (h *ConnectionHandler) Create(c *gin.Context) {
	var body createConnectionRequest
	if !bindJSON(c, &body) {
		return
	}
	conn := models.Connection{
		Provider:       strings.TrimSpace(body.Provider),
		Model:          strings.TrimSpace(body.Model),
		DeploymentName: strings.TrimSpace(body.DeploymentName),
		APIEndpoint:    strings.TrimSpace(body.APIEndpoint),
		APIKey:         strings.TrimSpace(body.APIKey),
		APIVersion:     strings.TrimSpace(body.APIVersion),
	}
	if errValidate := provider.ValidateConnection(conn); errValidate != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": errValidate.Error()})
		return
	}
	if errCreate := h.store.CreateConnection(c.Request.Context(), &conn); errCreate != nil {
		writeStoreError(c, errCreate, "create connection")
		return
	}
	c.JSON(http.StatusOK, formatConnection(&conn))
}

// Get returns a connection by id.
func (h *ConnectionHandler) Get(c *gin.Context) {
	conn, errGet := h.store.GetConnection(c.Request.Context(), pathID(c))
	if errGet != nil {
		writeStoreError(c, errGet, "get connection")
		return
	}
	c.JSON(http.StatusOK, formatConnection(&conn))
}

// List returns every connection.
func (h *ConnectionHandler) List(c *gin.Context) {
	rows, errList := h.store.ListConnections(c.Request.Context())
	if errList != nil {
		writeStoreError(c, errList, "list connections")
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatConnection(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"connections": out})
}

// Delete removes a connection and its deployment bindings.
func (h *ConnectionHandler) Delete(c *gin.Context) {
	if errDelete := h.store.DeleteConnection(c.Request.Context(), pathID(c)); errDelete != nil {
		writeStoreError(c, errDelete, "delete connection")
		return
	}
	deleted(c)
}

func formatConnection(conn *models.Connection) gin.H {
	out := gin.H{
		"id":           conn.ID,
		"provider":     conn.Provider,
		"api_endpoint": conn.APIEndpoint,
		"api_key":      conn.APIKey,
		"created_at":   conn.CreatedAt,
		"updated_at":   conn.UpdatedAt,
	}
	switch conn.Provider {
	case models.ProviderAzure:
		out["deployment_name"] = conn.DeploymentName
		out["api_version"] = conn.APIVersion
	case models.ProviderGemini:
		out["model"] = conn.Model
		out["api_version"] = conn.APIVersion
	default:
		out["model"] = conn.Model
	}
	return out
}
