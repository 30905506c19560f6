package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/llmur/llmur/internal/models"
	"github.com/llmur/llmur/internal/store"
)

// ConnectionDeploymentHandler manages the weighted bindings between connections and deployments.
type ConnectionDeploymentHandler struct {
	store *store.Store
}

// NewConnectionDeploymentHandler constructs a ConnectionDeploymentHandler.
func NewConnectionDeploymentHandler(st *store.Store) *ConnectionDeploymentHandler {
	return &ConnectionDeploymentHandler{store: st}
}

type createConnectionDeploymentRequest struct {
	ConnectionID string `json:"connection_id" binding:"required"`
	DeploymentID string `json:"deployment_id" binding:"required"`
	Weight       *int   `json:"weight"`
}

// Create binds a connection to a deployment. Weight defaults to 1.
func (h *ConnectionDeploymentHandler) Create(c *gin.Context) {
	var body createConnectionDeploymentRequest
	if !bindJSON(c, &body) {
		return
	}
	weight := 1
	if body.Weight != nil {
		weight = *body.Weight
	}
	if weight < 1 {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "weight must be at least 1"})
		return
	}
	m := models.ConnectionDeployment{
		ConnectionID: strings.TrimSpace(body.ConnectionID),
		DeploymentID: strings.TrimSpace(body.DeploymentID),
		Weight:       weight,
	}
	if errCreate := h.store.CreateConnectionDeployment(c.Request.Context(), &m); errCreate != nil {
		writeStoreError(c, errCreate, "create connection deployment")
		return
	}
	c.JSON(http.StatusOK, formatConnectionDeployment(&m))
}

// Get returns a binding by id.
func (h *ConnectionDeploymentHandler) Get(c *gin.Context) {
	m, errGet := h.store.GetConnectionDeployment(c.Request.Context(), pathID(c))
	if errGet != nil {
		writeStoreError(c, errGet, "get connection deployment")
		return
	}
	c.JSON(http.StatusOK, formatConnectionDeployment(&m))
}

// List returns bindings filtered by ?deployment_id= and ?connection_id=.
func (h *ConnectionDeploymentHandler) List(c *gin.Context) {
	rows, errList := h.store.ListConnectionDeployments(c.Request.Context(), store.ConnectionDeploymentFilter{
		ConnectionID: c.Query("connection_id"),
		DeploymentID: c.Query("deployment_id"),
	})
	if errList != nil {
		writeStoreError(c, errList, "list connection deployments")
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatConnectionDeployment(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"connection_deployments": out})
}

// Delete removes a binding.
func (h *ConnectionDeploymentHandler) Delete(c *gin.Context) {
	if errDelete := h.store.DeleteConnectionDeployment(c.Request.Context(), pathID(c)); errDelete != nil {
		writeStoreError(c, errDelete, "delete connection deployment")
		return
	}
	deleted(c)
}

func formatConnectionDeployment(m *models.ConnectionDeployment) gin.H {
	return gin.H{
		"id":            m.ID,
		"connection_id": m.ConnectionID,
		"deployment_id": m.DeploymentID,
		"weight":        m.Weight,
		"created_at":    m.CreatedAt,
	}
}

// VirtualKeyDeploymentHandler manages deployment grants of virtual keys.
type VirtualKeyDeploymentHandler struct {
	store *store.Store
}

// NewVirtualKeyDeploymentHandler constructs a VirtualKeyDeploymentHandler.
func NewVirtualKeyDeploymentHandler(st *store.Store) *VirtualKeyDeploymentHandler {
	return &VirtualKeyDeploymentHandler{store: st}
}

type createVirtualKeyDeploymentRequest struct {
	VirtualKeyID string `json:"virtual_key_id" binding:"required"`
	DeploymentID string `json:"deployment_id" binding:"required"`
}

// Create grants a virtual key access to a deployment.
func (h *VirtualKeyDeploymentHandler) Create(c *gin.Context) {
	var body createVirtualKeyDeploymentRequest
	if !bindJSON(c, &body) {
		return
	}
	m := models.VirtualKeyDeployment{
		VirtualKeyID: strings.TrimSpace(body.VirtualKeyID),
		DeploymentID: strings.TrimSpace(body.DeploymentID),
	}
	if errCreate := h.store.CreateVirtualKeyDeployment(c.Request.Context(), &m); errCreate != nil {
		writeStoreError(c, errCreate, "create virtual key deployment")
		return
	}
	c.JSON(http.StatusOK, formatVirtualKeyDeployment(&m))
}

// Get returns a grant by id.
func (h *VirtualKeyDeploymentHandler) Get(c *gin.Context) {
	m, errGet := h.store.GetVirtualKeyDeployment(c.Request.Context(), pathID(c))
	if errGet != nil {
		writeStoreError(c, errGet, "get virtual key deployment")
		return
	}
	c.JSON(http.StatusOK, formatVirtualKeyDeployment(&m))
}

// List returns grants filtered by ?virtual_key_id= and ?deployment_id=.
func (h *VirtualKeyDeploymentHandler) List(c *gin.Context) {
	rows, errList := h.store.ListVirtualKeyDeployments(c.Request.Context(), store.VirtualKeyDeploymentFilter{
		VirtualKeyID: c.Query("virtual_key_id"),
		DeploymentID: c.Query("deployment_id"),
	})
	if errList != nil {
		writeStoreError(c, errList, "list virtual key deployments")
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatVirtualKeyDeployment(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"virtual_key_deployments": out})
}

// Delete revokes a grant.
func (h *VirtualKeyDeploymentHandler) Delete(c *gin.Context) {
	if errDelete := h.store.DeleteVirtualKeyDeployment(c.Request.Context(), pathID(c)); errDelete != nil {
		writeStoreError(c, errDelete, "delete virtual key deployment")
		return
	}
	deleted(c)
}

func formatVirtualKeyDeployment(m *models.VirtualKeyDeployment) gin.H {
	return gin.H{
		"id":             m.ID,
		"virtual_key_id": m.VirtualKeyID,
		"deployment_id":  m.DeploymentID,
		"created_at":     m.CreatedAt,
	}
}
