package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/llmur/llmur/internal/models"
	"github.com/llmur/llmur/internal/store"
	"gorm.io/datatypes"
)

// VirtualKeyHandler manages project virtual keys.
type VirtualKeyHandler struct {
	store *store.Store
}

// NewVirtualKeyHandler constructs a VirtualKeyHandler.
func NewVirtualKeyHandler(st *store.Store) *VirtualKeyHandler {
	return &VirtualKeyHandler{store: st}
}

type createVirtualKeyRequest struct {
	ProjectID   string `json:"project_id" binding:"required"`
	Alias       string `json:"alias"`
	Description string `json:"description"`
	Blocked     bool   `json:"blocked"`
	limitsPayload
}

// Create issues a virtual key. The secret is generated by the gateway.
func (h *VirtualKeyHandler) Create(c *gin.Context) {
	var body createVirtualKeyRequest
	if !bindJSON(c, &body) {
		return
	}
	key := models.VirtualKey{
		ProjectID:     strings.TrimSpace(body.ProjectID),
		Alias:         strings.TrimSpace(body.Alias),
		Description:   body.Description,
		Blocked:       body.Blocked,
		RequestLimits: datatypes.NewJSONType(body.requestLimits()),
		TokenLimits:   datatypes.NewJSONType(body.tokenLimits()),
	}
	if errCreate := h.store.CreateVirtualKey(c.Request.Context(), &key); errCreate != nil {
		writeStoreError(c, errCreate, "create virtual key")
		return
	}
	c.JSON(http.StatusOK, formatVirtualKey(&key))
}

// Get returns a virtual key by id.
func (h *VirtualKeyHandler) Get(c *gin.Context) {
	key, errGet := h.store.GetVirtualKey(c.Request.Context(), pathID(c))
	if errGet != nil {
		writeStoreError(c, errGet, "get virtual key")
		return
	}
	c.JSON(http.StatusOK, formatVirtualKey(&key))
}

// List returns virtual keys, optionally narrowed by ?project_id=.
func (h *VirtualKeyHandler) List(c *gin.Context) {
	rows, errList := h.store.ListVirtualKeys(c.Request.Context(), strings.TrimSpace(c.Query("project_id")))
	if errList != nil {
		writeStoreError(c, errList, "list virtual keys")
		return
	}
	out := make([]gin.H, 0, len(rows))
	for i := range rows {
		out = append(out, formatVirtualKey(&rows[i]))
	}
	c.JSON(http.StatusOK, gin.H{"virtual_keys": out})
}

// Delete removes a virtual key and its grants.
func (h *VirtualKeyHandler) Delete(c *gin.Context) {
	if errDelete := h.store.DeleteVirtualKey(c.Request.Context(), pathID(c)); errDelete != nil {
		writeStoreError(c, errDelete, "delete virtual key")
		return
	}
	deleted(c)
}

func formatVirtualKey(k *models.VirtualKey) gin.H {
	return gin.H{
		"id":             k.ID,
		"project_id":     k.ProjectID,
		"key":            k.Key,
		"alias":          k.Alias,
		"description":    k.Description,
		"blocked":        k.Blocked,
		"request_limits": k.RequestLimits.Data(),
		"token_limits":   k.TokenLimits.Data(),
		"created_at":     k.CreatedAt,
		"updated_at":     k.UpdatedAt,
	}
}
