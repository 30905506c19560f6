package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/llmur/llmur/internal/models"
	"github.com/llmur/llmur/internal/store"
	log "github.com/sirupsen/logrus"
)

// ContextUserKey is the gin context key holding the session user.
const ContextUserKey = "adminUser"

const maxAdminBodyBytes = 1 << 20

// bindJSON decodes and validates an admin payload.
// An absent body or malformed JSON gives 400, a payload failing validation gives 422.
func bindJSON(c *gin.Context, dst any) bool {
	raw, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxAdminBodyBytes))
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "read body failed"})
		return false
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing request body"})
		return false
	}
	if !json.Valid(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return false
	}
	if errBind := binding.JSON.BindBody(raw, dst); errBind != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": errBind.Error()})
		return false
	}
	return true
}

// writeStoreError maps store failures to admin statuses.
func writeStoreError(c *gin.Context, err error, action string) {
	var refErr *store.ReferenceError
	switch {
	case errors.As(err, &refErr):
		c.JSON(http.StatusNotFound, gin.H{"error": refErr.Field + " not found"})
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, store.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "already exists"})
	default:
		log.WithError(err).Errorf("admin: %s failed", action)
		c.JSON(http.StatusInternalServerError, gin.H{"error": action + " failed"})
	}
}

// deleted writes the delete confirmation body.
func deleted(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "message": nil})
}

func pathID(c *gin.Context) string {
	return strings.TrimSpace(c.Param("id"))
}

// limitsPayload carries the optional quota blocks shared by projects, deployments and keys.
type limitsPayload struct {
	RequestLimits *models.RequestLimits `json:"request_limits"`
	TokenLimits   *models.TokenLimits   `json:"token_limits"`
}

func (p limitsPayload) requestLimits() models.RequestLimits {
	if p.RequestLimits == nil {
		return models.RequestLimits{}
	}
	return *p.RequestLimits
}

func (p limitsPayload) tokenLimits() models.TokenLimits {
	if p.TokenLimits == nil {
		return models.TokenLimits{}
	}
	return *p.TokenLimits
}

// sessionUser returns the user authenticated by an admin session, if any.
func sessionUser(c *gin.Context) (models.User, bool) {
	v, ok := c.Get(ContextUserKey)
	if !ok {
		return models.User{}, false
	}
	user, ok := v.(models.User)
	return user, ok
}
