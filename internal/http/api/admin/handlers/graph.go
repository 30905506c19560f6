package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/llmur/llmur/internal/graph"
	log "github.com/sirupsen/logrus"
)

// GraphHandler exposes the resolved request graph of a key and deployment.
type GraphHandler struct {
	resolver *graph.Resolver
}

// NewGraphHandler constructs a GraphHandler.
func NewGraphHandler(resolver *graph.Resolver) *GraphHandler {
	return &GraphHandler{resolver: resolver}
}

// Get resolves /admin/graph/:key/:deployment without calling any upstream.
func (h *GraphHandler) Get(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	deployment := strings.TrimSpace(c.Param("deployment"))
	g, errResolve := h.resolver.Inspect(c.Request.Context(), key, deployment)
	if errResolve != nil {
		status := graph.InspectStatusCode(errResolve)
		if status == http.StatusInternalServerError {
			log.WithError(errResolve).Error("admin: resolve graph failed")
			c.JSON(status, gin.H{"error": "resolve graph failed"})
			return
		}
		c.JSON(status, gin.H{"error": graphErrorMessage(status)})
		return
	}
	c.JSON(http.StatusOK, g.Render())
}

func graphErrorMessage(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "invalid virtual key"
	case http.StatusNotFound:
		return "deployment not found"
	case http.StatusServiceUnavailable:
		return "deployment has no connections"
	default:
		return http.StatusText(status)
	}
}
