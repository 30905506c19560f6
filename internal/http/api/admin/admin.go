package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/llmur/llmur/internal/graph"
	handlers "github.com/llmur/llmur/internal/http/api/admin/handlers"
	"github.com/llmur/llmur/internal/http/api/admin/permissions"
	"github.com/llmur/llmur/internal/security"
	"github.com/llmur/llmur/internal/settings"
	"github.com/llmur/llmur/internal/store"
)

// MasterKeys checks master key candidates against the live configuration.
type MasterKeys interface {
	IsMasterKey(key string) bool
}

// Deps bundles what the admin API needs.
type Deps struct {
	Store      *store.Store
	Sessions   *security.SessionManager
	MasterKeys MasterKeys
	Resolver   *graph.Resolver
	Router     handlers.RouterState
}

// RegisterAdminRoutes registers admin routes, middleware, and handlers.
func RegisterAdminRoutes(r *gin.Engine, deps Deps) {
	if r == nil || deps.Store == nil {
		return
	}

	healthHandler := handlers.NewHealthHandler(deps.Store)
	r.GET("/healthz", healthHandler.Healthz)

	adminGroup := r.Group("/admin")

	sessionHandler := handlers.NewSessionHandler(deps.Store, deps.Sessions)
	adminGroup.POST("/session-token", sessionHandler.Create)

	authed := adminGroup.Group("")
	authed.Use(adminAuthMiddleware(deps.MasterKeys, deps.Sessions))

	authed.DELETE("/session-token/:id", sessionHandler.Delete)

	userHandler := handlers.NewUserHandler(deps.Store)
	authed.POST("/user", userHandler.Create)
	authed.GET("/user/me", userHandler.Me)
	authed.GET("/user/:id", userHandler.Get)
	authed.DELETE("/user/:id", userHandler.Delete)

	projectHandler := handlers.NewProjectHandler(deps.Store)
	authed.POST("/project", projectHandler.Create)
	authed.GET("/project", projectHandler.List)
	authed.GET("/project/:id", projectHandler.Get)
	authed.DELETE("/project/:id", projectHandler.Delete)

	connectionHandler := handlers.NewConnectionHandler(deps.Store)
	authed.POST("/connection", connectionHandler.Create)
	authed.GET("/connection", connectionHandler.List)
	authed.GET("/connection/:id", connectionHandler.Get)
	authed.DELETE("/connection/:id", connectionHandler.Delete)

	deploymentHandler := handlers.NewDeploymentHandler(deps.Store, deps.Router)
	authed.POST("/deployment", deploymentHandler.Create)
	authed.GET("/deployment", deploymentHandler.List)
	authed.GET("/deployment/:id", deploymentHandler.Get)
	authed.DELETE("/deployment/:id", deploymentHandler.Delete)

	virtualKeyHandler := handlers.NewVirtualKeyHandler(deps.Store)
	authed.POST("/virtual-key", virtualKeyHandler.Create)
	authed.GET("/virtual-key", virtualKeyHandler.List)
	authed.GET("/virtual-key/:id", virtualKeyHandler.Get)
	authed.DELETE("/virtual-key/:id", virtualKeyHandler.Delete)

	bindingHandler := handlers.NewConnectionDeploymentHandler(deps.Store)
	authed.POST("/connection-deployment", bindingHandler.Create)
	authed.GET("/connection-deployment", bindingHandler.List)
	authed.GET("/connection-deployment/:id", bindingHandler.Get)
	authed.DELETE("/connection-deployment/:id", bindingHandler.Delete)

	grantHandler := handlers.NewVirtualKeyDeploymentHandler(deps.Store)
	authed.POST("/virtual-key-deployment", grantHandler.Create)
	authed.GET("/virtual-key-deployment", grantHandler.List)
	authed.GET("/virtual-key-deployment/:id", grantHandler.Get)
	authed.DELETE("/virtual-key-deployment/:id", grantHandler.Delete)

	graphHandler := handlers.NewGraphHandler(deps.Resolver)
	authed.GET("/graph/:key/:deployment", graphHandler.Get)

	authed.GET("/permissions", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"permissions": permissions.Definitions()})
	})
}

// adminAuthMiddleware accepts a master key for every route and a session token for read routes.
func adminAuthMiddleware(masterKeys MasterKeys, sessions *security.SessionManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key := strings.TrimSpace(c.GetHeader(settings.MasterKeyHeader)); key != "" {
			if masterKeys == nil || !masterKeys.IsMasterKey(key) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid master key"})
				return
			}
			c.Next()
			return
		}

		token := strings.TrimSpace(c.GetHeader(settings.SessionHeader))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing credentials"})
			return
		}
		user, errSession := sessions.Resolve(c.Request.Context(), token)
		if errSession != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
			return
		}
		if !permissions.SessionAllowed(c.Request.Method, c.FullPath()) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session tokens are read-only"})
			return
		}

		c.Set(handlers.ContextUserKey, user)
		c.Next()
	}
}
