package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/llmur/llmur/internal/models"
	"github.com/llmur/llmur/internal/security"
	"github.com/llmur/llmur/internal/store"
)

// UserHandler manages user account endpoints.
type UserHandler struct {
	store *store.Store
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(st *store.Store) *UserHandler {
	return &UserHandler{store: st}
}

// createUserRequest defines the request body for user creation.
type createUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Blocked  bool   `json:"blocked"`
}

// Create creates a new user account.
func (h *UserHandler) Create(c *gin.Context) {
	var body createUserRequest
	if !bindJSON(c, &body) {
		return
	}
	role := models.Role(strings.TrimSpace(body.Role))
	if role == "" {
		role = models.RoleMember
	}
	if role != models.RoleAdmin && role != models.RoleMember {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid role"})
		return
	}

	hash, errHash := security.HashPassword(body.Password)
	if errHash != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "hash password failed"})
		return
	}
	user := models.User{
		Email:        body.Email,
		Name:         strings.TrimSpace(body.Name),
		PasswordHash: hash,
		Role:         role,
		Blocked:      body.Blocked,
	}
	if errCreate := h.store.CreateUser(c.Request.Context(), &user); errCreate != nil {
		writeStoreError(c, errCreate, "create user")
		return
	}
	c.JSON(http.StatusOK, formatUser(&user))
}

// Get returns a user by ID.
func (h *UserHandler) Get(c *gin.Context) {
	user, errGet := h.store.GetUser(c.Request.Context(), pathID(c))
	if errGet != nil {
		writeStoreError(c, errGet, "get user")
		return
	}
	c.JSON(http.StatusOK, formatUser(&user))
}

// Me returns the user behind the calling session.
func (h *UserHandler) Me(c *gin.Context) {
	user, ok := sessionUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session required"})
		return
	}
	c.JSON(http.StatusOK, formatUser(&user))
}

// Delete removes a user and its sessions.
func (h *UserHandler) Delete(c *gin.Context) {
	if errDelete := h.store.DeleteUser(c.Request.Context(), pathID(c)); errDelete != nil {
		writeStoreError(c, errDelete, "delete user")
		return
	}
	deleted(c)
}

func formatUser(u *models.User) gin.H {
	return gin.H{
		"id":         u.ID,
		"email":      u.Email,
		"name":       u.Name,
		"role":       u.Role,
		"blocked":    u.Blocked,
		"created_at": u.CreatedAt,
		"updated_at": u.UpdatedAt,
	}
}
