package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/llmur/llmur/internal/models"
	"github.com/llmur/llmur/internal/security"
	"github.com/llmur/llmur/internal/store"
	log "github.com/sirupsen/logrus"
)

// SessionHandler issues and revokes admin session tokens.
type SessionHandler struct {
	store    *store.Store
	sessions *security.SessionManager
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(st *store.Store, sessions *security.SessionManager) *SessionHandler {
	return &SessionHandler{store: st, sessions: sessions}
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Create exchanges email and password for a session token.
func (h *SessionHandler) Create(c *gin.Context) {
	var body loginRequest
	if !bindJSON(c, &body) {
		return
	}
	ctx := c.Request.Context()
	user, errFind := h.store.FindUserByEmail(ctx, body.Email)
	if errFind != nil && !errors.Is(errFind, store.ErrNotFound) {
		writeStoreError(c, errFind, "login")
		return
	}
	if errFind != nil || user.Blocked || !security.CheckPassword(user.PasswordHash, body.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
		return
	}

	token, session, errIssue := h.sessions.Issue(ctx, user.ID)
	if errIssue != nil {
		log.WithError(errIssue).Error("admin: issue session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "issue session failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"info":  formatSession(&session),
	})
}

// Delete revokes a session by id.
func (h *SessionHandler) Delete(c *gin.Context) {
	if errRevoke := h.sessions.Revoke(c.Request.Context(), pathID(c)); errRevoke != nil {
		if errors.Is(errRevoke, security.ErrInvalidSession) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		log.WithError(errRevoke).Error("admin: revoke session failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "revoke session failed"})
		return
	}
	deleted(c)
}

func formatSession(s *models.SessionToken) gin.H {
	return gin.H{
		"id":         s.ID,
		"user_id":    s.UserID,
		"revoked":    s.Revoked,
		"expires_at": s.ExpiresAt,
	}
}
