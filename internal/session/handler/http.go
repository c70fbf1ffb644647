// Package handler exposes the user's own session surface: list, revoke,
// revoke-all, and refresh-token rotation.
package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tenant-access-core/internal/authgate"
	"tenant-access-core/internal/session/domain"
	"tenant-access-core/internal/session/service"
	"tenant-access-core/internal/telemetry"
)

// Lister is the read-only slice of the session repository the handler needs.
type Lister interface {
	ListActiveByUser(ctx context.Context, userID string) ([]*domain.Session, error)
}

// Handler serves the /api/v1/sessions routes.
type Handler struct {
	manager *service.Manager
	lister  Lister
	metrics *telemetry.Metrics
}

// NewHandler returns a session Handler.
func NewHandler(manager *service.Manager, lister Lister, metrics *telemetry.Metrics) *Handler {
	return &Handler{manager: manager, lister: lister, metrics: metrics}
}

// RegisterRoutes mounts the session endpoints.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/api/v1/sessions", h.List)
	r.DELETE("/api/v1/sessions/:id", h.Revoke)
	r.POST("/api/v1/sessions/revoke-all", h.RevokeAll)
	r.POST("/api/v1/auth/refresh", h.Refresh)
}

type sessionView struct {
	ID          string     `json:"id"`
	CreatedAt   time.Time  `json:"created_at"`
	LastSeenAt  time.Time  `json:"last_seen_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	ActiveOrgID string     `json:"active_org_id,omitempty"`
	DeviceClass string     `json:"device_class,omitempty"`
	MFAAt       *time.Time `json:"mfa_satisfied_at,omitempty"`
	Current     bool       `json:"current"`
}

func view(s *domain.Session, currentID string) sessionView {
	return sessionView{
		ID:          s.ID,
		CreatedAt:   s.CreatedAt,
		LastSeenAt:  s.LastSeenAt,
		ExpiresAt:   s.ExpiresAt,
		ActiveOrgID: s.ActiveOrgID,
		DeviceClass: s.DeviceClass,
		MFAAt:       s.MFASatisfiedAt,
		Current:     s.ID == currentID,
	}
}

func (h *Handler) List(c *gin.Context) {
	userID, ok := authgate.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": authgate.CodeUnauthenticated})
		return
	}
	currentID, _ := authgate.GetSessionID(c.Request.Context())
	sessions, err := h.lister.ListActiveByUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	out := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, view(s, currentID))
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (h *Handler) Revoke(c *gin.Context) {
	userID, _ := authgate.GetUserID(c.Request.Context())
	err := h.manager.RevokeByID(c.Request.Context(), c.Param("id"), userID, domain.RevokeReasonLogout)
	switch {
	case errors.Is(err, service.ErrSessionNotFound), errors.Is(err, service.ErrNotSessionOwner):
		// Foreign session ids look the same as unknown ones.
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		h.metrics.SessionRevoked(c.Request.Context(), domain.RevokeReasonLogout)
		c.JSON(http.StatusOK, gin.H{"status": "revoked"})
	}
}

func (h *Handler) RevokeAll(c *gin.Context) {
	userID, _ := authgate.GetUserID(c.Request.Context())
	currentID, _ := authgate.GetSessionID(c.Request.Context())
	n, err := h.manager.RevokeAll(c.Request.Context(), userID, domain.RevokeReasonLogout, currentID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked", "count": n})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) Refresh(c *gin.Context) {
	sessionID, ok := authgate.GetSessionID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": authgate.CodeUnauthenticated})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	next, err := h.manager.Refresh(c.Request.Context(), sessionID, req.RefreshToken)
	if errors.Is(err, service.ErrRefreshReuse) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"refresh_token": next})
}
