// Package handler exposes TOTP enrollment, verification, and reset over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tenant-access-core/internal/authgate"
	"tenant-access-core/internal/mfa/service"
	"tenant-access-core/internal/platform/rbac"
	"tenant-access-core/internal/telemetry"
	userdomain "tenant-access-core/internal/user/domain"
)

// UserGetter looks up the account name shown in authenticator apps.
type UserGetter interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// Handler serves the /api/v1/mfa routes.
type Handler struct {
	engine      *service.Engine
	users       UserGetter
	memberships rbac.OrgMembershipGetter
	metrics     *telemetry.Metrics
	cookieOpts  authgate.CookieOptions
}

// NewHandler returns an MFA Handler.
func NewHandler(engine *service.Engine, users UserGetter, memberships rbac.OrgMembershipGetter, metrics *telemetry.Metrics, cookieOpts authgate.CookieOptions) *Handler {
	return &Handler{engine: engine, users: users, memberships: memberships, metrics: metrics, cookieOpts: cookieOpts}
}

// RegisterRoutes mounts the MFA endpoints.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/api/v1/mfa/setup", h.StartSetup)
	r.POST("/api/v1/mfa/setup/complete", h.CompleteSetup)
	r.POST("/api/v1/mfa/verify", h.Verify)
	r.POST("/api/v1/mfa/disable", h.Disable)
	r.GET("/api/v1/mfa/backup-codes/remaining", h.BackupCodesRemaining)
	r.POST("/api/v1/admin/users/:id/mfa/reset", h.AdminReset)
}

func (h *Handler) StartSetup(c *gin.Context) {
	userID, ok := authgate.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": authgate.CodeUnauthenticated})
		return
	}
	accountName := userID
	if u, err := h.users.GetByID(c.Request.Context(), userID); err == nil && u != nil {
		accountName = u.Email
	}
	setup, err := h.engine.StartSetup(c.Request.Context(), userID, accountName)
	if errors.Is(err, service.ErrAlreadyEnabled) {
		c.JSON(http.StatusConflict, gin.H{"error": "two-factor authentication is already enabled"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"secret": setup.Secret, "uri": setup.URI})
}

type codeRequest struct {
	Code string `json:"code"`
}

func (h *Handler) CompleteSetup(c *gin.Context) {
	userID, _ := authgate.GetUserID(c.Request.Context())
	sessionID, _ := authgate.GetSessionID(c.Request.Context())
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	enrolled, err := h.engine.CompleteSetup(c.Request.Context(), userID, sessionID, req.Code)
	switch {
	case errors.Is(err, service.ErrSetupNotStarted):
		c.JSON(http.StatusConflict, gin.H{"error": "setup has not been started"})
		return
	case errors.Is(err, service.ErrInvalidCode):
		h.metrics.MFAFailure(c.Request.Context())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid code"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if enrolled.Session != nil {
		s := enrolled.Session.Session
		authgate.SetSessionCookies(c, s.ID, s.CSRFSecret, h.cookieOpts)
	}
	// The plaintext backup codes exist only in this response.
	c.JSON(http.StatusOK, gin.H{"status": "enabled", "backup_codes": enrolled.BackupCodes})
}

func (h *Handler) Verify(c *gin.Context) {
	userID, _ := authgate.GetUserID(c.Request.Context())
	sessionID, _ := authgate.GetSessionID(c.Request.Context())
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	created, err := h.engine.Verify(c.Request.Context(), userID, sessionID, req.Code)
	switch {
	case errors.Is(err, service.ErrTooManyAttempts):
		c.Header("Retry-After", "900")
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many attempts"})
		return
	case errors.Is(err, service.ErrInvalidCode), errors.Is(err, service.ErrNotEnabled):
		h.metrics.MFAFailure(c.Request.Context())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid code"})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	s := created.Session
	authgate.SetSessionCookies(c, s.ID, s.CSRFSecret, h.cookieOpts)
	c.JSON(http.StatusOK, gin.H{"status": "verified"})
}

func (h *Handler) Disable(c *gin.Context) {
	userID, _ := authgate.GetUserID(c.Request.Context())
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	err := h.engine.Disable(c.Request.Context(), userID, req.Code)
	switch {
	case errors.Is(err, service.ErrNotEnabled):
		c.JSON(http.StatusConflict, gin.H{"error": "two-factor authentication is not enabled"})
	case errors.Is(err, service.ErrInvalidCode):
		h.metrics.MFAFailure(c.Request.Context())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid code"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		// All sessions are gone, this one included.
		authgate.ClearSessionCookies(c, h.cookieOpts)
		c.JSON(http.StatusOK, gin.H{"status": "disabled"})
	}
}

func (h *Handler) BackupCodesRemaining(c *gin.Context) {
	userID, _ := authgate.GetUserID(c.Request.Context())
	n, err := h.engine.BackupCodesRemaining(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"remaining": n})
}

func (h *Handler) AdminReset(c *gin.Context) {
	cap, err := rbac.RequireOrgAdmin(c.Request.Context(), h.memberships)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
		return
	}
	if err := h.engine.AdminReset(c.Request.Context(), cap, c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}
