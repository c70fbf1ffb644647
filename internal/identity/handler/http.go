// Package handler exposes login, logout, and password management over HTTP.
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tenant-access-core/internal/authgate"
	"tenant-access-core/internal/identity/service"
	"tenant-access-core/internal/session/domain"
	"tenant-access-core/internal/telemetry"
)

// Handler serves the /api/v1/auth routes.
type Handler struct {
	auth       *service.AuthService
	metrics    *telemetry.Metrics
	cookieOpts authgate.CookieOptions
}

// NewHandler returns an auth Handler.
func NewHandler(auth *service.AuthService, metrics *telemetry.Metrics, cookieOpts authgate.CookieOptions) *Handler {
	return &Handler{auth: auth, metrics: metrics, cookieOpts: cookieOpts}
}

// RegisterRoutes mounts the auth endpoints.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/api/v1/auth/login", h.Login)
	r.POST("/api/v1/auth/logout", h.Logout)
	r.POST("/api/v1/auth/password", h.ChangePassword)
}

type loginRequest struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	DeviceClass string `json:"device_class"`
}

type workspaceOption struct {
	Index int    `json:"index"`
	OrgID string `json:"org_id"`
	Name  string `json:"name"`
	Slug  string `json:"slug"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	result, err := h.auth.Login(c.Request.Context(), service.LoginParams{
		Email:       req.Email,
		Password:    req.Password,
		IP:          c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
		DeviceClass: req.DeviceClass,
	})
	var locked *service.LockedError
	if errors.As(err, &locked) {
		h.metrics.LoginDenied(c.Request.Context(), "locked")
		h.metrics.Lockout(c.Request.Context())
		c.Header("Retry-After", strconv.Itoa(int(locked.RetryAfter/time.Second)))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many failed attempts"})
		return
	}
	if errors.Is(err, service.ErrInvalidCredentials) {
		h.metrics.LoginDenied(c.Request.Context(), "invalid_credentials")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	h.metrics.LoginSucceeded(c.Request.Context())
	h.metrics.SessionCreated(c.Request.Context())
	s := result.Session.Session
	authgate.SetSessionCookies(c, s.ID, s.CSRFSecret, h.cookieOpts)

	body := gin.H{"status": "logged_in"}
	if result.Resolution != nil {
		body["requires_selection"] = result.Resolution.RequiresSelection
		if result.Resolution.OrgID != "" {
			body["org_id"] = result.Resolution.OrgID
		}
		if result.Resolution.RequiresSelection {
			options := make([]workspaceOption, 0, len(result.Resolution.Options))
			for _, o := range result.Resolution.Options {
				options = append(options, workspaceOption{Index: o.Index, OrgID: o.OrgID, Name: o.Name, Slug: o.Slug})
			}
			body["workspaces"] = options
		}
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) Logout(c *gin.Context) {
	userID, _ := authgate.GetUserID(c.Request.Context())
	sessionID, _ := authgate.GetSessionID(c.Request.Context())
	if sessionID != "" {
		if err := h.auth.Logout(c.Request.Context(), sessionID, userID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		h.metrics.SessionRevoked(c.Request.Context(), domain.RevokeReasonLogout)
	}
	authgate.ClearSessionCookies(c, h.cookieOpts)
	c.JSON(http.StatusOK, gin.H{"status": "logged_out"})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

func (h *Handler) ChangePassword(c *gin.Context) {
	userID, ok := authgate.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": authgate.CodeUnauthenticated})
		return
	}
	sessionID, _ := authgate.GetSessionID(c.Request.Context())

	var req changePasswordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	err := h.auth.ChangePassword(c.Request.Context(), userID, req.CurrentPassword, req.NewPassword, sessionID)
	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
	case errors.Is(err, service.ErrWeakPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "password_changed"})
	}
}
