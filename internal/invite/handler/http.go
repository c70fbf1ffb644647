// Package handler exposes invite administration and the public validity
// check over HTTP. Admin routes mint an org-admin capability per request.
package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"tenant-access-core/internal/invite/domain"
	"tenant-access-core/internal/invite/service"
	"tenant-access-core/internal/platform/rbac"
)

// Handler serves the /api/v1/invites routes.
type Handler struct {
	invites     *service.Service
	memberships rbac.OrgMembershipGetter
}

// NewHandler returns an invite Handler.
func NewHandler(invites *service.Service, memberships rbac.OrgMembershipGetter) *Handler {
	return &Handler{invites: invites, memberships: memberships}
}

// RegisterRoutes mounts the invite endpoints.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/api/v1/invites/validate", h.Validate)
	r.POST("/api/v1/invites", h.Generate)
	r.GET("/api/v1/invites", h.List)
	r.DELETE("/api/v1/invites/:id", h.Revoke)
}

type validateRequest struct {
	Token string `json:"token"`
	Email string `json:"email"`
}

// Validate is boolean-shaped on purpose: the caller learns valid or not,
// never why.
func (h *Handler) Validate(c *gin.Context) {
	var req validateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	valid, err := h.invites.Validate(c.Request.Context(), req.Token, req.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"valid": valid})
}

type generateRequest struct {
	Role             string `json:"role"`
	MaxUses          int    `json:"max_uses"`
	ExpiresInDays    int    `json:"expires_in_days"`
	RestrictEmail    string `json:"restrict_email"`
	RestrictDomain   string `json:"restrict_domain"`
	RequireTwoFactor bool   `json:"require_two_factor"`
}

func (h *Handler) Generate(c *gin.Context) {
	cap, err := rbac.RequireOrgAdmin(c.Request.Context(), h.memberships)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
		return
	}
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	raw, token, err := h.invites.Generate(c.Request.Context(), cap, service.GenerateParams{
		Role:             req.Role,
		MaxUses:          req.MaxUses,
		ExpiresInDays:    req.ExpiresInDays,
		RestrictEmail:    req.RestrictEmail,
		RestrictDomain:   req.RestrictDomain,
		RequireTwoFactor: req.RequireTwoFactor,
	})
	switch {
	case errors.Is(err, service.ErrInvalidRole), errors.Is(err, service.ErrBadParams):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	// The raw token appears only here, once.
	c.JSON(http.StatusCreated, gin.H{"token": raw, "invite": tokenView(token)})
}

func (h *Handler) List(c *gin.Context) {
	cap, err := rbac.RequireOrgAdmin(c.Request.Context(), h.memberships)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
		return
	}
	tokens, err := h.invites.List(c.Request.Context(), cap)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	out := make([]gin.H, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, tokenView(t))
	}
	c.JSON(http.StatusOK, gin.H{"invites": out})
}

type revokeRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Revoke(c *gin.Context) {
	cap, err := rbac.RequireOrgAdmin(c.Request.Context(), h.memberships)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
		return
	}
	var req revokeRequest
	_ = c.ShouldBindJSON(&req)
	err = h.invites.Revoke(c.Request.Context(), cap, c.Param("id"), req.Reason)
	switch {
	case errors.Is(err, service.ErrInvalidToken):
		c.JSON(http.StatusNotFound, gin.H{"error": "invite not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "revoked"})
	}
}

func tokenView(t *domain.Token) gin.H {
	v := gin.H{
		"id":         t.ID,
		"role":       t.Role,
		"max_uses":   t.MaxUses,
		"used_count": t.UsedCount,
		"expires_at": t.ExpiresAt.Format(time.RFC3339),
		"revoked":    t.RevokedAt != nil,
	}
	if t.RestrictEmail != "" {
		v["restrict_email"] = t.RestrictEmail
	}
	if t.RestrictDomain != "" {
		v["restrict_domain"] = t.RestrictDomain
	}
	return v
}
