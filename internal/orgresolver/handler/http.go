// Package handler exposes workspace listing and selection over HTTP. These
// routes sit inside the workspace-exempt allowlist so a user who still has to
// pick an organization can reach them.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tenant-access-core/internal/authgate"
	"tenant-access-core/internal/orgresolver"
	sessionservice "tenant-access-core/internal/session/service"
)

// Handler serves the /api/v1/workspaces routes.
type Handler struct {
	resolver   *orgresolver.Resolver
	sessions   *sessionservice.Manager
	cookieOpts authgate.CookieOptions
}

// NewHandler returns a workspace Handler.
func NewHandler(resolver *orgresolver.Resolver, sessions *sessionservice.Manager, cookieOpts authgate.CookieOptions) *Handler {
	return &Handler{resolver: resolver, sessions: sessions, cookieOpts: cookieOpts}
}

// RegisterRoutes mounts the workspace endpoints.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/api/v1/workspaces", h.List)
	r.POST("/api/v1/workspaces/select", h.Select)
}

type optionView struct {
	Index int    `json:"index"`
	OrgID string `json:"org_id"`
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Role  string `json:"role"`
}

func (h *Handler) List(c *gin.Context) {
	userID, ok := authgate.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": authgate.CodeUnauthenticated})
		return
	}
	options, err := h.resolver.Options(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	out := make([]optionView, 0, len(options))
	for _, o := range options {
		out = append(out, optionView{Index: o.Index, OrgID: o.OrgID, Name: o.Name, Slug: o.Slug, Role: string(o.Role)})
	}
	activeOrg, _ := authgate.GetOrgID(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"workspaces": out, "active_org_id": activeOrg})
}

type selectRequest struct {
	// Selection accepts a 1-based index, an org name or fragment, or a slug.
	Selection string `json:"selection"`
}

func (h *Handler) Select(c *gin.Context) {
	userID, ok := authgate.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": authgate.CodeUnauthenticated})
		return
	}
	sessionID, _ := authgate.GetSessionID(c.Request.Context())

	var req selectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	options, err := h.resolver.Options(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	choice, err := orgresolver.ParseSelection(options, req.Selection)
	if errors.Is(err, orgresolver.ErrNoMatch) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no matching workspace"})
		return
	}

	created, err := h.sessions.SetActiveOrganization(c.Request.Context(), sessionID, userID, choice.OrgID)
	if errors.Is(err, sessionservice.ErrNotOrgMember) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member of that organization"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	s := created.Session
	authgate.SetSessionCookies(c, s.ID, s.CSRFSecret, h.cookieOpts)
	c.JSON(http.StatusOK, gin.H{"status": "selected", "org_id": choice.OrgID})
}
