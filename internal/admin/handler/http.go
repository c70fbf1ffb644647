// Package handler exposes the org-admin surface: member sessions, membership
// management, pre-approvals, and access-request review. Every route mints an
// OrgAdminCapability from the request identity before acting.
package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	membershipdomain "tenant-access-core/internal/membership/domain"
	membershipservice "tenant-access-core/internal/membership/service"
	"tenant-access-core/internal/platform/rbac"
	sessiondomain "tenant-access-core/internal/session/domain"
	sessionservice "tenant-access-core/internal/session/service"
	signupdomain "tenant-access-core/internal/signup/domain"
	"tenant-access-core/internal/telemetry"
)

// AccessRequestRepo is the slice of the signup repository the admin surface
// reviews petitions through.
type AccessRequestRepo interface {
	ListPendingAccessRequests(ctx context.Context) ([]*signupdomain.AccessRequest, error)
	UpdateAccessRequestStatus(ctx context.Context, id string, status signupdomain.RequestStatus, at time.Time) error
}

// Handler serves the /api/v1/admin routes.
type Handler struct {
	sessions    *sessionservice.Manager
	members     *membershipservice.Service
	memberships rbac.OrgMembershipGetter
	requests    AccessRequestRepo
	metrics     *telemetry.Metrics
}

// NewHandler returns an admin Handler.
func NewHandler(
	sessions *sessionservice.Manager,
	members *membershipservice.Service,
	memberships rbac.OrgMembershipGetter,
	requests AccessRequestRepo,
	metrics *telemetry.Metrics,
) *Handler {
	return &Handler{sessions: sessions, members: members, memberships: memberships, requests: requests, metrics: metrics}
}

// RegisterRoutes mounts the admin endpoints.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/api/v1/admin/sessions", h.ListSessions)
	r.DELETE("/api/v1/admin/sessions/:id", h.RevokeSession)
	r.POST("/api/v1/admin/users/:id/sessions/revoke", h.RevokeUserSessions)
	r.POST("/api/v1/admin/members", h.AddMember)
	r.PATCH("/api/v1/admin/members/:id", h.ChangeRole)
	r.DELETE("/api/v1/admin/members/:id", h.RemoveMember)
	r.POST("/api/v1/admin/preapprovals", h.Preapprove)
	r.GET("/api/v1/admin/access-requests", h.ListAccessRequests)
	r.POST("/api/v1/admin/access-requests/:id", h.DecideAccessRequest)
}

func (h *Handler) capability(c *gin.Context) (rbac.OrgAdminCapability, bool) {
	cap, err := rbac.RequireOrgAdmin(c.Request.Context(), h.memberships)
	if err != nil {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin role required"})
		return rbac.OrgAdminCapability{}, false
	}
	return cap, true
}

func (h *Handler) ListSessions(c *gin.Context) {
	cap, ok := h.capability(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	sessions, err := h.sessions.ListByOrg(c.Request.Context(), cap.OrgID, int32(limit), int32(offset))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	out := make([]gin.H, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, gin.H{
			"id":           s.ID,
			"user_id":      s.UserID,
			"created_at":   s.CreatedAt,
			"last_seen_at": s.LastSeenAt,
			"device_class": s.DeviceClass,
			"revoked":      s.RevokedAt != nil,
		})
	}
	c.JSON(http.StatusOK, gin.H{"sessions": out})
}

func (h *Handler) RevokeSession(c *gin.Context) {
	cap, ok := h.capability(c)
	if !ok {
		return
	}
	err := h.sessions.RevokeForOrg(c.Request.Context(), cap.OrgID, c.Param("id"))
	switch {
	case errors.Is(err, sessionservice.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		h.metrics.SessionRevoked(c.Request.Context(), sessiondomain.RevokeReasonAdmin)
		c.JSON(http.StatusOK, gin.H{"status": "revoked"})
	}
}

func (h *Handler) RevokeUserSessions(c *gin.Context) {
	cap, ok := h.capability(c)
	if !ok {
		return
	}
	targetID := c.Param("id")
	m, err := h.memberships.GetByUserAndOrg(c.Request.Context(), targetID, cap.OrgID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if !m.Active() {
		c.JSON(http.StatusNotFound, gin.H{"error": "user is not a member"})
		return
	}
	n, err := h.sessions.RevokeAll(c.Request.Context(), targetID, sessiondomain.RevokeReasonAdmin, "")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked", "count": n})
}

type memberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func (h *Handler) AddMember(c *gin.Context) {
	cap, ok := h.capability(c)
	if !ok {
		return
	}
	var req memberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	m, err := h.members.Add(c.Request.Context(), cap.UserID, req.UserID, cap.OrgID, membershipdomain.Role(req.Role))
	switch {
	case errors.Is(err, membershipservice.ErrInvalidRole), errors.Is(err, membershipservice.ErrAlreadyExists):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		c.JSON(http.StatusCreated, gin.H{"id": m.ID, "role": string(m.Role)})
	}
}

type roleRequest struct {
	Role string `json:"role"`
}

func (h *Handler) ChangeRole(c *gin.Context) {
	cap, ok := h.capability(c)
	if !ok {
		return
	}
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	m, err := h.members.ChangeRole(c.Request.Context(), cap.UserID, c.Param("id"), cap.OrgID, membershipdomain.Role(req.Role))
	switch {
	case errors.Is(err, membershipservice.ErrLastAdmin):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, membershipservice.ErrInvalidRole), errors.Is(err, membershipservice.ErrNotMember):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		c.JSON(http.StatusOK, gin.H{"id": m.ID, "role": string(m.Role)})
	}
}

func (h *Handler) RemoveMember(c *gin.Context) {
	cap, ok := h.capability(c)
	if !ok {
		return
	}
	err := h.members.Remove(c.Request.Context(), cap.UserID, c.Param("id"), cap.OrgID)
	switch {
	case errors.Is(err, membershipservice.ErrLastAdmin):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, membershipservice.ErrNotMember):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "removed"})
	}
}

type preapproveRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (h *Handler) Preapprove(c *gin.Context) {
	cap, ok := h.capability(c)
	if !ok {
		return
	}
	var req preapproveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	p, err := h.members.Preapprove(c.Request.Context(), cap.UserID, cap.OrgID, req.Email, membershipdomain.Role(req.Role))
	switch {
	case errors.Is(err, membershipservice.ErrInvalidRole):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	default:
		c.JSON(http.StatusCreated, gin.H{"id": p.ID, "email": p.Email, "role": string(p.Role)})
	}
}

func (h *Handler) ListAccessRequests(c *gin.Context) {
	if _, ok := h.capability(c); !ok {
		return
	}
	pending, err := h.requests.ListPendingAccessRequests(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	out := make([]gin.H, 0, len(pending))
	for _, a := range pending {
		out = append(out, gin.H{
			"id":         a.ID,
			"user_id":    a.UserID,
			"org_name":   a.OrgName,
			"message":    a.Message,
			"created_at": a.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"requests": out})
}

type decisionRequest struct {
	Approve bool   `json:"approve"`
	UserID  string `json:"user_id"`
	Role    string `json:"role"`
}

// DecideAccessRequest approves or rejects a lobby user's petition. Approval
// adds the user to the admin's organization with the given role.
func (h *Handler) DecideAccessRequest(c *gin.Context) {
	cap, ok := h.capability(c)
	if !ok {
		return
	}
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	now := time.Now().UTC()
	if !req.Approve {
		if err := h.requests.UpdateAccessRequestStatus(c.Request.Context(), c.Param("id"), signupdomain.RequestRejected, now); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "rejected"})
		return
	}
	role := membershipdomain.Role(req.Role)
	if req.Role == "" {
		role = membershipdomain.RoleInvestorViewer
	}
	if _, err := h.members.Add(c.Request.Context(), cap.UserID, req.UserID, cap.OrgID, role); err != nil &&
		!errors.Is(err, membershipservice.ErrAlreadyExists) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	if err := h.requests.UpdateAccessRequestStatus(c.Request.Context(), c.Param("id"), signupdomain.RequestApproved, now); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "approved"})
}
