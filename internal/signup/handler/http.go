// Package handler exposes the signup flow over HTTP. The initiate endpoint's
// response is constant regardless of whether the email is known.
package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"tenant-access-core/internal/authgate"
	identityservice "tenant-access-core/internal/identity/service"
	"tenant-access-core/internal/signup/service"
	"tenant-access-core/internal/telemetry"
)

// Handler serves the /api/v1/signup routes.
type Handler struct {
	signup     *service.Service
	metrics    *telemetry.Metrics
	cookieOpts authgate.CookieOptions
}

// NewHandler returns a signup Handler.
func NewHandler(signup *service.Service, metrics *telemetry.Metrics, cookieOpts authgate.CookieOptions) *Handler {
	return &Handler{signup: signup, metrics: metrics, cookieOpts: cookieOpts}
}

// RegisterRoutes mounts the signup endpoints.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/api/v1/signup/initiate", h.Initiate)
	r.POST("/api/v1/signup/verify", h.Verify)
	r.POST("/api/v1/signup/complete", h.Complete)
	r.POST("/api/v1/signup/request-access", h.RequestAccess)
}

type initiateRequest struct {
	Email string `json:"email"`
}

func (h *Handler) Initiate(c *gin.Context) {
	var req initiateRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	msg, err := h.signup.Initiate(c.Request.Context(), req.Email)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

type verifyRequest struct {
	Token       string `json:"token"`
	InviteToken string `json:"invite_token"`
}

func (h *Handler) Verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	eligibility, err := h.signup.VerifyEmail(c.Request.Context(), req.Token, req.InviteToken)
	if errors.Is(err, service.ErrInvalidVerification) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"method": eligibility.Method})
}

type completeRequest struct {
	Token       string `json:"token"`
	Name        string `json:"name"`
	Password    string `json:"password"`
	InviteToken string `json:"invite_token"`
	DeviceClass string `json:"device_class"`
}

func (h *Handler) Complete(c *gin.Context) {
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	result, err := h.signup.Complete(c.Request.Context(), service.CompleteParams{
		Token:       req.Token,
		Name:        req.Name,
		Password:    req.Password,
		InviteToken: req.InviteToken,
		IP:          c.ClientIP(),
		UserAgent:   c.Request.UserAgent(),
		DeviceClass: req.DeviceClass,
	})
	switch {
	case errors.Is(err, service.ErrInvalidVerification):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, service.ErrNameRequired), errors.Is(err, identityservice.ErrWeakPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	h.metrics.SessionCreated(c.Request.Context())
	if result.Session != nil && result.Session.Session != nil {
		s := result.Session.Session
		authgate.SetSessionCookies(c, s.ID, s.CSRFSecret, h.cookieOpts)
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "signed_up",
		"method": result.Eligibility.Method,
		"org_id": result.Eligibility.OrgID,
	})
}

type requestAccessRequest struct {
	OrgName string `json:"org_name"`
	Message string `json:"message"`
}

func (h *Handler) RequestAccess(c *gin.Context) {
	userID, ok := authgate.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": authgate.CodeUnauthenticated})
		return
	}
	var req requestAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	r, err := h.signup.RequestAccess(c.Request.Context(), userID, req.OrgName, req.Message)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": string(r.Status), "id": r.ID})
}
