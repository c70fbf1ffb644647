// Package server assembles the gin engine: the ordered auth gate, the CSRF
// guard, and every domain handler.
package server

import (
	"github.com/gin-gonic/gin"

	adminhandler "tenant-access-core/internal/admin/handler"
	"tenant-access-core/internal/authgate"
	healthhandler "tenant-access-core/internal/health/handler"
	identityhandler "tenant-access-core/internal/identity/handler"
	invitehandler "tenant-access-core/internal/invite/handler"
	mfahandler "tenant-access-core/internal/mfa/handler"
	orgresolverhandler "tenant-access-core/internal/orgresolver/handler"
	sessionhandler "tenant-access-core/internal/session/handler"
	signuphandler "tenant-access-core/internal/signup/handler"
)

// Deps holds the assembled handlers and middleware for the HTTP server.
type Deps struct {
	Gate      *authgate.Gate
	Auth      *identityhandler.Handler
	Sessions  *sessionhandler.Handler
	MFA       *mfahandler.Handler
	Signup    *signuphandler.Handler
	Invites   *invitehandler.Handler
	Workspace *orgresolverhandler.Handler
	Admin     *adminhandler.Handler
	Health    *healthhandler.Handler
}

// New builds the engine. Route → handler mapping:
//   - /api/v1/auth/*        → internal/identity/handler
//   - /api/v1/sessions*     → internal/session/handler
//   - /api/v1/mfa/*         → internal/mfa/handler
//   - /api/v1/signup/*      → internal/signup/handler
//   - /api/v1/invites*      → internal/invite/handler
//   - /api/v1/workspaces*   → internal/orgresolver/handler
//   - /api/v1/admin/*       → internal/admin/handler
//   - /healthz, /api/v1/health → internal/health/handler
func New(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(deps.Gate.Middleware())
	r.Use(deps.Gate.CSRF())

	deps.Health.RegisterRoutes(r)
	deps.Auth.RegisterRoutes(r)
	deps.Sessions.RegisterRoutes(r)
	deps.MFA.RegisterRoutes(r)
	deps.Signup.RegisterRoutes(r)
	deps.Invites.RegisterRoutes(r)
	deps.Workspace.RegisterRoutes(r)
	deps.Admin.RegisterRoutes(r)

	return r
}
