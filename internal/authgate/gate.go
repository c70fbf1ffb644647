package authgate

import (
	"context"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/gin-gonic/gin"

	"tenant-access-core/internal/audit"
	membershipdomain "tenant-access-core/internal/membership/domain"
	"tenant-access-core/internal/security"
	sessiondomain "tenant-access-core/internal/session/domain"
	"tenant-access-core/internal/telemetry"
)

// Cookie and header names shared with the handlers that set them.
const (
	SessionCookie = "session_id"
	CSRFCookie    = "csrf_token"
	CSRFHeader    = "X-CSRF-Token"
)

// Machine-readable error codes attached to 401/403 responses on API paths.
const (
	CodeUnauthenticated   = "UNAUTHENTICATED"
	CodeMFARequired       = "MFA_REQUIRED"
	CodeWorkspaceRequired = "WORKSPACE_REQUIRED"
	CodeIPMismatch        = "IP_MISMATCH"
	CodeCSRFMissing       = "CSRF_MISSING"
	CodeCSRFInvalid       = "CSRF_INVALID"
)

// Page routes the gate redirects to.
const (
	LoginPath      = "/login"
	MFAPath        = "/mfa"
	WorkspacesPath = "/workspaces"
)

const stateKey = "authgate.state"

// publicPaths bypass the gate entirely: anyone can reach them.
var publicPaths = map[string]bool{
	"/":                        true,
	"/login":                   true,
	"/signup":                  true,
	"/verify-email":            true,
	"/reset-password":          true,
	"/healthz":                 true,
	"/api/v1/health":           true,
	"/api/v1/auth/login":       true,
	"/api/v1/signup/initiate":  true,
	"/api/v1/signup/verify":    true,
	"/api/v1/signup/complete":  true,
	"/api/v1/invites/validate": true,
}

// mfaExemptPaths are reachable by an authenticated session that has not yet
// passed the second factor. The verify endpoint has to be here or nobody
// could ever satisfy the challenge, and the setup endpoints have to be here
// or a user whose organization mandates a second factor could never enroll
// in one.
var mfaExemptPaths = map[string]bool{
	MFAPath:                      true,
	"/logout":                    true,
	"/api/v1/mfa/setup":          true,
	"/api/v1/mfa/setup/complete": true,
	"/api/v1/mfa/verify":         true,
	"/api/v1/auth/logout":        true,
}

// workspaceExemptPaths are reachable before an active organization is
// selected. Everything MFA-exempt is also workspace-exempt.
var workspaceExemptPaths = map[string]bool{
	WorkspacesPath:              true,
	"/api/v1/workspaces":        true,
	"/api/v1/workspaces/select": true,
}

var staticExtensions = map[string]bool{
	".css": true, ".js": true, ".map": true, ".png": true, ".jpg": true,
	".svg": true, ".ico": true, ".woff": true, ".woff2": true,
}

// SessionGate is the slice of the session Manager the gate consumes.
type SessionGate interface {
	Validate(ctx context.Context, sessionID string) (*sessiondomain.Session, error)
	RequiresMFA(ctx context.Context, s *sessiondomain.Session) (bool, error)
	ValidateCSRF(s *sessiondomain.Session, token string) bool
	RevokeByID(ctx context.Context, sessionID, userID, reason string) error
}

// MembershipLister reports the user's active memberships, used to decide
// whether workspace selection is pending.
type MembershipLister interface {
	ListActiveByUser(ctx context.Context, userID string) ([]*membershipdomain.Membership, error)
}

// Options tunes gate behavior.
type Options struct {
	// BindIP revokes a session presented from an IP other than the one it
	// was created from.
	BindIP bool
	// Metrics counts gate denials and CSRF rejections. Nil disables counting.
	Metrics *telemetry.Metrics
}

// Gate resolves an AuthState for each request and enforces the ordered
// checks: authentication, then MFA, then workspace selection.
type Gate struct {
	sessions    SessionGate
	memberships MembershipLister
	auditLogger audit.AuditLogger
	opts        Options
}

// NewGate returns a Gate over the given session and membership surfaces.
func NewGate(sessions SessionGate, memberships MembershipLister, auditLogger audit.AuditLogger, opts Options) *Gate {
	return &Gate{sessions: sessions, memberships: memberships, auditLogger: auditLogger, opts: opts}
}

// Middleware is the ordered auth gate. Public paths and static assets pass
// through untouched; everything else gets an AuthState and either proceeds
// with identity attached or is blocked/redirected.
func (g *Gate) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := c.Request.URL.Path
		if isPublic(p) {
			c.Next()
			return
		}

		sessionID, _ := c.Cookie(SessionCookie)
		s, err := g.sessions.Validate(c.Request.Context(), sessionID)
		if err != nil {
			g.deny(c, Unauthenticated(), CodeUnauthenticated)
			return
		}

		if g.opts.BindIP && !security.DigestEqual(c.ClientIP(), s.IPHash) {
			// The cookie surfaced from a different network than it was minted
			// on. Kill the session; the holder may not be its owner.
			_ = g.sessions.RevokeByID(c.Request.Context(), s.ID, s.UserID, sessiondomain.RevokeReasonIPMismatch)
			g.logEvent(c, s, "ip_mismatch")
			g.deny(c, Unauthenticated(), CodeIPMismatch)
			return
		}

		needsMFA, err := g.sessions.RequiresMFA(c.Request.Context(), s)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if needsMFA {
			state := NeedsMFA(s)
			if !mfaExemptPaths[p] {
				g.logEvent(c, s, "gate_mfa_required")
				g.deny(c, state, CodeMFARequired)
				return
			}
			g.attach(c, state)
			return
		}

		pending, err := g.workspacePending(c.Request.Context(), s)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		if pending {
			state := NeedsWorkspace(s)
			if !mfaExemptPaths[p] && !workspaceExemptPaths[p] {
				g.deny(c, state, CodeWorkspaceRequired)
				return
			}
			g.attach(c, state)
			return
		}

		g.attach(c, Authorized(s))
	}
}

// workspacePending reports whether the session still needs an explicit
// workspace choice: more than one active membership and no org selected.
func (g *Gate) workspacePending(ctx context.Context, s *sessiondomain.Session) (bool, error) {
	if s.ActiveOrgID != "" {
		return false, nil
	}
	memberships, err := g.memberships.ListActiveByUser(ctx, s.UserID)
	if err != nil {
		return false, err
	}
	return len(memberships) > 1, nil
}

// attach puts the AuthState on the gin context and the identity on the
// request context, then lets the request proceed.
func (g *Gate) attach(c *gin.Context, state AuthState) {
	c.Set(stateKey, state)
	ctx := WithIdentity(c.Request.Context(), state.UserID(), state.OrgID(), state.Session.ID)
	c.Request = c.Request.WithContext(ctx)
	c.Next()
}

func (g *Gate) deny(c *gin.Context, state AuthState, code string) {
	g.opts.Metrics.GateDenial(c.Request.Context(), code)
	if isAPI(c.Request.URL.Path) {
		status := http.StatusForbidden
		if state.Kind == KindUnauthenticated {
			status = http.StatusUnauthorized
		}
		c.AbortWithStatusJSON(status, gin.H{"error": code})
		return
	}
	var target string
	switch state.Kind {
	case KindNeedsMFA:
		target = MFAPath
	case KindNeedsWorkspace:
		target = WorkspacesPath
	default:
		target = LoginPath + "?returnUrl=" + url.QueryEscape(c.Request.URL.RequestURI())
	}
	c.Redirect(http.StatusFound, target)
	c.Abort()
}

func (g *Gate) logEvent(c *gin.Context, s *sessiondomain.Session, action string) {
	if g.auditLogger != nil {
		g.auditLogger.LogEvent(c.Request.Context(), s.ActiveOrgID, s.UserID, action, "authgate", c.Request.URL.Path)
	}
}

// StateFrom returns the AuthState the gate attached for this request.
func StateFrom(c *gin.Context) (AuthState, bool) {
	v, ok := c.Get(stateKey)
	if !ok {
		return AuthState{}, false
	}
	state, ok := v.(AuthState)
	return state, ok
}

func isPublic(p string) bool {
	return publicPaths[p] || staticExtensions[strings.ToLower(path.Ext(p))]
}

func isAPI(p string) bool {
	return strings.HasPrefix(p, "/api/")
}
