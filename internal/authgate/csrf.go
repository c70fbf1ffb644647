package authgate

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// CSRF enforces the per-session CSRF secret on state-changing requests. It
// runs after Middleware: the gate resolved the session, this layer only
// compares tokens. Safe methods and public paths are skipped; missing and
// mismatched tokens get distinct codes, and mismatches are audited.
func (g *Gate) CSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}
		if isPublic(c.Request.URL.Path) {
			c.Next()
			return
		}
		state, ok := StateFrom(c)
		if !ok || state.Session == nil {
			// The gate let the request through without a session, so there
			// is no secret to check against.
			c.Next()
			return
		}
		token := c.GetHeader(CSRFHeader)
		if token == "" {
			g.opts.Metrics.CSRFRejected(c.Request.Context())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": CodeCSRFMissing})
			return
		}
		if !g.sessions.ValidateCSRF(state.Session, token) {
			g.logEvent(c, state.Session, "csrf_mismatch")
			g.opts.Metrics.CSRFRejected(c.Request.Context())
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": CodeCSRFInvalid})
			return
		}
		c.Next()
	}
}
