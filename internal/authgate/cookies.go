package authgate

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// CookieOptions controls the session and CSRF cookie attributes. Secure must
// be true in production; the config layer refuses anything else.
type CookieOptions struct {
	Secure bool
	MaxAge time.Duration
}

// SetSessionCookies writes the session cookie (HttpOnly) and the CSRF cookie
// (readable by client script so it can be echoed back as a header). Both are
// SameSite=Lax on path /.
func SetSessionCookies(c *gin.Context, sessionID, csrfSecret string, opts CookieOptions) {
	maxAge := int(opts.MaxAge.Seconds())
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, sessionID, maxAge, "/", "", opts.Secure, true)
	c.SetCookie(CSRFCookie, csrfSecret, maxAge, "/", "", opts.Secure, false)
}

// ClearSessionCookies expires both cookies.
func ClearSessionCookies(c *gin.Context, opts CookieOptions) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, "", -1, "/", "", opts.Secure, true)
	c.SetCookie(CSRFCookie, "", -1, "/", "", opts.Secure, false)
}
