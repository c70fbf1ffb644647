package domain

import "time"

// Session represents one authenticated browser/device context. IP, user-agent,
// and refresh token are stored as SHA-256 digests only; the raw values never
// reach the database.
type Session struct {
	ID             string // opaque 256-bit identifier, also the cookie value
	UserID         string
	CreatedAt      time.Time
	ExpiresAt      time.Time  // absolute expiry
	LastSeenAt     time.Time  // sliding activity timestamp
	RevokedAt      *time.Time // nil when not revoked
	RevokeReason   string     // set together with RevokedAt
	IPHash         string
	UserAgentHash  string
	CSRFSecret     string // random, session-lifetime, echoed back via header
	RefreshHash    string // SHA-256 of the current refresh token
	ActiveOrgID    string // empty until a workspace is selected or auto-resolved
	MFASatisfiedAt *time.Time // nil means not yet passed this session
	DeviceClass    string     // coarse device/browser/OS classification
}

// Revocation reasons recorded on RevokeReason.
const (
	RevokeReasonLogout          = "logout"
	RevokeReasonIdleTimeout     = "idle_timeout"
	RevokeReasonSessionLimit    = "session_limit"
	RevokeReasonRotated         = "rotated"
	RevokeReasonPasswordChanged = "password_changed"
	RevokeReasonMFADisabled     = "mfa_disabled"
	RevokeReasonMFAReset        = "mfa_reset"
	RevokeReasonRefreshReuse    = "refresh_reuse"
	RevokeReasonIPMismatch      = "ip_mismatch"
	RevokeReasonAdmin           = "admin_revoked"
)

// Usable reports whether the session is valid at now given the idle cutoff:
// not revoked, before absolute expiry, and seen within the idle window.
func (s *Session) Usable(now time.Time, idleTimeout time.Duration) bool {
	if s == nil || s.RevokedAt != nil {
		return false
	}
	if !now.Before(s.ExpiresAt) {
		return false
	}
	return now.Sub(s.LastSeenAt) < idleTimeout
}

// MFASatisfied reports whether this session has passed the MFA gate.
func (s *Session) MFASatisfied() bool {
	return s != nil && s.MFASatisfiedAt != nil
}
