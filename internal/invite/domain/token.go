package domain

import (
	"strings"
	"time"
)

// Token is an admin-issued invite. Only the SHA-256 digest of the raw token
// is stored; the raw value is shown to the issuing admin exactly once.
type Token struct {
	ID               string
	OrgID            string
	TokenHash        string
	Role             string
	MaxUses          int
	UsedCount        int
	ExpiresAt        time.Time
	RestrictEmail    string // empty means unrestricted
	RestrictDomain   string // empty means unrestricted
	RequireTwoFactor bool
	RevokedAt        *time.Time
	RevokeReason     string
	CreatedBy        string
	CreatedAt        time.Time
}

// Reasons a token fails the redeemability check. These stay in audit logs;
// callers only ever see valid or not valid.
const (
	ReasonRevoked       = "revoked"
	ReasonExhausted     = "exhausted"
	ReasonExpired       = "expired"
	ReasonEmailMismatch = "email_mismatch"
)

// Check evaluates the redeemability conjunction for email at now. Returns ""
// when every clause holds, otherwise the first violated clause.
func (t *Token) Check(now time.Time, email string) string {
	if t.RevokedAt != nil {
		return ReasonRevoked
	}
	if t.UsedCount >= t.MaxUses {
		return ReasonExhausted
	}
	if !now.Before(t.ExpiresAt) {
		return ReasonExpired
	}
	if !t.emailAllowed(email) {
		return ReasonEmailMismatch
	}
	return ""
}

func (t *Token) emailAllowed(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if t.RestrictEmail != "" {
		return email == strings.ToLower(t.RestrictEmail)
	}
	if t.RestrictDomain != "" {
		_, domain, found := strings.Cut(email, "@")
		return found && domain == strings.ToLower(t.RestrictDomain)
	}
	return true
}
