package domain

import "time"

// AuditLog is one immutable row in the security trail. Rows are written on
// authentication, session, membership, and invite events and are never
// updated or deleted.
type AuditLog struct {
	ID string
	// OrgID scopes the event to a tenant. Empty for events that happen
	// before any org is known, such as a failed login.
	OrgID string
	// UserID is the acting user when one is known. Anonymous events, like a
	// login attempt against a nonexistent email, leave it empty.
	UserID   string
	Action   string
	Resource string
	// IP is the client address the request arrived from.
	IP string
	// Metadata is a free-form JSON object with action-specific detail.
	Metadata  string
	CreatedAt time.Time
}
