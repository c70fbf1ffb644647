package domain

import "time"

// VerificationToken proves control of an email address during signup. Only
// the SHA-256 digest of the raw token is stored.
type VerificationToken struct {
	ID         string
	Email      string
	TokenHash  string
	ExpiresAt  time.Time
	ConsumedAt *time.Time
	CreatedAt  time.Time
}

// Usable reports whether the token can still verify an email at now.
func (t *VerificationToken) Usable(now time.Time) bool {
	return t != nil && t.ConsumedAt == nil && now.Before(t.ExpiresAt)
}

// Eligibility methods, in resolution priority order.
const (
	MethodPreapproved = "preapproved"
	MethodInvite      = "invite"
	MethodLobby       = "lobby"
)

// Eligibility is the single outcome of signup resolution: exactly one method,
// one org, one role. There is no partial state.
type Eligibility struct {
	Method string
	OrgID  string
	Role   string
}

// AccessRequest is a lobby user's petition to join a named organization,
// pending admin action.
type AccessRequest struct {
	ID        string
	UserID    string
	OrgName   string
	Message   string
	Status    RequestStatus
	CreatedAt time.Time
	UpdatedAt time.Time
}

type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)
