// Package authgate computes a request's authentication state and enforces it
// as gin middleware. The gate is ordered: authentication, then MFA, then
// workspace selection. Downstream handlers consume the derived identity from
// context and never re-read cookies.
package authgate

import (
	sessiondomain "tenant-access-core/internal/session/domain"
)

// Kind enumerates the possible authentication states of a request. The order
// of the constants is the order the gate resolves them in.
type Kind int

const (
	KindUnauthenticated Kind = iota
	KindNeedsMFA
	KindNeedsWorkspace
	KindAuthorized
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindNeedsMFA:
		return "needs_mfa"
	case KindNeedsWorkspace:
		return "needs_workspace"
	case KindAuthorized:
		return "authorized"
	}
	return "unknown"
}

// AuthState is the single outcome of gate resolution. Session is nil exactly
// when Kind is KindUnauthenticated.
type AuthState struct {
	Kind    Kind
	Session *sessiondomain.Session
}

// Unauthenticated is the state for requests with no usable session.
func Unauthenticated() AuthState {
	return AuthState{Kind: KindUnauthenticated}
}

// NeedsMFA is the state for an authenticated session that still has to pass
// the second factor.
func NeedsMFA(s *sessiondomain.Session) AuthState {
	return AuthState{Kind: KindNeedsMFA, Session: s}
}

// NeedsWorkspace is the state for an MFA-clear session with multiple
// memberships and no active organization selected.
func NeedsWorkspace(s *sessiondomain.Session) AuthState {
	return AuthState{Kind: KindNeedsWorkspace, Session: s}
}

// Authorized is the fully-gated state.
func Authorized(s *sessiondomain.Session) AuthState {
	return AuthState{Kind: KindAuthorized, Session: s}
}

// UserID returns the session's user id, or "" when unauthenticated.
func (a AuthState) UserID() string {
	if a.Session == nil {
		return ""
	}
	return a.Session.UserID
}

// OrgID returns the session's active organization id, or "".
func (a AuthState) OrgID() string {
	if a.Session == nil {
		return ""
	}
	return a.Session.ActiveOrgID
}
