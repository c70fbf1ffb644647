// Package rbac resolves caller roles into capability values. Admin-only
// surfaces take an OrgAdminCapability parameter, so a missing check is a
// compile error rather than a forgotten branch.
package rbac

import (
	"context"
	"errors"

	"tenant-access-core/internal/authgate"
	"tenant-access-core/internal/membership/domain"
)

var (
	// ErrUnauthenticated is returned when the context carries no resolved identity.
	ErrUnauthenticated = errors.New("org and user context required")
	// ErrNotMember is returned when the caller has no active membership in the context org.
	ErrNotMember = errors.New("not a member of this organization")
	// ErrNotAdmin is returned when the caller's role is below admin.
	ErrNotAdmin = errors.New("organization admin required")
)

// OrgMembershipGetter returns a user's membership in an org. Used to resolve caller role.
type OrgMembershipGetter interface {
	GetByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error)
}

// OrgAdminCapability proves RequireOrgAdmin succeeded for (UserID, OrgID).
// Only this package can mint one.
type OrgAdminCapability struct {
	OrgID  string
	UserID string

	valid bool
}

// Valid reports whether the capability was minted by RequireOrgAdmin.
// The zero value is invalid.
func (c OrgAdminCapability) Valid() bool { return c.valid }

// RequireOrgAdmin ensures the caller is authenticated and holds an active
// admin membership in the context org, returning a capability for the pair.
func RequireOrgAdmin(ctx context.Context, getter OrgMembershipGetter) (OrgAdminCapability, error) {
	orgID, okOrg := authgate.GetOrgID(ctx)
	userID, okUser := authgate.GetUserID(ctx)
	if !okOrg || orgID == "" || !okUser || userID == "" {
		return OrgAdminCapability{}, ErrUnauthenticated
	}
	m, err := getter.GetByUserAndOrg(ctx, userID, orgID)
	if err != nil {
		return OrgAdminCapability{}, err
	}
	if !m.Active() {
		return OrgAdminCapability{}, ErrNotMember
	}
	if m.Role != domain.RoleAdmin {
		return OrgAdminCapability{}, ErrNotAdmin
	}
	return OrgAdminCapability{OrgID: orgID, UserID: userID, valid: true}, nil
}

// RequireOrgMember ensures the caller is authenticated and holds any active
// membership in the context org. Returns the membership for role checks.
func RequireOrgMember(ctx context.Context, getter OrgMembershipGetter) (*domain.Membership, error) {
	orgID, okOrg := authgate.GetOrgID(ctx)
	userID, okUser := authgate.GetUserID(ctx)
	if !okOrg || orgID == "" || !okUser || userID == "" {
		return nil, ErrUnauthenticated
	}
	m, err := getter.GetByUserAndOrg(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	if !m.Active() {
		return nil, ErrNotMember
	}
	return m, nil
}
