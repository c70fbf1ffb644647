package domain

import (
	"time"
)

// Membership links a user to an organization with a role. Memberships are
// never hard-deleted; removal is a status transition.
type Membership struct {
	ID     string
	UserID string
	OrgID  string
	Role   Role
	Status Status
	// RequireTwoFactor mandates MFA for this member regardless of the org
	// setting. Set when the membership was granted through an invite that
	// carried the flag.
	RequireTwoFactor bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Role string

const (
	RoleAdmin          Role = "admin"
	RoleEditor         Role = "editor"
	RoleReviewer       Role = "reviewer"
	RoleInvestorViewer Role = "investor_viewer"
)

// ValidRole reports whether r is one of the defined roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleAdmin, RoleEditor, RoleReviewer, RoleInvestorViewer:
		return true
	}
	return false
}

type Status string

const (
	StatusActive  Status = "active"
	StatusPending Status = "pending"
	StatusRemoved Status = "removed"
)

// Active reports whether the membership grants access right now.
func (m *Membership) Active() bool {
	return m != nil && m.Status == StatusActive
}

// Preapproval is an admin-created record that binds a future signup for the
// given email to an organization and role before the user exists.
type Preapproval struct {
	ID        string
	OrgID     string
	Email     string
	Role      Role
	Active    bool
	CreatedAt time.Time
}
