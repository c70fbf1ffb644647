// Package service owns membership mutation: role changes, removal, and
// pre-approval management, with the last-admin invariant enforced at
// role-change and removal time.
package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"tenant-access-core/internal/audit"
	"tenant-access-core/internal/membership/domain"
)

// Sentinel errors for the membership service; handlers map them to HTTP codes.
var (
	ErrNotMember     = errors.New("user is not a member of the organization")
	ErrInvalidRole   = errors.New("invalid role")
	ErrLastAdmin     = errors.New("organization must retain at least one active admin")
	ErrAlreadyExists = errors.New("membership already exists")
)

// Repo is the membership repository surface needed by the service.
type Repo interface {
	GetByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*domain.Membership, error)
	ListByOrg(ctx context.Context, orgID string) ([]*domain.Membership, error)
	Create(ctx context.Context, m *domain.Membership) error
	UpdateRole(ctx context.Context, userID, orgID string, role domain.Role) (*domain.Membership, error)
	UpdateStatus(ctx context.Context, userID, orgID string, status domain.Status) error
	CountActiveAdmins(ctx context.Context, orgID string) (int64, error)
	CreatePreapproval(ctx context.Context, p *domain.Preapproval) error
}

// Service mutates memberships. No other component may change roles or status.
type Service struct {
	repo        Repo
	auditLogger audit.AuditLogger
}

// NewService returns a membership Service with the given dependencies.
func NewService(repo Repo, auditLogger audit.AuditLogger) *Service {
	return &Service{repo: repo, auditLogger: auditLogger}
}

// Add creates an active membership for the user in the org with the given role.
func (s *Service) Add(ctx context.Context, actorID, userID, orgID string, role domain.Role) (*domain.Membership, error) {
	if !domain.ValidRole(role) {
		return nil, ErrInvalidRole
	}
	existing, err := s.repo.GetByUserAndOrg(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status != domain.StatusRemoved {
		return nil, ErrAlreadyExists
	}
	if existing != nil {
		// Re-adding a removed member reactivates the row instead of creating a second one.
		if err := s.repo.UpdateStatus(ctx, userID, orgID, domain.StatusActive); err != nil {
			return nil, err
		}
		m, err := s.repo.UpdateRole(ctx, userID, orgID, role)
		if err != nil {
			return nil, err
		}
		s.logEvent(ctx, orgID, actorID, "user_added", userID)
		return m, nil
	}
	now := time.Now().UTC()
	m := &domain.Membership{
		ID:        uuid.New().String(),
		UserID:    userID,
		OrgID:     orgID,
		Role:      role,
		Status:    domain.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Create(ctx, m); err != nil {
		return nil, err
	}
	s.logEvent(ctx, orgID, actorID, "user_added", userID)
	return m, nil
}

// ChangeRole updates the member's role. Demoting the last active admin is rejected.
func (s *Service) ChangeRole(ctx context.Context, actorID, userID, orgID string, role domain.Role) (*domain.Membership, error) {
	if !domain.ValidRole(role) {
		return nil, ErrInvalidRole
	}
	m, err := s.repo.GetByUserAndOrg(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	if !m.Active() {
		return nil, ErrNotMember
	}
	if m.Role == domain.RoleAdmin && role != domain.RoleAdmin {
		admins, err := s.repo.CountActiveAdmins(ctx, orgID)
		if err != nil {
			return nil, err
		}
		if admins <= 1 {
			return nil, ErrLastAdmin
		}
	}
	updated, err := s.repo.UpdateRole(ctx, userID, orgID, role)
	if err != nil {
		return nil, err
	}
	s.logEvent(ctx, orgID, actorID, "role_changed", userID)
	return updated, nil
}

// Remove transitions the membership to removed. Removing the last active admin is rejected.
func (s *Service) Remove(ctx context.Context, actorID, userID, orgID string) error {
	m, err := s.repo.GetByUserAndOrg(ctx, userID, orgID)
	if err != nil {
		return err
	}
	if m == nil || m.Status == domain.StatusRemoved {
		return ErrNotMember
	}
	if m.Role == domain.RoleAdmin && m.Status == domain.StatusActive {
		admins, err := s.repo.CountActiveAdmins(ctx, orgID)
		if err != nil {
			return err
		}
		if admins <= 1 {
			return ErrLastAdmin
		}
	}
	if err := s.repo.UpdateStatus(ctx, userID, orgID, domain.StatusRemoved); err != nil {
		return err
	}
	s.logEvent(ctx, orgID, actorID, "user_removed", userID)
	return nil
}

// Preapprove records that a future signup with the given email joins the org with the role.
func (s *Service) Preapprove(ctx context.Context, actorID, orgID, email string, role domain.Role) (*domain.Preapproval, error) {
	if !domain.ValidRole(role) {
		return nil, ErrInvalidRole
	}
	p := &domain.Preapproval{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		Email:     email,
		Role:      role,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.CreatePreapproval(ctx, p); err != nil {
		return nil, err
	}
	s.logEvent(ctx, orgID, actorID, "preapproval_created", email)
	return p, nil
}

func (s *Service) logEvent(ctx context.Context, orgID, actorID, action, target string) {
	if s.auditLogger != nil {
		s.auditLogger.LogEvent(ctx, orgID, actorID, action, "membership", target)
	}
}
