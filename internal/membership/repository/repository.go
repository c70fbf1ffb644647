package repository

import (
	"context"

	"tenant-access-core/internal/membership/domain"
)

// Repository defines persistence for memberships and pre-approvals.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Membership, error)
	GetByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*domain.Membership, error)
	ListByOrg(ctx context.Context, orgID string) ([]*domain.Membership, error)
	Create(ctx context.Context, m *domain.Membership) error
	UpdateRole(ctx context.Context, userID, orgID string, role domain.Role) (*domain.Membership, error)
	UpdateStatus(ctx context.Context, userID, orgID string, status domain.Status) error
	CountActiveAdmins(ctx context.Context, orgID string) (int64, error)

	GetActivePreapprovalByEmail(ctx context.Context, email string) (*domain.Preapproval, error)
	CreatePreapproval(ctx context.Context, p *domain.Preapproval) error
	DeactivatePreapproval(ctx context.Context, id string) error
}
