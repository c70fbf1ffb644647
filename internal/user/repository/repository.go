package repository

import (
	"context"

	"tenant-access-core/internal/user/domain"
)

// Repository defines persistence for users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	SetEmailVerified(ctx context.Context, id string) error
	SetName(ctx context.Context, id, name string) error
	SetDefaultOrg(ctx context.Context, id, orgID string) error
}
