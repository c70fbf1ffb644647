package repository

import (
	"context"

	"tenant-access-core/internal/identity/domain"
)

// Repository defines persistence for identities.
type Repository interface {
	GetByUserAndProvider(ctx context.Context, userID string, provider domain.Provider) (*domain.Identity, error)
	Create(ctx context.Context, i *domain.Identity) error
	UpdatePasswordHash(ctx context.Context, id, passwordHash string) error
}
