package repository

import (
	"context"
	"time"

	"tenant-access-core/internal/signup/domain"
)

// Repository defines persistence for verification tokens and access requests.
type Repository interface {
	CreateVerificationToken(ctx context.Context, t *domain.VerificationToken) error
	GetVerificationTokenByHash(ctx context.Context, tokenHash string) (*domain.VerificationToken, error)
	// ConsumeVerificationToken marks the token used; reports whether this call
	// was the one that consumed it.
	ConsumeVerificationToken(ctx context.Context, id string, at time.Time) (bool, error)

	CreateAccessRequest(ctx context.Context, r *domain.AccessRequest) error
	ListPendingAccessRequests(ctx context.Context) ([]*domain.AccessRequest, error)
	UpdateAccessRequestStatus(ctx context.Context, id string, status domain.RequestStatus, at time.Time) error
}
