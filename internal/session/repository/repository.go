package repository

import (
	"context"
	"time"

	"tenant-access-core/internal/session/domain"
)

// Repository defines persistence for sessions.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*domain.Session, error)
	ListByOrg(ctx context.Context, orgID string, limit, offset int32) ([]*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	Revoke(ctx context.Context, id, reason string, at time.Time) error
	RevokeAllByUser(ctx context.Context, userID, reason, exceptID string, at time.Time) (int64, error)
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
	SetMFASatisfied(ctx context.Context, id string, at time.Time) error
	SetActiveOrg(ctx context.Context, id, orgID string) error
	UpdateRefreshHash(ctx context.Context, id, refreshHash string) error
	SweepExpired(ctx context.Context, now time.Time, idleTimeout time.Duration) (int64, error)
}
