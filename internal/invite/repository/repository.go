package repository

import (
	"context"
	"time"

	"tenant-access-core/internal/invite/domain"
	membershipdomain "tenant-access-core/internal/membership/domain"
)

// Repository defines persistence for invite tokens.
type Repository interface {
	GetByHash(ctx context.Context, tokenHash string) (*domain.Token, error)
	GetByID(ctx context.Context, id string) (*domain.Token, error)
	ListByOrg(ctx context.Context, orgID string) ([]*domain.Token, error)
	Create(ctx context.Context, t *domain.Token) error
	Revoke(ctx context.Context, id, reason string, at time.Time) error
	// Redeem increments the token's use count and upserts the membership in
	// one transaction. The increment re-checks the redeemability clauses so a
	// concurrent redemption cannot push used_count past max_uses.
	Redeem(ctx context.Context, tokenID string, m *membershipdomain.Membership, now time.Time) error
}
