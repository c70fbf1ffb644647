package repository

import (
	"context"
	"time"

	"tenant-access-core/internal/mfa/domain"
)

// Repository defines persistence for TOTP configs and backup codes.
type Repository interface {
	GetByUser(ctx context.Context, userID string) (*domain.Config, error)
	// Enabled reports whether the user has a confirmed second factor.
	Enabled(ctx context.Context, userID string) (bool, error)
	// SaveSecret upserts the pending secret with enabled=false.
	SaveSecret(ctx context.Context, userID, secret string, at time.Time) error
	// Enable flips the config to enabled.
	Enable(ctx context.Context, userID string, at time.Time) error
	// Delete removes the config and all backup codes for the user.
	Delete(ctx context.Context, userID string) error

	// ReplaceBackupCodes drops the user's codes and stores the given digests.
	ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string, at time.Time) error
	// ConsumeBackupCode marks the matching unconsumed code used; reports whether one matched.
	ConsumeBackupCode(ctx context.Context, userID, codeHash string, at time.Time) (bool, error)
	// CountConsumed returns how many of the user's codes have been used.
	CountConsumed(ctx context.Context, userID string) (int, error)
}
