package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tenant-access-core/internal/mfa/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an MFA repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByUser returns the user's TOTP config, or nil if not enrolled.
func (r *PostgresRepository) GetByUser(ctx context.Context, userID string) (*domain.Config, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, secret, enabled, enabled_at, created_at, updated_at
		FROM mfa_configs WHERE user_id = $1`, userID)
	var c domain.Config
	var enabledAt sql.NullTime
	err := row.Scan(&c.UserID, &c.Secret, &c.Enabled, &enabledAt, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if enabledAt.Valid {
		c.EnabledAt = &enabledAt.Time
	}
	return &c, nil
}

// Enabled reports whether the user has a confirmed second factor.
func (r *PostgresRepository) Enabled(ctx context.Context, userID string) (bool, error) {
	var enabled bool
	err := r.db.QueryRowContext(ctx,
		`SELECT enabled FROM mfa_configs WHERE user_id = $1`, userID).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return enabled, nil
}

// SaveSecret upserts the pending secret with enabled=false. Restarting setup
// replaces any previous pending secret.
func (r *PostgresRepository) SaveSecret(ctx context.Context, userID, secret string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mfa_configs (user_id, secret, enabled, created_at, updated_at)
		VALUES ($1, $2, FALSE, $3, $3)
		ON CONFLICT (user_id) DO UPDATE SET secret = $2, enabled = FALSE, enabled_at = NULL, updated_at = $3`,
		userID, secret, at)
	return err
}

// Enable flips the config to enabled.
func (r *PostgresRepository) Enable(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE mfa_configs SET enabled = TRUE, enabled_at = $2, updated_at = $2
		WHERE user_id = $1`, userID, at)
	return err
}

// Delete removes the config and all backup codes for the user.
func (r *PostgresRepository) Delete(ctx context.Context, userID string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = $1`, userID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM mfa_configs WHERE user_id = $1`, userID); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceBackupCodes drops the user's codes and stores the given digests in
// one transaction.
func (r *PostgresRepository) ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = $1`, userID); err != nil {
		return err
	}
	for _, h := range codeHashes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO mfa_backup_codes (user_id, code_hash, created_at)
			VALUES ($1, $2, $3)`, userID, h, at); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ConsumeBackupCode marks the matching unconsumed code used. The single UPDATE
// is the single-use guarantee: two concurrent attempts cannot both match.
func (r *PostgresRepository) ConsumeBackupCode(ctx context.Context, userID, codeHash string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mfa_backup_codes SET consumed_at = $3
		WHERE user_id = $1 AND code_hash = $2 AND consumed_at IS NULL`,
		userID, codeHash, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountConsumed returns how many of the user's codes have been used.
func (r *PostgresRepository) CountConsumed(ctx context.Context, userID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM mfa_backup_codes
		WHERE user_id = $1 AND consumed_at IS NOT NULL`, userID).Scan(&n)
	return n, err
}
