package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tenant-access-core/internal/invite/domain"
	membershipdomain "tenant-access-core/internal/membership/domain"
)

// ErrNotRedeemable is returned by Redeem when the guarded increment matched no
// row: the token was revoked, exhausted, or expired between validation and
// redemption.
var ErrNotRedeemable = errors.New("invite token no longer redeemable")

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an invite token repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const tokenColumns = `id, org_id, token_hash, role, max_uses, used_count, expires_at,
	restrict_email, restrict_domain, require_two_factor, revoked_at, revoke_reason, created_by, created_at`

// GetByHash returns the token matching the digest, or nil if not found.
func (r *PostgresRepository) GetByHash(ctx context.Context, tokenHash string) (*domain.Token, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM invite_tokens WHERE token_hash = $1`, tokenHash)
	return scanToken(row)
}

// GetByID returns the token for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Token, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+tokenColumns+` FROM invite_tokens WHERE id = $1`, id)
	return scanToken(row)
}

// ListByOrg returns the org's tokens, newest first.
func (r *PostgresRepository) ListByOrg(ctx context.Context, orgID string) ([]*domain.Token, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+tokenColumns+` FROM invite_tokens
		WHERE org_id = $1 ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Create persists the token. The token must have ID and TokenHash set.
func (r *PostgresRepository) Create(ctx context.Context, t *domain.Token) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO invite_tokens (id, org_id, token_hash, role, max_uses, used_count, expires_at,
			restrict_email, restrict_domain, require_two_factor, revoked_at, revoke_reason, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		t.ID, t.OrgID, t.TokenHash, t.Role, t.MaxUses, t.UsedCount, t.ExpiresAt,
		sql.NullString{String: t.RestrictEmail, Valid: t.RestrictEmail != ""},
		sql.NullString{String: t.RestrictDomain, Valid: t.RestrictDomain != ""},
		t.RequireTwoFactor,
		timeToNullTime(t.RevokedAt),
		sql.NullString{String: t.RevokeReason, Valid: t.RevokeReason != ""},
		t.CreatedBy, t.CreatedAt)
	return err
}

// Revoke permanently invalidates the token.
func (r *PostgresRepository) Revoke(ctx context.Context, id, reason string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE invite_tokens SET revoked_at = $2, revoke_reason = $3
		WHERE id = $1 AND revoked_at IS NULL`, id, at, reason)
	return err
}

// Redeem increments the token's use count and upserts the membership in one
// transaction. The WHERE clause on the increment re-checks redeemability, so
// two concurrent redemptions of a maxUses=1 token cannot both succeed.
func (r *PostgresRepository) Redeem(ctx context.Context, tokenID string, m *membershipdomain.Membership, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE invite_tokens SET used_count = used_count + 1
		WHERE id = $1 AND revoked_at IS NULL AND used_count < max_uses AND expires_at > $2`,
		tokenID, now)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotRedeemable
	}

	// Reactivates a removed or pending membership rather than duplicating it.
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memberships (id, user_id, org_id, role, status, require_two_factor, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id, org_id) DO UPDATE SET role = $4, status = $5, require_two_factor = $6, updated_at = $8`,
		m.ID, m.UserID, m.OrgID, m.Role, m.Status, m.RequireTwoFactor, m.CreatedAt, m.UpdatedAt); err != nil {
		return err
	}
	return tx.Commit()
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanToken(row rowScanner) (*domain.Token, error) {
	var t domain.Token
	var restrictEmail, restrictDomain, reason sql.NullString
	var revokedAt sql.NullTime
	err := row.Scan(&t.ID, &t.OrgID, &t.TokenHash, &t.Role, &t.MaxUses, &t.UsedCount, &t.ExpiresAt,
		&restrictEmail, &restrictDomain, &t.RequireTwoFactor, &revokedAt, &reason, &t.CreatedBy, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	t.RestrictEmail = restrictEmail.String
	t.RestrictDomain = restrictDomain.String
	if revokedAt.Valid {
		t.RevokedAt = &revokedAt.Time
	}
	t.RevokeReason = reason.String
	return &t, nil
}
