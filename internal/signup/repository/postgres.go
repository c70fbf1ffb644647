package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tenant-access-core/internal/signup/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a signup repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateVerificationToken persists the token. The token must have ID and TokenHash set.
func (r *PostgresRepository) CreateVerificationToken(ctx context.Context, t *domain.VerificationToken) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO verification_tokens (id, email, token_hash, expires_at, consumed_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.Email, t.TokenHash, t.ExpiresAt, timeToNullTime(t.ConsumedAt), t.CreatedAt)
	return err
}

// GetVerificationTokenByHash returns the token matching the digest, or nil if not found.
func (r *PostgresRepository) GetVerificationTokenByHash(ctx context.Context, tokenHash string) (*domain.VerificationToken, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, email, token_hash, expires_at, consumed_at, created_at
		FROM verification_tokens WHERE token_hash = $1`, tokenHash)
	var t domain.VerificationToken
	var consumedAt sql.NullTime
	err := row.Scan(&t.ID, &t.Email, &t.TokenHash, &t.ExpiresAt, &consumedAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if consumedAt.Valid {
		t.ConsumedAt = &consumedAt.Time
	}
	return &t, nil
}

// ConsumeVerificationToken marks the token used. The guard on consumed_at
// makes concurrent completions race safely: only one caller sees true.
func (r *PostgresRepository) ConsumeVerificationToken(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE verification_tokens SET consumed_at = $2
		WHERE id = $1 AND consumed_at IS NULL AND expires_at > $2`, id, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CreateAccessRequest persists the request. The request must have ID set.
func (r *PostgresRepository) CreateAccessRequest(ctx context.Context, a *domain.AccessRequest) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO access_requests (id, user_id, org_name, message, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.UserID, a.OrgName, a.Message, a.Status, a.CreatedAt, a.UpdatedAt)
	return err
}

// ListPendingAccessRequests returns all pending requests, oldest first.
func (r *PostgresRepository) ListPendingAccessRequests(ctx context.Context) ([]*domain.AccessRequest, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, org_name, message, status, created_at, updated_at
		FROM access_requests WHERE status = 'pending' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.AccessRequest
	for rows.Next() {
		var a domain.AccessRequest
		if err := rows.Scan(&a.ID, &a.UserID, &a.OrgName, &a.Message, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// UpdateAccessRequestStatus transitions the request.
func (r *PostgresRepository) UpdateAccessRequestStatus(ctx context.Context, id string, status domain.RequestStatus, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE access_requests SET status = $2, updated_at = $3 WHERE id = $1`, id, status, at)
	return err
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
