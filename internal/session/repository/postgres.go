package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tenant-access-core/internal/session/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const sessionColumns = `id, user_id, created_at, expires_at, last_seen_at, revoked_at, revoke_reason,
	ip_hash, user_agent_hash, csrf_secret, refresh_hash, active_org_id, mfa_satisfied_at, device_class`

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row)
}

// ListActiveByUser returns the user's non-revoked, non-expired sessions, oldest first.
// Creation order matters: limit enforcement evicts by created_at.
func (r *PostgresRepository) ListActiveByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	return r.list(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY created_at`, userID, time.Now().UTC())
}

// ListByOrg returns non-revoked sessions scoped to the org, newest first, paginated.
func (r *PostgresRepository) ListByOrg(ctx context.Context, orgID string, limit, offset int32) ([]*domain.Session, error) {
	return r.list(ctx, `
		SELECT `+sessionColumns+` FROM sessions
		WHERE active_org_id = $1 AND revoked_at IS NULL
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, orgID, limit, offset)
}

func (r *PostgresRepository) list(ctx context.Context, query string, args ...any) ([]*domain.Session, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Create persists the session. The session must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, created_at, expires_at, last_seen_at, revoked_at, revoke_reason,
			ip_hash, user_agent_hash, csrf_secret, refresh_hash, active_org_id, mfa_satisfied_at, device_class)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		s.ID, s.UserID, s.CreatedAt, s.ExpiresAt, s.LastSeenAt,
		timeToNullTime(s.RevokedAt),
		sql.NullString{String: s.RevokeReason, Valid: s.RevokeReason != ""},
		s.IPHash, s.UserAgentHash, s.CSRFSecret, s.RefreshHash,
		sql.NullString{String: s.ActiveOrgID, Valid: s.ActiveOrgID != ""},
		timeToNullTime(s.MFASatisfiedAt), s.DeviceClass)
	return err
}

// Revoke marks the session revoked with the given reason. Already-revoked rows keep their original reason.
func (r *PostgresRepository) Revoke(ctx context.Context, id, reason string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = $2, revoke_reason = $3
		WHERE id = $1 AND revoked_at IS NULL`, id, at, reason)
	return err
}

// RevokeAllByUser revokes all of the user's sessions except exceptID (pass "" to revoke all).
// Returns the number of sessions revoked.
func (r *PostgresRepository) RevokeAllByUser(ctx context.Context, userID, reason, exceptID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = $2, revoke_reason = $3
		WHERE user_id = $1 AND revoked_at IS NULL AND id <> $4`, userID, at, reason, exceptID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpdateLastSeen sets the session's sliding activity timestamp.
func (r *PostgresRepository) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET last_seen_at = $2 WHERE id = $1`, id, at)
	return err
}

// SetMFASatisfied stamps the session as having passed MFA.
func (r *PostgresRepository) SetMFASatisfied(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET mfa_satisfied_at = $2 WHERE id = $1`, id, at)
	return err
}

// SetActiveOrg scopes the session to the organization.
func (r *PostgresRepository) SetActiveOrg(ctx context.Context, id, orgID string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET active_org_id = $2 WHERE id = $1`, id, orgID)
	return err
}

// UpdateRefreshHash sets the session's current refresh token digest for rotation.
func (r *PostgresRepository) UpdateRefreshHash(ctx context.Context, id, refreshHash string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET refresh_hash = $2 WHERE id = $1`, id, refreshHash)
	return err
}

// SweepExpired revokes sessions past absolute expiry or idle beyond the cutoff.
// Idempotent; safe to run concurrently from multiple instances.
func (r *PostgresRepository) SweepExpired(ctx context.Context, now time.Time, idleTimeout time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET revoked_at = $1,
			revoke_reason = CASE WHEN expires_at <= $1 THEN 'expired' ELSE 'idle_timeout' END
		WHERE revoked_at IS NULL AND (expires_at <= $1 OR last_seen_at <= $2)`,
		now, now.Add(-idleTimeout))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
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

func scanSession(row rowScanner) (*domain.Session, error) {
	var s domain.Session
	var revokedAt, mfaAt sql.NullTime
	var reason, activeOrg sql.NullString
	err := row.Scan(&s.ID, &s.UserID, &s.CreatedAt, &s.ExpiresAt, &s.LastSeenAt, &revokedAt, &reason,
		&s.IPHash, &s.UserAgentHash, &s.CSRFSecret, &s.RefreshHash, &activeOrg, &mfaAt, &s.DeviceClass)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if revokedAt.Valid {
		s.RevokedAt = &revokedAt.Time
	}
	if mfaAt.Valid {
		s.MFASatisfiedAt = &mfaAt.Time
	}
	s.RevokeReason = reason.String
	s.ActiveOrgID = activeOrg.String
	return &s, nil
}
