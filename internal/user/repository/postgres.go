package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tenant-access-core/internal/user/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const userColumns = `id, email, name, email_verified_at, default_org_id, status, created_at, updated_at`

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns the user for email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return scanUser(row)
}

// Create persists the user. The user must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	verified := sql.NullTime{}
	if u.EmailVerifiedAt != nil {
		verified = sql.NullTime{Time: *u.EmailVerifiedAt, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, email_verified_at, default_org_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.Email, u.Name, verified,
		sql.NullString{String: u.DefaultOrgID, Valid: u.DefaultOrgID != ""},
		u.Status, u.CreatedAt, u.UpdatedAt)
	return err
}

// SetEmailVerified stamps email_verified_at for the user if not already set.
func (r *PostgresRepository) SetEmailVerified(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET email_verified_at = $2, updated_at = $2
		WHERE id = $1 AND email_verified_at IS NULL`, id, time.Now().UTC())
	return err
}

// SetName updates the user's display name.
func (r *PostgresRepository) SetName(ctx context.Context, id, name string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET name = $2, updated_at = $3 WHERE id = $1`, id, name, time.Now().UTC())
	return err
}

// SetDefaultOrg records the user's last-used organization.
func (r *PostgresRepository) SetDefaultOrg(ctx context.Context, id, orgID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE users SET default_org_id = $2, updated_at = $3 WHERE id = $1`, id, orgID, time.Now().UTC())
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*domain.User, error) {
	var u domain.User
	var verified sql.NullTime
	var defaultOrg sql.NullString
	err := row.Scan(&u.ID, &u.Email, &u.Name, &verified, &defaultOrg, &u.Status, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if verified.Valid {
		u.EmailVerifiedAt = &verified.Time
	}
	u.DefaultOrgID = defaultOrg.String
	return &u, nil
}
