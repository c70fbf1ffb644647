package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tenant-access-core/internal/identity/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an identity repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByUserAndProvider returns the user's identity for the provider, or nil if not found.
func (r *PostgresRepository) GetByUserAndProvider(ctx context.Context, userID string, provider domain.Provider) (*domain.Identity, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, provider, provider_id, password_hash, created_at, updated_at
		FROM identities WHERE user_id = $1 AND provider = $2`, userID, provider)
	var i domain.Identity
	var passwordHash sql.NullString
	err := row.Scan(&i.ID, &i.UserID, &i.Provider, &i.ProviderID, &passwordHash, &i.CreatedAt, &i.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	i.PasswordHash = passwordHash.String
	return &i, nil
}

// Create persists the identity. The identity must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, i *domain.Identity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO identities (id, user_id, provider, provider_id, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		i.ID, i.UserID, i.Provider, i.ProviderID,
		sql.NullString{String: i.PasswordHash, Valid: i.PasswordHash != ""},
		i.CreatedAt, i.UpdatedAt)
	return err
}

// UpdatePasswordHash replaces the stored password hash.
func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE identities SET password_hash = $2, updated_at = $3 WHERE id = $1`,
		id, passwordHash, time.Now().UTC())
	return err
}
