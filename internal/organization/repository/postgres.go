package repository

import (
	"context"
	"database/sql"
	"errors"

	"tenant-access-core/internal/organization/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an organization repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const orgColumns = `id, name, slug, status, require_two_factor, is_lobby, created_at`

// GetByID returns the organization for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Org, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE id = $1`, id)
	return scanOrg(row)
}

// GetBySlug returns the organization for slug, or nil if not found.
func (r *PostgresRepository) GetBySlug(ctx context.Context, slug string) (*domain.Org, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+orgColumns+` FROM organizations WHERE slug = $1`, slug)
	return scanOrg(row)
}

// ListByIDs returns the organizations whose ids are in ids, in name order.
func (r *PostgresRepository) ListByIDs(ctx context.Context, ids []string) ([]*domain.Org, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+orgColumns+` FROM organizations WHERE id = ANY($1) ORDER BY name`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Org
	for rows.Next() {
		o, err := scanOrg(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// Create persists the organization. The organization must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, o *domain.Org) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO organizations (id, name, slug, status, require_two_factor, is_lobby, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		o.ID, o.Name, o.Slug, o.Status, o.RequireTwoFactor, o.IsLobby, o.CreatedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrg(row rowScanner) (*domain.Org, error) {
	var o domain.Org
	err := row.Scan(&o.ID, &o.Name, &o.Slug, &o.Status, &o.RequireTwoFactor, &o.IsLobby, &o.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}
