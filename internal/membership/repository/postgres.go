package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"tenant-access-core/internal/membership/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a membership repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const membershipColumns = `id, user_id, org_id, role, status, require_two_factor, created_at, updated_at`

// GetByID returns the membership for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Membership, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+membershipColumns+` FROM memberships WHERE id = $1`, id)
	return scanMembership(row)
}

// GetByUserAndOrg returns the membership linking user and org, or nil if not found.
func (r *PostgresRepository) GetByUserAndOrg(ctx context.Context, userID, orgID string) (*domain.Membership, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+membershipColumns+` FROM memberships WHERE user_id = $1 AND org_id = $2`, userID, orgID)
	return scanMembership(row)
}

// ListActiveByUser returns the user's active memberships in creation order.
func (r *PostgresRepository) ListActiveByUser(ctx context.Context, userID string) ([]*domain.Membership, error) {
	return r.list(ctx, `
		SELECT `+membershipColumns+` FROM memberships
		WHERE user_id = $1 AND status = 'active' ORDER BY created_at`, userID)
}

// ListByOrg returns all memberships for the org in creation order.
func (r *PostgresRepository) ListByOrg(ctx context.Context, orgID string) ([]*domain.Membership, error) {
	return r.list(ctx, `
		SELECT `+membershipColumns+` FROM memberships WHERE org_id = $1 ORDER BY created_at`, orgID)
}

func (r *PostgresRepository) list(ctx context.Context, query string, arg any) ([]*domain.Membership, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*domain.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Create persists the membership. The membership must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, m *domain.Membership) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO memberships (id, user_id, org_id, role, status, require_two_factor, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		m.ID, m.UserID, m.OrgID, m.Role, m.Status, m.RequireTwoFactor, m.CreatedAt, m.UpdatedAt)
	return err
}

// UpdateRole sets the role on the membership and returns the updated row, or nil if not found.
func (r *PostgresRepository) UpdateRole(ctx context.Context, userID, orgID string, role domain.Role) (*domain.Membership, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE memberships SET role = $3, updated_at = $4
		WHERE user_id = $1 AND org_id = $2
		RETURNING `+membershipColumns, userID, orgID, role, time.Now().UTC())
	return scanMembership(row)
}

// UpdateStatus transitions the membership status (active, pending, removed).
func (r *PostgresRepository) UpdateStatus(ctx context.Context, userID, orgID string, status domain.Status) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE memberships SET status = $3, updated_at = $4
		WHERE user_id = $1 AND org_id = $2`, userID, orgID, status, time.Now().UTC())
	return err
}

// CountActiveAdmins returns the number of active admin memberships in the org.
func (r *PostgresRepository) CountActiveAdmins(ctx context.Context, orgID string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memberships
		WHERE org_id = $1 AND role = 'admin' AND status = 'active'`, orgID).Scan(&n)
	return n, err
}

// GetActivePreapprovalByEmail returns the active pre-approval for email, or nil if none.
func (r *PostgresRepository) GetActivePreapprovalByEmail(ctx context.Context, email string) (*domain.Preapproval, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, org_id, email, role, active, created_at
		FROM preapprovals WHERE email = $1 AND active ORDER BY created_at LIMIT 1`, email)
	var p domain.Preapproval
	err := row.Scan(&p.ID, &p.OrgID, &p.Email, &p.Role, &p.Active, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePreapproval persists the pre-approval. It must have ID set.
func (r *PostgresRepository) CreatePreapproval(ctx context.Context, p *domain.Preapproval) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO preapprovals (id, org_id, email, role, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.OrgID, p.Email, p.Role, p.Active, p.CreatedAt)
	return err
}

// DeactivatePreapproval marks the pre-approval consumed.
func (r *PostgresRepository) DeactivatePreapproval(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE preapprovals SET active = FALSE WHERE id = $1`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMembership(row rowScanner) (*domain.Membership, error) {
	var m domain.Membership
	err := row.Scan(&m.ID, &m.UserID, &m.OrgID, &m.Role, &m.Status, &m.RequireTwoFactor, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
