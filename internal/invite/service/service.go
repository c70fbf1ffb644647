// Package service implements invite token issuance, validation, and
// redemption. Validation is boolean-shaped toward callers: why a token is
// invalid is recorded in the audit log only, never returned, so probers get
// no token-guessing oracle.
package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"tenant-access-core/internal/audit"
	"tenant-access-core/internal/invite/domain"
	inviterepo "tenant-access-core/internal/invite/repository"
	membershipdomain "tenant-access-core/internal/membership/domain"
	"tenant-access-core/internal/platform/rbac"
	"tenant-access-core/internal/security"
)

var (
	// ErrInvalidToken is the single error every failed validation maps to.
	ErrInvalidToken = errors.New("invite token is not valid")
	ErrInvalidRole  = errors.New("invalid role for invite")
	ErrBadParams    = errors.New("invalid invite parameters")
)

// MembershipGetter resolves an existing membership, used to keep redemption
// idempotent for users already in the org.
type MembershipGetter interface {
	GetByUserAndOrg(ctx context.Context, userID, orgID string) (*membershipdomain.Membership, error)
}

// GenerateParams describes an invite to issue. Org and creator come from the
// admin capability.
type GenerateParams struct {
	Role             string
	MaxUses          int
	ExpiresInDays    int
	RestrictEmail    string
	RestrictDomain   string
	RequireTwoFactor bool
}

// Service owns invite token mutation.
type Service struct {
	repo        inviterepo.Repository
	memberships MembershipGetter
	auditLogger audit.AuditLogger

	now func() time.Time
}

// NewService returns an invite Service with the given dependencies.
func NewService(repo inviterepo.Repository, memberships MembershipGetter, auditLogger audit.AuditLogger) *Service {
	return &Service{
		repo:        repo,
		memberships: memberships,
		auditLogger: auditLogger,
		now:         time.Now,
	}
}

// Generate issues a new invite for the capability's org and returns the raw
// token exactly once. Only its digest is persisted.
func (s *Service) Generate(ctx context.Context, cap rbac.OrgAdminCapability, p GenerateParams) (string, *domain.Token, error) {
	if !cap.Valid() {
		return "", nil, rbac.ErrNotAdmin
	}
	if !membershipdomain.ValidRole(membershipdomain.Role(p.Role)) {
		return "", nil, ErrInvalidRole
	}
	if p.MaxUses < 1 || p.ExpiresInDays < 1 {
		return "", nil, ErrBadParams
	}
	raw, err := security.NewToken()
	if err != nil {
		return "", nil, err
	}
	now := s.now().UTC()
	t := &domain.Token{
		ID:               uuid.New().String(),
		OrgID:            cap.OrgID,
		TokenHash:        security.Digest(raw),
		Role:             p.Role,
		MaxUses:          p.MaxUses,
		ExpiresAt:        now.AddDate(0, 0, p.ExpiresInDays),
		RestrictEmail:    strings.ToLower(strings.TrimSpace(p.RestrictEmail)),
		RestrictDomain:   strings.ToLower(strings.TrimSpace(p.RestrictDomain)),
		RequireTwoFactor: p.RequireTwoFactor,
		CreatedBy:        cap.UserID,
		CreatedAt:        now,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return "", nil, err
	}
	s.logEvent(ctx, cap.OrgID, cap.UserID, "invite_created", t.ID)
	return raw, t, nil
}

// Validate reports whether rawToken is redeemable by email. The reason for a
// negative answer goes to the audit log only.
func (s *Service) Validate(ctx context.Context, rawToken, email string) (bool, error) {
	t, reason, err := s.resolve(ctx, rawToken, email)
	if err != nil {
		return false, err
	}
	if reason != "" {
		orgID, tokenID := "", ""
		if t != nil {
			orgID, tokenID = t.OrgID, t.ID
		}
		s.logEvent(ctx, orgID, "", "invite_rejected", tokenID+":"+reason)
		return false, nil
	}
	return true, nil
}

// ResolveForSignup returns the token when redeemable by email, for eligibility
// resolution during signup. Any failure maps to ErrInvalidToken.
func (s *Service) ResolveForSignup(ctx context.Context, rawToken, email string) (*domain.Token, error) {
	t, reason, err := s.resolve(ctx, rawToken, email)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		return nil, ErrInvalidToken
	}
	return t, nil
}

// Redeem consumes one use of the token and creates or activates the user's
// membership in the token's org. Redeeming again as an existing active member
// is a no-op: no duplicate membership, no extra increment.
func (s *Service) Redeem(ctx context.Context, rawToken, userID, email string) (*domain.Token, error) {
	t, reason, err := s.resolve(ctx, rawToken, email)
	if err != nil {
		return nil, err
	}
	if reason != "" {
		s.logEvent(ctx, "", userID, "invite_rejected", reason)
		return nil, ErrInvalidToken
	}

	existing, err := s.memberships.GetByUserAndOrg(ctx, userID, t.OrgID)
	if err != nil {
		return nil, err
	}
	if existing.Active() {
		s.logEvent(ctx, t.OrgID, userID, "invite_redeem_noop", t.ID)
		return t, nil
	}

	now := s.now().UTC()
	m := &membershipdomain.Membership{
		ID:               uuid.New().String(),
		UserID:           userID,
		OrgID:            t.OrgID,
		Role:             membershipdomain.Role(t.Role),
		Status:           membershipdomain.StatusActive,
		RequireTwoFactor: t.RequireTwoFactor,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.repo.Redeem(ctx, t.ID, m, now); err != nil {
		if errors.Is(err, inviterepo.ErrNotRedeemable) {
			s.logEvent(ctx, t.OrgID, userID, "invite_rejected", t.ID+":"+domain.ReasonExhausted)
			return nil, ErrInvalidToken
		}
		return nil, err
	}
	t.UsedCount++
	s.logEvent(ctx, t.OrgID, userID, "invite_redeemed", t.ID)
	return t, nil
}

// Revoke permanently invalidates the token. There is no un-revoke.
func (s *Service) Revoke(ctx context.Context, cap rbac.OrgAdminCapability, tokenID, reason string) error {
	if !cap.Valid() {
		return rbac.ErrNotAdmin
	}
	t, err := s.repo.GetByID(ctx, tokenID)
	if err != nil {
		return err
	}
	if t == nil || t.OrgID != cap.OrgID {
		return ErrInvalidToken
	}
	if err := s.repo.Revoke(ctx, tokenID, reason, s.now().UTC()); err != nil {
		return err
	}
	s.logEvent(ctx, cap.OrgID, cap.UserID, "invite_revoked", tokenID)
	return nil
}

// List returns the capability org's tokens, newest first.
func (s *Service) List(ctx context.Context, cap rbac.OrgAdminCapability) ([]*domain.Token, error) {
	if !cap.Valid() {
		return nil, rbac.ErrNotAdmin
	}
	return s.repo.ListByOrg(ctx, cap.OrgID)
}

// resolve looks the token up by digest and evaluates the redeemability
// clauses. reason is "" when redeemable; a nil token yields a plain
// not-found reason.
func (s *Service) resolve(ctx context.Context, rawToken, email string) (*domain.Token, string, error) {
	if rawToken == "" {
		return nil, "not_found", nil
	}
	t, err := s.repo.GetByHash(ctx, security.Digest(rawToken))
	if err != nil {
		return nil, "", err
	}
	if t == nil {
		return nil, "not_found", nil
	}
	return t, t.Check(s.now().UTC(), email), nil
}

func (s *Service) logEvent(ctx context.Context, orgID, userID, action, metadata string) {
	if s.auditLogger != nil {
		s.auditLogger.LogEvent(ctx, orgID, userID, action, "invite", metadata)
	}
}
