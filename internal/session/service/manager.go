// Package service implements the session Manager, the single owner of session
// mutation: creation, validation, rotation, revocation, limit enforcement, and
// login throttling.
package service

import (
	"context"
	"errors"
	"time"

	"tenant-access-core/internal/audit"
	membershipdomain "tenant-access-core/internal/membership/domain"
	orgdomain "tenant-access-core/internal/organization/domain"
	"tenant-access-core/internal/ratelimit"
	"tenant-access-core/internal/security"
	"tenant-access-core/internal/session/domain"
	sessionrepo "tenant-access-core/internal/session/repository"
)

// Sentinel errors for session validation; the auth gate maps all of them to a
// generic unauthorized response, the reason stays in logs only.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionRevoked  = errors.New("session revoked")
	ErrSessionExpired  = errors.New("session expired")
	ErrSessionIdle     = errors.New("session idle timeout")
	ErrNotSessionOwner = errors.New("session does not belong to user")
	ErrNotOrgMember    = errors.New("user is not an active member of the organization")
	ErrRefreshReuse    = errors.New("refresh token reuse detected; all sessions revoked")
)

// MembershipRepo is the minimal membership repository needed by the Manager.
type MembershipRepo interface {
	GetByUserAndOrg(ctx context.Context, userID, orgID string) (*membershipdomain.Membership, error)
	ListActiveByUser(ctx context.Context, userID string) ([]*membershipdomain.Membership, error)
}

// OrgRepo is the minimal organization repository needed by the Manager.
type OrgRepo interface {
	ListByIDs(ctx context.Context, ids []string) ([]*orgdomain.Org, error)
}

// UserRepo is the minimal user repository needed by the Manager.
type UserRepo interface {
	SetDefaultOrg(ctx context.Context, id, orgID string) error
}

// MFAStatus reports whether a user has TOTP enabled. Implemented by the MFA engine's repository.
type MFAStatus interface {
	Enabled(ctx context.Context, userID string) (bool, error)
}

// Options holds the Manager's tunable lifetimes and limits.
type Options struct {
	TTL          time.Duration // absolute session lifetime
	IdleTimeout  time.Duration // sliding inactivity cutoff
	SessionLimit int           // max concurrent active sessions per user
}

// CreateParams describes a session to create. IP and UserAgent are raw values;
// only their digests are stored.
type CreateParams struct {
	UserID       string
	IP           string
	UserAgent    string
	DeviceClass  string
	ActiveOrgID  string
	MFASatisfied bool
}

// Created is the result of CreateSession. RefreshToken is the raw token,
// returned exactly once; the store keeps only its digest.
type Created struct {
	Session      *domain.Session
	RefreshToken string
}

// Manager owns the session lifecycle. No other component mutates sessions.
type Manager struct {
	repo        sessionrepo.Repository
	memberships MembershipRepo
	orgs        OrgRepo
	users       UserRepo
	mfaStatus   MFAStatus
	limiter     *ratelimit.Limiter
	auditLogger audit.AuditLogger
	opts        Options

	now func() time.Time
}

// NewManager returns a session Manager with the given dependencies.
func NewManager(
	repo sessionrepo.Repository,
	memberships MembershipRepo,
	orgs OrgRepo,
	users UserRepo,
	mfaStatus MFAStatus,
	limiter *ratelimit.Limiter,
	auditLogger audit.AuditLogger,
	opts Options,
) *Manager {
	if opts.TTL <= 0 {
		opts.TTL = 168 * time.Hour
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 30 * time.Minute
	}
	if opts.SessionLimit <= 0 {
		opts.SessionLimit = 5
	}
	return &Manager{
		repo:        repo,
		memberships: memberships,
		orgs:        orgs,
		users:       users,
		mfaStatus:   mfaStatus,
		limiter:     limiter,
		auditLogger: auditLogger,
		opts:        opts,
		now:         time.Now,
	}
}

// IdleTimeout returns the configured sliding inactivity cutoff.
func (m *Manager) IdleTimeout() time.Duration { return m.opts.IdleTimeout }

// CreateSession generates all secrets fresh, stores only digests of IP,
// user-agent and refresh token, and enforces the concurrent-session cap so
// the new session still fits under the limit.
func (m *Manager) CreateSession(ctx context.Context, p CreateParams) (*Created, error) {
	if err := m.enforceSessionLimit(ctx, p.UserID); err != nil {
		return nil, err
	}

	id, err := security.NewToken()
	if err != nil {
		return nil, err
	}
	csrfSecret, err := security.NewToken()
	if err != nil {
		return nil, err
	}
	refreshToken, err := security.NewToken()
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	s := &domain.Session{
		ID:            id,
		UserID:        p.UserID,
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.opts.TTL),
		LastSeenAt:    now,
		IPHash:        security.Digest(p.IP),
		UserAgentHash: security.Digest(p.UserAgent),
		CSRFSecret:    csrfSecret,
		RefreshHash:   security.Digest(refreshToken),
		ActiveOrgID:   p.ActiveOrgID,
		DeviceClass:   p.DeviceClass,
	}
	if p.MFASatisfied {
		at := now
		s.MFASatisfiedAt = &at
	}
	if err := m.repo.Create(ctx, s); err != nil {
		return nil, err
	}
	m.logEvent(ctx, s.ActiveOrgID, p.UserID, "session_created", s.ID)
	return &Created{Session: s, RefreshToken: refreshToken}, nil
}

// enforceSessionLimit revokes the oldest active sessions (by creation time)
// until one slot below the cap remains for the session about to be created.
func (m *Manager) enforceSessionLimit(ctx context.Context, userID string) error {
	active, err := m.repo.ListActiveByUser(ctx, userID)
	if err != nil {
		return err
	}
	if len(active) < m.opts.SessionLimit {
		return nil
	}
	evict := len(active) - m.opts.SessionLimit + 1
	now := m.now().UTC()
	for _, s := range active[:evict] {
		if err := m.repo.Revoke(ctx, s.ID, domain.RevokeReasonSessionLimit, now); err != nil {
			return err
		}
		m.logEvent(ctx, s.ActiveOrgID, userID, "session_revoked", s.ID)
	}
	return nil
}

// Validate fails closed: missing, revoked, expired, and idle sessions are all
// rejected; idle sessions are auto-revoked with reason idle_timeout. On
// success the session is touched (sliding window) and returned.
func (m *Manager) Validate(ctx context.Context, sessionID string) (*domain.Session, error) {
	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	s, err := m.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	now := m.now().UTC()
	if s.RevokedAt != nil {
		return nil, ErrSessionRevoked
	}
	if !now.Before(s.ExpiresAt) {
		return nil, ErrSessionExpired
	}
	if now.Sub(s.LastSeenAt) >= m.opts.IdleTimeout {
		if err := m.repo.Revoke(ctx, s.ID, domain.RevokeReasonIdleTimeout, now); err != nil {
			return nil, err
		}
		return nil, ErrSessionIdle
	}
	if err := m.repo.UpdateLastSeen(ctx, s.ID, now); err != nil {
		return nil, err
	}
	s.LastSeenAt = now
	return s, nil
}

// ValidateCSRF compares the request-supplied token against the session's
// stored secret in constant time.
func (m *Manager) ValidateCSRF(s *domain.Session, token string) bool {
	if s == nil || token == "" {
		return false
	}
	return security.TokenEqual(token, s.CSRFSecret)
}

// RequiresMFA reports whether the session still has to pass the MFA gate:
// false once satisfied this session; otherwise true when the user has TOTP
// enabled, holds a membership granted under a require-2FA invite, or any of
// their active organizations mandates a second factor.
func (m *Manager) RequiresMFA(ctx context.Context, s *domain.Session) (bool, error) {
	if s.MFASatisfied() {
		return false, nil
	}
	enabled, err := m.mfaStatus.Enabled(ctx, s.UserID)
	if err != nil {
		return false, err
	}
	if enabled {
		return true, nil
	}
	memberships, err := m.memberships.ListActiveByUser(ctx, s.UserID)
	if err != nil {
		return false, err
	}
	if len(memberships) == 0 {
		return false, nil
	}
	ids := make([]string, 0, len(memberships))
	for _, mem := range memberships {
		if mem.RequireTwoFactor {
			return true, nil
		}
		ids = append(ids, mem.OrgID)
	}
	orgs, err := m.orgs.ListByIDs(ctx, ids)
	if err != nil {
		return false, err
	}
	for _, o := range orgs {
		if o.RequireTwoFactor {
			return true, nil
		}
	}
	return false, nil
}

// SatisfyMFA rotates the session on privilege escalation: a new session is
// created with the MFA-satisfied stamp and the old one is revoked, so a
// pre-MFA session id can never carry post-MFA trust.
func (m *Manager) SatisfyMFA(ctx context.Context, sessionID, userID string) (*Created, error) {
	old, err := m.owned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	created, err := m.rotate(ctx, old, func(next *domain.Session) {
		at := m.now().UTC()
		next.MFASatisfiedAt = &at
	})
	if err != nil {
		return nil, err
	}
	m.logEvent(ctx, old.ActiveOrgID, userID, "mfa_verified", created.Session.ID)
	return created, nil
}

// SetActiveOrganization scopes the session to the organization and records it
// as the user's default. The caller must hold an active membership. The
// session is rotated like any other escalation.
func (m *Manager) SetActiveOrganization(ctx context.Context, sessionID, userID, orgID string) (*Created, error) {
	old, err := m.owned(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	mem, err := m.memberships.GetByUserAndOrg(ctx, userID, orgID)
	if err != nil {
		return nil, err
	}
	if !mem.Active() {
		return nil, ErrNotOrgMember
	}
	created, err := m.rotate(ctx, old, func(next *domain.Session) {
		next.ActiveOrgID = orgID
	})
	if err != nil {
		return nil, err
	}
	if err := m.users.SetDefaultOrg(ctx, userID, orgID); err != nil {
		return nil, err
	}
	m.logEvent(ctx, orgID, userID, "workspace_selected", created.Session.ID)
	return created, nil
}

// rotate creates a replacement session carrying over the old session's
// context, applies mutate to it, and revokes the old session.
func (m *Manager) rotate(ctx context.Context, old *domain.Session, mutate func(*domain.Session)) (*Created, error) {
	id, err := security.NewToken()
	if err != nil {
		return nil, err
	}
	csrfSecret, err := security.NewToken()
	if err != nil {
		return nil, err
	}
	refreshToken, err := security.NewToken()
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
	next := &domain.Session{
		ID:             id,
		UserID:         old.UserID,
		CreatedAt:      now,
		ExpiresAt:      now.Add(m.opts.TTL),
		LastSeenAt:     now,
		IPHash:         old.IPHash,
		UserAgentHash:  old.UserAgentHash,
		CSRFSecret:     csrfSecret,
		RefreshHash:    security.Digest(refreshToken),
		ActiveOrgID:    old.ActiveOrgID,
		MFASatisfiedAt: old.MFASatisfiedAt,
		DeviceClass:    old.DeviceClass,
	}
	mutate(next)
	if err := m.repo.Create(ctx, next); err != nil {
		return nil, err
	}
	if err := m.repo.Revoke(ctx, old.ID, domain.RevokeReasonRotated, now); err != nil {
		return nil, err
	}
	return &Created{Session: next, RefreshToken: refreshToken}, nil
}

// RevokeByID revokes one of the user's own sessions.
func (m *Manager) RevokeByID(ctx context.Context, sessionID, userID, reason string) error {
	s, err := m.repo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if s == nil {
		return ErrSessionNotFound
	}
	if s.UserID != userID {
		return ErrNotSessionOwner
	}
	if err := m.repo.Revoke(ctx, sessionID, reason, m.now().UTC()); err != nil {
		return err
	}
	m.logEvent(ctx, s.ActiveOrgID, userID, "session_revoked", sessionID)
	return nil
}

// RevokeAll revokes all of the user's sessions except exceptSessionID (pass ""
// to revoke everything). Used for logout-everywhere, password change, and MFA
// disable/reset. Returns the number revoked.
func (m *Manager) RevokeAll(ctx context.Context, userID, reason, exceptSessionID string) (int64, error) {
	n, err := m.repo.RevokeAllByUser(ctx, userID, reason, exceptSessionID, m.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		m.logEvent(ctx, "", userID, "sessions_revoked", reason)
	}
	return n, nil
}

// ListByOrg returns sessions scoped to the organization, newest first. Admin
// surface only; the handler gates it behind an org-admin capability.
func (m *Manager) ListByOrg(ctx context.Context, orgID string, limit, offset int32) ([]*domain.Session, error) {
	return m.repo.ListByOrg(ctx, orgID, limit, offset)
}

// RevokeForOrg revokes a session whose active organization matches orgID.
// Sessions scoped elsewhere are reported as not found rather than forbidden.
func (m *Manager) RevokeForOrg(ctx context.Context, orgID, sessionID string) error {
	s, err := m.repo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if s == nil || s.ActiveOrgID != orgID {
		return ErrSessionNotFound
	}
	if err := m.repo.Revoke(ctx, sessionID, domain.RevokeReasonAdmin, m.now().UTC()); err != nil {
		return err
	}
	m.logEvent(ctx, orgID, s.UserID, "session_revoked", sessionID)
	return nil
}

// Refresh rotates the session's refresh token. Presenting a token that does
// not match the stored digest is treated as reuse: every session of the user
// is revoked and ErrRefreshReuse is returned.
func (m *Manager) Refresh(ctx context.Context, sessionID, presentedToken string) (string, error) {
	s, err := m.Validate(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if !security.DigestEqual(presentedToken, s.RefreshHash) {
		if _, err := m.repo.RevokeAllByUser(ctx, s.UserID, domain.RevokeReasonRefreshReuse, "", m.now().UTC()); err != nil {
			return "", err
		}
		m.logEvent(ctx, s.ActiveOrgID, s.UserID, "refresh_reuse_detected", sessionID)
		return "", ErrRefreshReuse
	}
	next, err := security.NewToken()
	if err != nil {
		return "", err
	}
	if err := m.repo.UpdateRefreshHash(ctx, sessionID, security.Digest(next)); err != nil {
		return "", err
	}
	return next, nil
}

// CheckLoginAllowed consults the rolling failure window for (email, ip).
// When denied, retryAfter is the remaining lockout.
func (m *Manager) CheckLoginAllowed(ctx context.Context, email, ip string) (bool, time.Duration, error) {
	return m.limiter.CheckLoginAllowed(ctx, email, ip)
}

// RecordLoginAttempt records the outcome of a login attempt: failures feed the
// lockout counter, success clears it.
func (m *Manager) RecordLoginAttempt(ctx context.Context, email, ip string, success bool) error {
	if success {
		return m.limiter.RecordLoginSuccess(ctx, email, ip)
	}
	err := m.limiter.RecordLoginFailure(ctx, email, ip)
	if errors.Is(err, ratelimit.ErrLocked) {
		m.logEvent(ctx, "", "", "login_locked", security.Digest(email+"|"+ip))
		return nil
	}
	return err
}

// Sweep revokes expired and idle sessions in bulk. Run periodically by the
// worker; idempotent.
func (m *Manager) Sweep(ctx context.Context) (int64, error) {
	return m.repo.SweepExpired(ctx, m.now().UTC(), m.opts.IdleTimeout)
}

func (m *Manager) owned(ctx context.Context, sessionID, userID string) (*domain.Session, error) {
	s, err := m.repo.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, ErrSessionNotFound
	}
	if s.UserID != userID {
		return nil, ErrNotSessionOwner
	}
	return s, nil
}

func (m *Manager) logEvent(ctx context.Context, orgID, userID, action, metadata string) {
	if m.auditLogger != nil {
		m.auditLogger.LogEvent(ctx, orgID, userID, action, "session", metadata)
	}
}
