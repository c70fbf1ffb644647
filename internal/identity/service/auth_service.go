// Package service implements password login against the identity store.
// Unknown email, disabled account, and wrong password all collapse into one
// generic error; the distinction exists only in logs.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tenant-access-core/internal/audit"
	identitydomain "tenant-access-core/internal/identity/domain"
	identityrepo "tenant-access-core/internal/identity/repository"
	"tenant-access-core/internal/orgresolver"
	"tenant-access-core/internal/security"
	sessiondomain "tenant-access-core/internal/session/domain"
	sessionservice "tenant-access-core/internal/session/service"
	userdomain "tenant-access-core/internal/user/domain"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrWeakPassword       = errors.New("password must be 8 to 72 characters")
)

// LockedError reports a login lockout with the remaining wait.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("too many failed attempts, retry in %s", e.RetryAfter.Round(time.Second))
}

// Kept valid-but-never-matching so the compare runs even when no account
// exists, keeping response timing flat across both cases.
const dummyPasswordHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
}

// SessionManager is the slice of the session Manager the auth service needs.
type SessionManager interface {
	CheckLoginAllowed(ctx context.Context, email, ip string) (bool, time.Duration, error)
	RecordLoginAttempt(ctx context.Context, email, ip string, success bool) error
	CreateSession(ctx context.Context, p sessionservice.CreateParams) (*sessionservice.Created, error)
	RevokeByID(ctx context.Context, sessionID, userID, reason string) error
	RevokeAll(ctx context.Context, userID, reason, exceptSessionID string) (int64, error)
}

// OrgResolver resolves the initial organization context at login.
type OrgResolver interface {
	Resolve(ctx context.Context, userID string) (*orgresolver.Resolution, error)
}

// LoginParams carries the raw login request. IP and UserAgent feed the
// session's anomaly digests and the lockout key.
type LoginParams struct {
	Email       string
	Password    string
	IP          string
	UserAgent   string
	DeviceClass string
}

// LoginResult is a fresh session plus the resolved organization context so
// the handler can route to workspace selection when needed.
type LoginResult struct {
	Session    *sessionservice.Created
	Resolution *orgresolver.Resolution
}

// AuthService implements password login, logout, and password management.
type AuthService struct {
	users       UserRepo
	identities  identityrepo.Repository
	sessions    SessionManager
	resolver    OrgResolver
	hasher      *security.Hasher
	auditLogger audit.AuditLogger
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(
	users UserRepo,
	identities identityrepo.Repository,
	sessions SessionManager,
	resolver OrgResolver,
	hasher *security.Hasher,
	auditLogger audit.AuditLogger,
) *AuthService {
	return &AuthService{
		users:       users,
		identities:  identities,
		sessions:    sessions,
		resolver:    resolver,
		hasher:      hasher,
		auditLogger: auditLogger,
	}
}

// Login verifies the password and opens a session scoped to the user's
// resolved organization context. Lockout is checked before touching the
// credential store.
func (s *AuthService) Login(ctx context.Context, p LoginParams) (*LoginResult, error) {
	email := strings.TrimSpace(strings.ToLower(p.Email))

	allowed, retryAfter, err := s.sessions.CheckLoginAllowed(ctx, email, p.IP)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, &LockedError{RetryAfter: retryAfter}
	}

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || user.Status != userdomain.UserStatusActive {
		s.hasher.Compare(dummyPasswordHash, []byte(p.Password))
		return nil, s.failLogin(ctx, email, p.IP, "unknown_or_disabled")
	}

	ident, err := s.identities.GetByUserAndProvider(ctx, user.ID, identitydomain.ProviderLocal)
	if err != nil {
		return nil, err
	}
	if ident == nil || ident.PasswordHash == "" {
		s.hasher.Compare(dummyPasswordHash, []byte(p.Password))
		return nil, s.failLogin(ctx, email, p.IP, "no_local_identity")
	}
	if err := s.hasher.Compare(ident.PasswordHash, []byte(p.Password)); err != nil {
		return nil, s.failLogin(ctx, email, p.IP, "wrong_password")
	}

	if err := s.sessions.RecordLoginAttempt(ctx, email, p.IP, true); err != nil {
		return nil, err
	}
	resolution, err := s.resolver.Resolve(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	created, err := s.sessions.CreateSession(ctx, sessionservice.CreateParams{
		UserID:      user.ID,
		IP:          p.IP,
		UserAgent:   p.UserAgent,
		DeviceClass: p.DeviceClass,
		ActiveOrgID: resolution.OrgID,
	})
	if err != nil {
		return nil, err
	}
	s.logEvent(ctx, resolution.OrgID, user.ID, "login", "")
	return &LoginResult{Session: created, Resolution: resolution}, nil
}

// Logout revokes the caller's own session.
func (s *AuthService) Logout(ctx context.Context, sessionID, userID string) error {
	if err := s.sessions.RevokeByID(ctx, sessionID, userID, sessiondomain.RevokeReasonLogout); err != nil {
		return err
	}
	s.logEvent(ctx, "", userID, "logout", "")
	return nil
}

// SetPassword creates or replaces the user's local credential. Used at signup
// completion and by password reset.
func (s *AuthService) SetPassword(ctx context.Context, userID, email, password string) error {
	if err := validatePassword(password); err != nil {
		return err
	}
	hashed, err := s.hasher.Hash([]byte(password))
	if err != nil {
		return err
	}
	ident, err := s.identities.GetByUserAndProvider(ctx, userID, identitydomain.ProviderLocal)
	if err != nil {
		return err
	}
	if ident != nil {
		return s.identities.UpdatePasswordHash(ctx, ident.ID, hashed)
	}
	now := time.Now().UTC()
	return s.identities.Create(ctx, &identitydomain.Identity{
		ID:           uuid.New().String(),
		UserID:       userID,
		Provider:     identitydomain.ProviderLocal,
		ProviderID:   strings.TrimSpace(strings.ToLower(email)),
		PasswordHash: hashed,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
}

// ChangePassword re-verifies the current password, stores the new one, and
// revokes every other session of the user.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword, keepSessionID string) error {
	ident, err := s.identities.GetByUserAndProvider(ctx, userID, identitydomain.ProviderLocal)
	if err != nil {
		return err
	}
	if ident == nil || s.hasher.Compare(ident.PasswordHash, []byte(currentPassword)) != nil {
		s.logEvent(ctx, "", userID, "password_change_failed", "wrong_password")
		return ErrInvalidCredentials
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}
	hashed, err := s.hasher.Hash([]byte(newPassword))
	if err != nil {
		return err
	}
	if err := s.identities.UpdatePasswordHash(ctx, ident.ID, hashed); err != nil {
		return err
	}
	if _, err := s.sessions.RevokeAll(ctx, userID, sessiondomain.RevokeReasonPasswordChanged, keepSessionID); err != nil {
		return err
	}
	s.logEvent(ctx, "", userID, "password_changed", "")
	return nil
}

// failLogin records the failure in the lockout window and returns the generic
// credential error. reason stays in the audit log.
func (s *AuthService) failLogin(ctx context.Context, email, ip, reason string) error {
	if err := s.sessions.RecordLoginAttempt(ctx, email, ip, false); err != nil {
		return err
	}
	s.logEvent(ctx, "", "", "login_failed", reason)
	return ErrInvalidCredentials
}

func validatePassword(password string) error {
	// bcrypt truncates past 72 bytes.
	if len(password) < 8 || len(password) > 72 {
		return ErrWeakPassword
	}
	return nil
}

func (s *AuthService) logEvent(ctx context.Context, orgID, userID, action, metadata string) {
	if s.auditLogger != nil {
		s.auditLogger.LogEvent(ctx, orgID, userID, action, "auth", metadata)
	}
}
