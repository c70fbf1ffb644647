// Package service implements the anti-enumeration signup flow. Initiate
// answers identically for every email; eligibility is computed only for a
// caller who has proven control of the address, and resolves to exactly one
// of pre-approval, invite, or the lobby org.
package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"tenant-access-core/internal/audit"
	invitedomain "tenant-access-core/internal/invite/domain"
	membershipdomain "tenant-access-core/internal/membership/domain"
	"tenant-access-core/internal/security"
	sessionservice "tenant-access-core/internal/session/service"
	"tenant-access-core/internal/signup/domain"
	signuprepo "tenant-access-core/internal/signup/repository"
	userdomain "tenant-access-core/internal/user/domain"
)

// CannedResponse is the only thing Initiate ever says, for any email.
const CannedResponse = "If eligible, we'll email you a verification link."

const verificationTTL = 24 * time.Hour

// Role assigned to lobby members until an admin moves them.
const lobbyRole = membershipdomain.RoleInvestorViewer

var (
	// ErrInvalidVerification covers unknown, expired, and consumed tokens alike.
	ErrInvalidVerification = errors.New("verification link is invalid or has expired")
	ErrNameRequired        = errors.New("name is required")
)

// UserRepo is the minimal user repository needed by the signup service.
type UserRepo interface {
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
	SetEmailVerified(ctx context.Context, id string) error
	SetName(ctx context.Context, id, name string) error
	SetDefaultOrg(ctx context.Context, id, orgID string) error
}

// MembershipRepo is the minimal membership repository needed by the signup service.
type MembershipRepo interface {
	GetActivePreapprovalByEmail(ctx context.Context, email string) (*membershipdomain.Preapproval, error)
	DeactivatePreapproval(ctx context.Context, id string) error
	GetByUserAndOrg(ctx context.Context, userID, orgID string) (*membershipdomain.Membership, error)
	Create(ctx context.Context, m *membershipdomain.Membership) error
	UpdateStatus(ctx context.Context, userID, orgID string, status membershipdomain.Status) error
}

// InviteResolver is the slice of the invite service used during signup.
type InviteResolver interface {
	ResolveForSignup(ctx context.Context, rawToken, email string) (*invitedomain.Token, error)
	Redeem(ctx context.Context, rawToken, userID, email string) (*invitedomain.Token, error)
}

// PasswordSetter stores the new user's credential.
type PasswordSetter interface {
	SetPassword(ctx context.Context, userID, email, password string) error
}

// SessionCreator issues the post-signup session.
type SessionCreator interface {
	CreateSession(ctx context.Context, p sessionservice.CreateParams) (*sessionservice.Created, error)
}

// Notifier delivers the verification email. Out-of-process; failures must not
// change the caller-visible response.
type Notifier interface {
	SendVerification(ctx context.Context, email, rawToken string) error
}

// CompleteParams finalizes a signup.
type CompleteParams struct {
	Token       string // the emailed verification token
	Name        string
	Password    string // optional for invite-only federated flows
	InviteToken string
	IP          string
	UserAgent   string
	DeviceClass string
}

// CompleteResult is the finished signup: an authenticated session scoped to
// the resolved org.
type CompleteResult struct {
	Session     *sessionservice.Created
	Eligibility *domain.Eligibility
	UserID      string
}

// Service owns signup state: verification tokens and access requests.
type Service struct {
	repo        signuprepo.Repository
	users       UserRepo
	memberships MembershipRepo
	invites     InviteResolver
	passwords   PasswordSetter
	sessions    SessionCreator
	notifier    Notifier
	auditLogger audit.AuditLogger
	lobbyOrgID  string

	now func() time.Time
}

// NewService returns a signup Service with the given dependencies.
func NewService(
	repo signuprepo.Repository,
	users UserRepo,
	memberships MembershipRepo,
	invites InviteResolver,
	passwords PasswordSetter,
	sessions SessionCreator,
	notifier Notifier,
	auditLogger audit.AuditLogger,
	lobbyOrgID string,
) *Service {
	return &Service{
		repo:        repo,
		users:       users,
		memberships: memberships,
		invites:     invites,
		passwords:   passwords,
		sessions:    sessions,
		notifier:    notifier,
		auditLogger: auditLogger,
		lobbyOrgID:  lobbyOrgID,
		now:         time.Now,
	}
}

// Initiate starts a signup for email. The response is the same string for an
// existing account, an eligible address, and a stranger, and so is the shape
// of the side effects: one token stored, one email handed to the notifier.
func (s *Service) Initiate(ctx context.Context, email string) (string, error) {
	email = normalizeEmail(email)
	raw, err := security.NewToken()
	if err != nil {
		return "", err
	}
	now := s.now().UTC()
	t := &domain.VerificationToken{
		ID:        uuid.New().String(),
		Email:     email,
		TokenHash: security.Digest(raw),
		ExpiresAt: now.Add(verificationTTL),
		CreatedAt: now,
	}
	if err := s.repo.CreateVerificationToken(ctx, t); err != nil {
		return "", err
	}
	if err := s.notifier.SendVerification(ctx, email, raw); err != nil {
		// Delivery failure must not leak into the response.
		log.Printf("signup: verification email for token %s failed: %v", t.ID, err)
	}
	s.logEvent(ctx, "", "signup_initiated", t.ID)
	return CannedResponse, nil
}

// VerifyEmail validates the emailed token, marks the address verified, and
// returns the computed eligibility to the caller holding the token. Invalid,
// expired, and consumed tokens get one generic error.
func (s *Service) VerifyEmail(ctx context.Context, rawToken, inviteToken string) (*domain.Eligibility, error) {
	t, err := s.usableToken(ctx, rawToken)
	if err != nil {
		return nil, err
	}
	user, err := s.ensureUser(ctx, t.Email)
	if err != nil {
		return nil, err
	}
	if user.EmailVerifiedAt == nil {
		if err := s.users.SetEmailVerified(ctx, user.ID); err != nil {
			return nil, err
		}
	}
	eligibility, err := s.resolveEligibility(ctx, t.Email, inviteToken)
	if err != nil {
		return nil, err
	}
	s.logEvent(ctx, user.ID, "email_verified", "")
	return eligibility, nil
}

// Complete consumes the verification token, finalizes the profile, binds the
// membership per the resolved eligibility, and opens a session scoped to the
// resulting org.
func (s *Service) Complete(ctx context.Context, p CompleteParams) (*CompleteResult, error) {
	if strings.TrimSpace(p.Name) == "" {
		return nil, ErrNameRequired
	}
	t, err := s.usableToken(ctx, p.Token)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	consumed, err := s.repo.ConsumeVerificationToken(ctx, t.ID, now)
	if err != nil {
		return nil, err
	}
	if !consumed {
		return nil, ErrInvalidVerification
	}

	user, err := s.ensureUser(ctx, t.Email)
	if err != nil {
		return nil, err
	}
	if err := s.users.SetName(ctx, user.ID, strings.TrimSpace(p.Name)); err != nil {
		return nil, err
	}
	if user.EmailVerifiedAt == nil {
		if err := s.users.SetEmailVerified(ctx, user.ID); err != nil {
			return nil, err
		}
	}
	if p.Password != "" {
		if err := s.passwords.SetPassword(ctx, user.ID, t.Email, p.Password); err != nil {
			return nil, err
		}
	}

	eligibility, err := s.resolveEligibility(ctx, t.Email, p.InviteToken)
	if err != nil {
		return nil, err
	}
	switch eligibility.Method {
	case domain.MethodPreapproved:
		pre, err := s.memberships.GetActivePreapprovalByEmail(ctx, t.Email)
		if err != nil {
			return nil, err
		}
		if err := s.activateMembership(ctx, user.ID, eligibility.OrgID, membershipdomain.Role(eligibility.Role), now); err != nil {
			return nil, err
		}
		if pre != nil {
			if err := s.memberships.DeactivatePreapproval(ctx, pre.ID); err != nil {
				return nil, err
			}
		}
	case domain.MethodInvite:
		if _, err := s.invites.Redeem(ctx, p.InviteToken, user.ID, t.Email); err != nil {
			return nil, err
		}
	case domain.MethodLobby:
		if err := s.activateMembership(ctx, user.ID, s.lobbyOrgID, lobbyRole, now); err != nil {
			return nil, err
		}
	}

	if err := s.users.SetDefaultOrg(ctx, user.ID, eligibility.OrgID); err != nil {
		return nil, err
	}
	created, err := s.sessions.CreateSession(ctx, sessionservice.CreateParams{
		UserID:      user.ID,
		IP:          p.IP,
		UserAgent:   p.UserAgent,
		DeviceClass: p.DeviceClass,
		ActiveOrgID: eligibility.OrgID,
	})
	if err != nil {
		return nil, err
	}
	s.logEvent(ctx, user.ID, "signup_completed", eligibility.Method)
	return &CompleteResult{Session: created, Eligibility: eligibility, UserID: user.ID}, nil
}

// RequestAccess files a lobby user's petition to join the named organization.
// Admin approval happens on the admin surface, not here.
func (s *Service) RequestAccess(ctx context.Context, userID, orgName, message string) (*domain.AccessRequest, error) {
	orgName = strings.TrimSpace(orgName)
	if orgName == "" {
		return nil, errors.New("organization name is required")
	}
	now := s.now().UTC()
	r := &domain.AccessRequest{
		ID:        uuid.New().String(),
		UserID:    userID,
		OrgName:   orgName,
		Message:   strings.TrimSpace(message),
		Status:    domain.RequestPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateAccessRequest(ctx, r); err != nil {
		return nil, err
	}
	s.logEvent(ctx, userID, "access_requested", r.ID)
	return r, nil
}

// resolveEligibility applies the strict priority order: pre-approval, then a
// redeemable invite, then the lobby. Exactly one outcome.
func (s *Service) resolveEligibility(ctx context.Context, email, inviteToken string) (*domain.Eligibility, error) {
	pre, err := s.memberships.GetActivePreapprovalByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if pre != nil {
		return &domain.Eligibility{Method: domain.MethodPreapproved, OrgID: pre.OrgID, Role: string(pre.Role)}, nil
	}
	if inviteToken != "" {
		t, err := s.invites.ResolveForSignup(ctx, inviteToken, email)
		if err == nil {
			return &domain.Eligibility{Method: domain.MethodInvite, OrgID: t.OrgID, Role: t.Role}, nil
		}
		// An unusable invite falls through to the lobby rather than erroring,
		// so a stale link still leaves the user somewhere recoverable.
	}
	return &domain.Eligibility{Method: domain.MethodLobby, OrgID: s.lobbyOrgID, Role: string(lobbyRole)}, nil
}

func (s *Service) usableToken(ctx context.Context, rawToken string) (*domain.VerificationToken, error) {
	if rawToken == "" {
		return nil, ErrInvalidVerification
	}
	t, err := s.repo.GetVerificationTokenByHash(ctx, security.Digest(rawToken))
	if err != nil {
		return nil, err
	}
	if !t.Usable(s.now().UTC()) {
		return nil, ErrInvalidVerification
	}
	return t, nil
}

func (s *Service) ensureUser(ctx context.Context, email string) (*userdomain.User, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}
	now := s.now().UTC()
	user = &userdomain.User{
		ID:        uuid.New().String(),
		Email:     email,
		Status:    userdomain.UserStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// activateMembership creates the membership or reactivates a prior one.
func (s *Service) activateMembership(ctx context.Context, userID, orgID string, role membershipdomain.Role, now time.Time) error {
	existing, err := s.memberships.GetByUserAndOrg(ctx, userID, orgID)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.Active() {
			return nil
		}
		return s.memberships.UpdateStatus(ctx, userID, orgID, membershipdomain.StatusActive)
	}
	return s.memberships.Create(ctx, &membershipdomain.Membership{
		ID:        uuid.New().String(),
		UserID:    userID,
		OrgID:     orgID,
		Role:      role,
		Status:    membershipdomain.StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

func (s *Service) logEvent(ctx context.Context, userID, action, metadata string) {
	if s.auditLogger != nil {
		s.auditLogger.LogEvent(ctx, "", userID, action, "signup", metadata)
	}
}
