package service

import (
	"context"
	"errors"
	"testing"
	"time"

	identitydomain "tenant-access-core/internal/identity/domain"
	"tenant-access-core/internal/orgresolver"
	"tenant-access-core/internal/security"
	sessionservice "tenant-access-core/internal/session/service"
	userdomain "tenant-access-core/internal/user/domain"
)

type memUserRepo struct {
	byEmail map[string]*userdomain.User
}

func (r *memUserRepo) GetByEmail(ctx context.Context, email string) (*userdomain.User, error) {
	return r.byEmail[email], nil
}

type memIdentityRepo struct {
	byID map[string]*identitydomain.Identity
}

func (r *memIdentityRepo) GetByUserAndProvider(ctx context.Context, userID string, provider identitydomain.Provider) (*identitydomain.Identity, error) {
	for _, i := range r.byID {
		if i.UserID == userID && i.Provider == provider {
			return i, nil
		}
	}
	return nil, nil
}

func (r *memIdentityRepo) Create(ctx context.Context, i *identitydomain.Identity) error {
	i2 := *i
	r.byID[i.ID] = &i2
	return nil
}

func (r *memIdentityRepo) UpdatePasswordHash(ctx context.Context, id, passwordHash string) error {
	if i, ok := r.byID[id]; ok {
		i.PasswordHash = passwordHash
	}
	return nil
}

type stubSessions struct {
	locked     bool
	retryAfter time.Duration
	failures   int
	successes  int
	created    []sessionservice.CreateParams
	revoked    []string
	revokedAll map[string]string
}

func (s *stubSessions) CheckLoginAllowed(ctx context.Context, email, ip string) (bool, time.Duration, error) {
	if s.locked {
		return false, s.retryAfter, nil
	}
	return true, 0, nil
}

func (s *stubSessions) RecordLoginAttempt(ctx context.Context, email, ip string, success bool) error {
	if success {
		s.successes++
	} else {
		s.failures++
	}
	return nil
}

func (s *stubSessions) CreateSession(ctx context.Context, p sessionservice.CreateParams) (*sessionservice.Created, error) {
	s.created = append(s.created, p)
	return &sessionservice.Created{}, nil
}

func (s *stubSessions) RevokeByID(ctx context.Context, sessionID, userID, reason string) error {
	s.revoked = append(s.revoked, sessionID+":"+reason)
	return nil
}

func (s *stubSessions) RevokeAll(ctx context.Context, userID, reason, exceptSessionID string) (int64, error) {
	if s.revokedAll == nil {
		s.revokedAll = make(map[string]string)
	}
	s.revokedAll[userID] = reason + ":" + exceptSessionID
	return 2, nil
}

type stubResolver struct {
	resolution orgresolver.Resolution
}

func (s *stubResolver) Resolve(ctx context.Context, userID string) (*orgresolver.Resolution, error) {
	r := s.resolution
	return &r, nil
}

type authFixture struct {
	users      *memUserRepo
	identities *memIdentityRepo
	sessions   *stubSessions
	resolver   *stubResolver
	service    *AuthService
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	f := &authFixture{
		users:      &memUserRepo{byEmail: make(map[string]*userdomain.User)},
		identities: &memIdentityRepo{byID: make(map[string]*identitydomain.Identity)},
		sessions:   &stubSessions{},
		resolver:   &stubResolver{},
	}
	f.service = NewAuthService(f.users, f.identities, f.sessions, f.resolver, security.NewHasher(4), nil)
	return f
}

func (f *authFixture) addUser(t *testing.T, id, email, password string) {
	t.Helper()
	f.users.byEmail[email] = &userdomain.User{ID: id, Email: email, Status: userdomain.UserStatusActive}
	if password != "" {
		if err := f.service.SetPassword(context.Background(), id, email, password); err != nil {
			t.Fatalf("SetPassword: %v", err)
		}
	}
}

func TestLogin_Success(t *testing.T) {
	f := newAuthFixture(t)
	f.addUser(t, "user-1", "user@example.com", "correct horse battery")
	f.resolver.resolution = orgresolver.Resolution{OrgID: "org-1"}

	result, err := f.service.Login(context.Background(), LoginParams{
		Email: "  User@Example.COM ", Password: "correct horse battery",
		IP: "203.0.113.1", UserAgent: "Mozilla/5.0",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if result.Resolution.OrgID != "org-1" {
		t.Errorf("resolution org = %q, want org-1", result.Resolution.OrgID)
	}
	if len(f.sessions.created) != 1 {
		t.Fatalf("sessions created = %d, want 1", len(f.sessions.created))
	}
	p := f.sessions.created[0]
	if p.UserID != "user-1" || p.ActiveOrgID != "org-1" || p.IP != "203.0.113.1" {
		t.Errorf("create params = %+v", p)
	}
	if f.sessions.successes != 1 || f.sessions.failures != 0 {
		t.Errorf("attempts = %d success / %d fail, want 1/0", f.sessions.successes, f.sessions.failures)
	}
}

func TestLogin_GenericErrorForAllFailures(t *testing.T) {
	f := newAuthFixture(t)
	f.addUser(t, "user-1", "user@example.com", "correct horse battery")
	f.users.byEmail["gone@example.com"] = &userdomain.User{
		ID: "user-2", Email: "gone@example.com", Status: userdomain.UserStatusDisabled,
	}

	cases := []struct {
		name, email, password string
	}{
		{"unknown email", "nobody@example.com", "whatever else"},
		{"wrong password", "user@example.com", "wrong password!"},
		{"disabled account", "gone@example.com", "correct horse battery"},
	}
	for _, tc := range cases {
		_, err := f.service.Login(context.Background(), LoginParams{Email: tc.email, Password: tc.password})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Errorf("%s: err = %v, want ErrInvalidCredentials", tc.name, err)
		}
	}
	if f.sessions.failures != len(cases) {
		t.Errorf("failures recorded = %d, want %d", f.sessions.failures, len(cases))
	}
	if len(f.sessions.created) != 0 {
		t.Error("session created on failed login")
	}
}

func TestLogin_Lockout(t *testing.T) {
	f := newAuthFixture(t)
	f.addUser(t, "user-1", "user@example.com", "correct horse battery")
	f.sessions.locked = true
	f.sessions.retryAfter = 17 * time.Minute

	_, err := f.service.Login(context.Background(), LoginParams{
		Email: "user@example.com", Password: "correct horse battery",
	})
	var locked *LockedError
	if !errors.As(err, &locked) {
		t.Fatalf("err = %v, want LockedError", err)
	}
	if locked.RetryAfter != 17*time.Minute {
		t.Errorf("retry after = %v, want 17m", locked.RetryAfter)
	}
	// Lockout short-circuits before the credential check.
	if f.sessions.failures != 0 && f.sessions.successes != 0 {
		t.Error("attempt recorded while locked")
	}
}

func TestLogin_WorkspaceSelectionPending(t *testing.T) {
	f := newAuthFixture(t)
	f.addUser(t, "user-1", "user@example.com", "correct horse battery")
	f.resolver.resolution = orgresolver.Resolution{RequiresSelection: true}

	result, err := f.service.Login(context.Background(), LoginParams{
		Email: "user@example.com", Password: "correct horse battery",
	})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if !result.Resolution.RequiresSelection {
		t.Error("resolution lost the selection flag")
	}
	if f.sessions.created[0].ActiveOrgID != "" {
		t.Error("session scoped to an org before selection")
	}
}

func TestSetPassword(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()

	if err := f.service.SetPassword(ctx, "user-1", "user@example.com", "short"); !errors.Is(err, ErrWeakPassword) {
		t.Errorf("short password: err = %v, want ErrWeakPassword", err)
	}
	if err := f.service.SetPassword(ctx, "user-1", "user@example.com", "first password"); err != nil {
		t.Fatalf("SetPassword: %v", err)
	}
	ident, _ := f.identities.GetByUserAndProvider(ctx, "user-1", identitydomain.ProviderLocal)
	if ident == nil {
		t.Fatal("identity not created")
	}
	if ident.PasswordHash == "first password" {
		t.Error("password stored in plaintext")
	}
	firstHash := ident.PasswordHash

	// Replacing reuses the identity row.
	if err := f.service.SetPassword(ctx, "user-1", "user@example.com", "second password"); err != nil {
		t.Fatalf("SetPassword replace: %v", err)
	}
	if len(f.identities.byID) != 1 {
		t.Errorf("identities = %d, want 1", len(f.identities.byID))
	}
	ident, _ = f.identities.GetByUserAndProvider(ctx, "user-1", identitydomain.ProviderLocal)
	if ident.PasswordHash == firstHash {
		t.Error("hash unchanged after replace")
	}
}

func TestChangePassword(t *testing.T) {
	f := newAuthFixture(t)
	ctx := context.Background()
	f.addUser(t, "user-1", "user@example.com", "original password")

	if err := f.service.ChangePassword(ctx, "user-1", "wrong password!", "next password", "session-1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong current: err = %v, want ErrInvalidCredentials", err)
	}
	if err := f.service.ChangePassword(ctx, "user-1", "original password", "next password", "session-1"); err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if f.sessions.revokedAll["user-1"] != "password_changed:session-1" {
		t.Errorf("revokeAll = %q, want password_changed keeping session-1", f.sessions.revokedAll["user-1"])
	}

	// Old password no longer works.
	_, err := f.service.Login(ctx, LoginParams{Email: "user@example.com", Password: "original password"})
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("old password: err = %v, want ErrInvalidCredentials", err)
	}
	if _, err := f.service.Login(ctx, LoginParams{Email: "user@example.com", Password: "next password"}); err != nil {
		t.Errorf("new password: %v", err)
	}
}

func TestLogout(t *testing.T) {
	f := newAuthFixture(t)
	if err := f.service.Logout(context.Background(), "session-1", "user-1"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if len(f.sessions.revoked) != 1 || f.sessions.revoked[0] != "session-1:logout" {
		t.Errorf("revoked = %v, want [session-1:logout]", f.sessions.revoked)
	}
}
