package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	membershipdomain "tenant-access-core/internal/membership/domain"
	orgdomain "tenant-access-core/internal/organization/domain"
	"tenant-access-core/internal/security"
	"tenant-access-core/internal/session/domain"
)

type memSessionRepo struct {
	mu sync.Mutex
	m  map[string]*domain.Session
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{m: make(map[string]*domain.Session)}
}

func (r *memSessionRepo) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok {
		s2 := *s
		return &s2, nil
	}
	return nil, nil
}

func (r *memSessionRepo) ListActiveByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Session
	for _, s := range r.m {
		if s.UserID == userID && s.RevokedAt == nil {
			s2 := *s
			out = append(out, &s2)
		}
	}
	// oldest first, as the Postgres repository orders
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.Before(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out, nil
}

func (r *memSessionRepo) ListByOrg(ctx context.Context, orgID string, limit, offset int32) ([]*domain.Session, error) {
	return nil, nil
}

func (r *memSessionRepo) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s2 := *s
	r.m[s.ID] = &s2
	return nil
}

func (r *memSessionRepo) Revoke(ctx context.Context, id, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok && s.RevokedAt == nil {
		s.RevokedAt = &at
		s.RevokeReason = reason
	}
	return nil
}

func (r *memSessionRepo) RevokeAllByUser(ctx context.Context, userID, reason, exceptID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.m {
		if s.UserID == userID && s.RevokedAt == nil && s.ID != exceptID {
			s.RevokedAt = &at
			s.RevokeReason = reason
			n++
		}
	}
	return n, nil
}

func (r *memSessionRepo) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok {
		s.LastSeenAt = at
	}
	return nil
}

func (r *memSessionRepo) SetMFASatisfied(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok {
		s.MFASatisfiedAt = &at
	}
	return nil
}

func (r *memSessionRepo) SetActiveOrg(ctx context.Context, id, orgID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok {
		s.ActiveOrgID = orgID
	}
	return nil
}

func (r *memSessionRepo) UpdateRefreshHash(ctx context.Context, id, refreshHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok {
		s.RefreshHash = refreshHash
	}
	return nil
}

func (r *memSessionRepo) SweepExpired(ctx context.Context, now time.Time, idleTimeout time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, s := range r.m {
		if s.RevokedAt == nil && (!now.Before(s.ExpiresAt) || now.Sub(s.LastSeenAt) >= idleTimeout) {
			at := now
			s.RevokedAt = &at
			n++
		}
	}
	return n, nil
}

type memMembershipRepo struct {
	byKey map[string]*membershipdomain.Membership
}

func (r *memMembershipRepo) GetByUserAndOrg(ctx context.Context, userID, orgID string) (*membershipdomain.Membership, error) {
	return r.byKey[userID+":"+orgID], nil
}

func (r *memMembershipRepo) ListActiveByUser(ctx context.Context, userID string) ([]*membershipdomain.Membership, error) {
	var out []*membershipdomain.Membership
	for _, m := range r.byKey {
		if m.UserID == userID && m.Status == membershipdomain.StatusActive {
			out = append(out, m)
		}
	}
	return out, nil
}

type memOrgRepo struct {
	m map[string]*orgdomain.Org
}

func (r *memOrgRepo) ListByIDs(ctx context.Context, ids []string) ([]*orgdomain.Org, error) {
	var out []*orgdomain.Org
	for _, id := range ids {
		if o, ok := r.m[id]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

type memUserRepo struct {
	defaultOrg map[string]string
}

func (r *memUserRepo) SetDefaultOrg(ctx context.Context, id, orgID string) error {
	if r.defaultOrg == nil {
		r.defaultOrg = make(map[string]string)
	}
	r.defaultOrg[id] = orgID
	return nil
}

type stubMFAStatus struct{ enabled bool }

func (s *stubMFAStatus) Enabled(ctx context.Context, userID string) (bool, error) {
	return s.enabled, nil
}

type fixture struct {
	repo        *memSessionRepo
	memberships *memMembershipRepo
	orgs        *memOrgRepo
	users       *memUserRepo
	mfa         *stubMFAStatus
	mgr         *Manager
	clock       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:        newMemSessionRepo(),
		memberships: &memMembershipRepo{byKey: make(map[string]*membershipdomain.Membership)},
		orgs:        &memOrgRepo{m: make(map[string]*orgdomain.Org)},
		users:       &memUserRepo{},
		mfa:         &stubMFAStatus{},
		clock:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.mgr = NewManager(f.repo, f.memberships, f.orgs, f.users, f.mfa, nil, nil, Options{
		TTL:          168 * time.Hour,
		IdleTimeout:  30 * time.Minute,
		SessionLimit: 5,
	})
	f.mgr.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func TestCreateSession_GeneratesSecretsAndStoresDigests(t *testing.T) {
	f := newFixture(t)
	created, err := f.mgr.CreateSession(context.Background(), CreateParams{
		UserID: "user-1", IP: "203.0.113.1", UserAgent: "Mozilla/5.0", DeviceClass: "desktop/chrome/linux",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	s := created.Session
	if len(s.ID) != 64 || len(s.CSRFSecret) != 64 || len(created.RefreshToken) != 64 {
		t.Errorf("secret lengths = %d/%d/%d, want 64 each", len(s.ID), len(s.CSRFSecret), len(created.RefreshToken))
	}
	if s.IPHash == "203.0.113.1" || s.IPHash != security.Digest("203.0.113.1") {
		t.Error("ip not stored as digest")
	}
	if s.UserAgentHash != security.Digest("Mozilla/5.0") {
		t.Error("user-agent not stored as digest")
	}
	if s.RefreshHash != security.Digest(created.RefreshToken) {
		t.Error("refresh token not stored as digest")
	}
	if got := s.ExpiresAt.Sub(s.CreatedAt); got != 168*time.Hour {
		t.Errorf("absolute expiry = %v, want 168h", got)
	}
}

func TestValidate_FailsClosed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.mgr.Validate(ctx, "missing"); err != ErrSessionNotFound {
		t.Errorf("missing: err = %v, want ErrSessionNotFound", err)
	}

	created, _ := f.mgr.CreateSession(ctx, CreateParams{UserID: "user-1"})
	if err := f.mgr.RevokeByID(ctx, created.Session.ID, "user-1", domain.RevokeReasonLogout); err != nil {
		t.Fatalf("RevokeByID: %v", err)
	}
	if _, err := f.mgr.Validate(ctx, created.Session.ID); err != ErrSessionRevoked {
		t.Errorf("revoked: err = %v, want ErrSessionRevoked", err)
	}
}

func TestValidate_MonotonicUntilExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, _ := f.mgr.CreateSession(ctx, CreateParams{UserID: "user-1"})
	id := created.Session.ID

	// Valid now, and at T+epsilon with activity in between (sliding window).
	if _, err := f.mgr.Validate(ctx, id); err != nil {
		t.Fatalf("Validate at T: %v", err)
	}
	f.advance(time.Second)
	if _, err := f.mgr.Validate(ctx, id); err != nil {
		t.Fatalf("Validate at T+1s: %v", err)
	}

	// Keep the session active up to the absolute boundary; it becomes invalid
	// exactly at expiresAt.
	for f.clock.Add(29 * time.Minute).Before(created.Session.ExpiresAt) {
		f.advance(29 * time.Minute)
		if _, err := f.mgr.Validate(ctx, id); err != nil {
			t.Fatalf("Validate during active use at %v: %v", f.clock, err)
		}
	}
	f.clock = created.Session.ExpiresAt
	if _, err := f.mgr.Validate(ctx, id); err != ErrSessionExpired {
		t.Errorf("at expiresAt: err = %v, want ErrSessionExpired", err)
	}
}

func TestValidate_IdleTimeoutAutoRevokes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, _ := f.mgr.CreateSession(ctx, CreateParams{UserID: "user-1"})

	f.advance(30 * time.Minute)
	if _, err := f.mgr.Validate(ctx, created.Session.ID); err != ErrSessionIdle {
		t.Fatalf("idle: err = %v, want ErrSessionIdle", err)
	}
	s, _ := f.repo.GetByID(ctx, created.Session.ID)
	if s.RevokedAt == nil || s.RevokeReason != domain.RevokeReasonIdleTimeout {
		t.Errorf("session not auto-revoked with idle_timeout, got %q", s.RevokeReason)
	}
}

func TestValidate_TouchesLastSeen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, _ := f.mgr.CreateSession(ctx, CreateParams{UserID: "user-1"})

	f.advance(10 * time.Minute)
	s, err := f.mgr.Validate(ctx, created.Session.ID)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !s.LastSeenAt.Equal(f.clock) {
		t.Errorf("last_seen = %v, want touched to %v", s.LastSeenAt, f.clock)
	}
	// The touch restarted the idle window.
	f.advance(25 * time.Minute)
	if _, err := f.mgr.Validate(ctx, created.Session.ID); err != nil {
		t.Errorf("Validate after touch: %v", err)
	}
}

func TestEnforceSessionLimit_EvictsOldestDownToCap(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 6; i++ {
		created, err := f.mgr.CreateSession(ctx, CreateParams{UserID: "user-1"})
		if err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
		ids = append(ids, created.Session.ID)
		f.advance(time.Minute)
	}
	// Creating the first five evicts nothing; the sixth evicts the oldest.
	s0, _ := f.repo.GetByID(ctx, ids[0])
	if s0.RevokedAt == nil {
		t.Fatal("oldest session not evicted when sixth was created")
	}

	// Re-seed: make sessions 1..5 active again by checking the active set,
	// then create a seventh while six are active to exercise the two-evict path.
	active, _ := f.repo.ListActiveByUser(ctx, "user-1")
	if len(active) != 5 {
		t.Fatalf("active = %d, want 5", len(active))
	}
	// Force a sixth concurrent active session behind the manager's back.
	extra := *active[0]
	extra.ID = "seeded-extra"
	extra.CreatedAt = active[0].CreatedAt.Add(-time.Hour) // oldest of all
	_ = f.repo.Create(ctx, &extra)

	created, err := f.mgr.CreateSession(ctx, CreateParams{UserID: "user-1"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	active, _ = f.repo.ListActiveByUser(ctx, "user-1")
	if len(active) != 5 {
		t.Fatalf("active after 7th = %d, want 5", len(active))
	}
	found := false
	for _, s := range active {
		if s.ID == created.Session.ID {
			found = true
		}
		if s.ID == "seeded-extra" {
			t.Error("oldest seeded session survived eviction")
		}
	}
	if !found {
		t.Error("newest session missing from active set")
	}
	for _, s := range active {
		if s.RevokeReason == domain.RevokeReasonSessionLimit {
			t.Error("active session carries session_limit revoke reason")
		}
	}
}

func TestSatisfyMFA_RotatesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, _ := f.mgr.CreateSession(ctx, CreateParams{UserID: "user-1", ActiveOrgID: "org-1"})

	rotated, err := f.mgr.SatisfyMFA(ctx, created.Session.ID, "user-1")
	if err != nil {
		t.Fatalf("SatisfyMFA: %v", err)
	}
	if rotated.Session.ID == created.Session.ID {
		t.Error("session id not rotated on MFA satisfaction")
	}
	if !rotated.Session.MFASatisfied() {
		t.Error("rotated session not MFA-satisfied")
	}
	if rotated.Session.ActiveOrgID != "org-1" {
		t.Error("rotation dropped the active org")
	}
	old, _ := f.repo.GetByID(ctx, created.Session.ID)
	if old.RevokedAt == nil || old.RevokeReason != domain.RevokeReasonRotated {
		t.Errorf("old session reason = %q, want rotated", old.RevokeReason)
	}
}

func TestSetActiveOrganization_RequiresActiveMembership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, _ := f.mgr.CreateSession(ctx, CreateParams{UserID: "user-1"})

	if _, err := f.mgr.SetActiveOrganization(ctx, created.Session.ID, "user-1", "org-1"); err != ErrNotOrgMember {
		t.Fatalf("no membership: err = %v, want ErrNotOrgMember", err)
	}

	f.memberships.byKey["user-1:org-1"] = &membershipdomain.Membership{
		UserID: "user-1", OrgID: "org-1", Role: membershipdomain.RoleEditor, Status: membershipdomain.StatusActive,
	}
	rotated, err := f.mgr.SetActiveOrganization(ctx, created.Session.ID, "user-1", "org-1")
	if err != nil {
		t.Fatalf("SetActiveOrganization: %v", err)
	}
	if rotated.Session.ActiveOrgID != "org-1" {
		t.Errorf("active org = %q, want org-1", rotated.Session.ActiveOrgID)
	}
	if f.users.defaultOrg["user-1"] != "org-1" {
		t.Error("default org not recorded on user")
	}
}

func TestRequiresMFA(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, _ := f.mgr.CreateSession(ctx, CreateParams{UserID: "user-1"})

	// No TOTP, no org policy: not required.
	required, err := f.mgr.RequiresMFA(ctx, created.Session)
	if err != nil || required {
		t.Errorf("baseline: required=%v err=%v, want false", required, err)
	}

	// Org mandates 2FA even though the user has no TOTP enrolled.
	f.memberships.byKey["user-1:org-2fa"] = &membershipdomain.Membership{
		UserID: "user-1", OrgID: "org-2fa", Status: membershipdomain.StatusActive,
	}
	f.orgs.m["org-2fa"] = &orgdomain.Org{ID: "org-2fa", RequireTwoFactor: true}
	required, err = f.mgr.RequiresMFA(ctx, created.Session)
	if err != nil || !required {
		t.Errorf("org policy: required=%v err=%v, want true", required, err)
	}

	// Satisfied this session: never required again.
	rotated, _ := f.mgr.SatisfyMFA(ctx, created.Session.ID, "user-1")
	required, err = f.mgr.RequiresMFA(ctx, rotated.Session)
	if err != nil || required {
		t.Errorf("satisfied: required=%v err=%v, want false", required, err)
	}
}

func TestRequiresMFA_MembershipMandate(t *testing.T) {
	// A membership granted through a require-2FA invite mandates the second
	// factor even when the org itself does not.
	f := newFixture(t)
	ctx := context.Background()
	created, _ := f.mgr.CreateSession(ctx, CreateParams{UserID: "user-1"})

	f.memberships.byKey["user-1:org-1"] = &membershipdomain.Membership{
		UserID: "user-1", OrgID: "org-1", Status: membershipdomain.StatusActive,
		RequireTwoFactor: true,
	}
	f.orgs.m["org-1"] = &orgdomain.Org{ID: "org-1"}

	required, err := f.mgr.RequiresMFA(ctx, created.Session)
	if err != nil || !required {
		t.Errorf("invite mandate: required=%v err=%v, want true", required, err)
	}
}

func TestRequiresMFA_UserEnrolled(t *testing.T) {
	f := newFixture(t)
	f.mfa.enabled = true
	created, _ := f.mgr.CreateSession(context.Background(), CreateParams{UserID: "user-1"})

	required, err := f.mgr.RequiresMFA(context.Background(), created.Session)
	if err != nil || !required {
		t.Errorf("enrolled user: required=%v err=%v, want true", required, err)
	}
}

func TestValidateCSRF(t *testing.T) {
	f := newFixture(t)
	created, _ := f.mgr.CreateSession(context.Background(), CreateParams{UserID: "user-1"})

	if !f.mgr.ValidateCSRF(created.Session, created.Session.CSRFSecret) {
		t.Error("matching token rejected")
	}
	if f.mgr.ValidateCSRF(created.Session, "forged") {
		t.Error("forged token accepted")
	}
	if f.mgr.ValidateCSRF(created.Session, "") {
		t.Error("empty token accepted")
	}
}

func TestRefresh_RotationAndReuseDetection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, _ := f.mgr.CreateSession(ctx, CreateParams{UserID: "user-1"})
	id := created.Session.ID

	next, err := f.mgr.Refresh(ctx, id, created.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if next == created.RefreshToken {
		t.Error("refresh token not rotated")
	}

	// Replaying the consumed token revokes everything.
	if _, err := f.mgr.Refresh(ctx, id, created.RefreshToken); err != ErrRefreshReuse {
		t.Fatalf("reuse: err = %v, want ErrRefreshReuse", err)
	}
	s, _ := f.repo.GetByID(ctx, id)
	if s.RevokedAt == nil {
		t.Error("session survived refresh reuse")
	}
}

func TestRevokeAll_ExceptCurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var keep string
	for i := 0; i < 3; i++ {
		created, _ := f.mgr.CreateSession(ctx, CreateParams{UserID: "user-1"})
		keep = created.Session.ID
		f.advance(time.Minute)
	}
	n, err := f.mgr.RevokeAll(ctx, "user-1", domain.RevokeReasonPasswordChanged, keep)
	if err != nil {
		t.Fatalf("RevokeAll: %v", err)
	}
	if n != 2 {
		t.Errorf("revoked = %d, want 2", n)
	}
	if _, err := f.mgr.Validate(ctx, keep); err != nil {
		t.Errorf("kept session invalid: %v", err)
	}
}

func TestRevokeByID_RejectsForeignSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	created, _ := f.mgr.CreateSession(ctx, CreateParams{UserID: "user-1"})

	if err := f.mgr.RevokeByID(ctx, created.Session.ID, "user-2", domain.RevokeReasonLogout); err != ErrNotSessionOwner {
		t.Fatalf("err = %v, want ErrNotSessionOwner", err)
	}
}

func TestSweep_RevokesExpiredAndIdle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := f.mgr.CreateSession(ctx, CreateParams{UserID: fmt.Sprintf("user-%d", i)}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	f.advance(31 * time.Minute)
	n, err := f.mgr.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if n != 3 {
		t.Errorf("swept = %d, want 3", n)
	}
	// Redundant run is a no-op.
	n, _ = f.mgr.Sweep(ctx)
	if n != 0 {
		t.Errorf("second sweep = %d, want 0", n)
	}
}
