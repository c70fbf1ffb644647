package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"tenant-access-core/internal/authgate"
	"tenant-access-core/internal/invite/domain"
	inviterepo "tenant-access-core/internal/invite/repository"
	membershipdomain "tenant-access-core/internal/membership/domain"
	"tenant-access-core/internal/platform/rbac"
	"tenant-access-core/internal/security"
)

type memInviteRepo struct {
	mu          sync.Mutex
	tokens      map[string]*domain.Token
	memberships map[string]*membershipdomain.Membership
}

func newMemInviteRepo() *memInviteRepo {
	return &memInviteRepo{
		tokens:      make(map[string]*domain.Token),
		memberships: make(map[string]*membershipdomain.Membership),
	}
}

func (r *memInviteRepo) GetByHash(ctx context.Context, tokenHash string) (*domain.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.TokenHash == tokenHash {
			t2 := *t
			return &t2, nil
		}
	}
	return nil, nil
}

func (r *memInviteRepo) GetByID(ctx context.Context, id string) (*domain.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tokens[id]; ok {
		t2 := *t
		return &t2, nil
	}
	return nil, nil
}

func (r *memInviteRepo) ListByOrg(ctx context.Context, orgID string) ([]*domain.Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Token
	for _, t := range r.tokens {
		if t.OrgID == orgID {
			t2 := *t
			out = append(out, &t2)
		}
	}
	return out, nil
}

func (r *memInviteRepo) Create(ctx context.Context, t *domain.Token) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t2 := *t
	r.tokens[t.ID] = &t2
	return nil
}

func (r *memInviteRepo) Revoke(ctx context.Context, id, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tokens[id]; ok && t.RevokedAt == nil {
		t.RevokedAt = &at
		t.RevokeReason = reason
	}
	return nil
}

func (r *memInviteRepo) Redeem(ctx context.Context, tokenID string, m *membershipdomain.Membership, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[tokenID]
	if !ok || t.RevokedAt != nil || t.UsedCount >= t.MaxUses || !now.Before(t.ExpiresAt) {
		return inviterepo.ErrNotRedeemable
	}
	t.UsedCount++
	key := m.UserID + ":" + m.OrgID
	if existing, ok := r.memberships[key]; ok {
		existing.Role = m.Role
		existing.Status = m.Status
		existing.RequireTwoFactor = m.RequireTwoFactor
		existing.UpdatedAt = m.UpdatedAt
	} else {
		m2 := *m
		r.memberships[key] = &m2
	}
	return nil
}

type memMembershipGetter struct {
	repo *memInviteRepo
}

func (g *memMembershipGetter) GetByUserAndOrg(ctx context.Context, userID, orgID string) (*membershipdomain.Membership, error) {
	g.repo.mu.Lock()
	defer g.repo.mu.Unlock()
	return g.repo.memberships[userID+":"+orgID], nil
}

type adminGetter struct{}

func (adminGetter) GetByUserAndOrg(ctx context.Context, userID, orgID string) (*membershipdomain.Membership, error) {
	return &membershipdomain.Membership{
		UserID: userID, OrgID: orgID,
		Role: membershipdomain.RoleAdmin, Status: membershipdomain.StatusActive,
	}, nil
}

type inviteFixture struct {
	repo    *memInviteRepo
	service *Service
	cap     rbac.OrgAdminCapability
	clock   time.Time
}

func newInviteFixture(t *testing.T) *inviteFixture {
	t.Helper()
	f := &inviteFixture{
		repo:  newMemInviteRepo(),
		clock: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	f.service = NewService(f.repo, &memMembershipGetter{repo: f.repo}, nil)
	f.service.now = func() time.Time { return f.clock }

	ctx := authgate.WithIdentity(context.Background(), "admin-1", "org-1", "session-1")
	cap, err := rbac.RequireOrgAdmin(ctx, adminGetter{})
	if err != nil {
		t.Fatalf("RequireOrgAdmin: %v", err)
	}
	f.cap = cap
	return f
}

func (f *inviteFixture) generate(t *testing.T, p GenerateParams) (string, *domain.Token) {
	t.Helper()
	if p.Role == "" {
		p.Role = "editor"
	}
	if p.MaxUses == 0 {
		p.MaxUses = 5
	}
	if p.ExpiresInDays == 0 {
		p.ExpiresInDays = 7
	}
	raw, tok, err := f.service.Generate(context.Background(), f.cap, p)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return raw, tok
}

func TestGenerate(t *testing.T) {
	f := newInviteFixture(t)
	raw, tok := f.generate(t, GenerateParams{RestrictDomain: "Example.COM"})

	if len(raw) != 64 {
		t.Errorf("raw token length = %d, want 64", len(raw))
	}
	if tok.TokenHash != security.Digest(raw) {
		t.Error("stored hash is not the digest of the raw token")
	}
	if tok.TokenHash == raw {
		t.Error("raw token stored verbatim")
	}
	if tok.OrgID != "org-1" || tok.CreatedBy != "admin-1" {
		t.Errorf("token org/creator = %s/%s, want org-1/admin-1", tok.OrgID, tok.CreatedBy)
	}
	if tok.RestrictDomain != "example.com" {
		t.Errorf("restrict domain = %q, want lowercased", tok.RestrictDomain)
	}
}

func TestGenerate_Rejections(t *testing.T) {
	f := newInviteFixture(t)
	ctx := context.Background()

	if _, _, err := f.service.Generate(ctx, rbac.OrgAdminCapability{}, GenerateParams{Role: "editor", MaxUses: 1, ExpiresInDays: 7}); !errors.Is(err, rbac.ErrNotAdmin) {
		t.Errorf("zero capability: err = %v, want ErrNotAdmin", err)
	}
	if _, _, err := f.service.Generate(ctx, f.cap, GenerateParams{Role: "owner", MaxUses: 1, ExpiresInDays: 7}); !errors.Is(err, ErrInvalidRole) {
		t.Errorf("bad role: err = %v, want ErrInvalidRole", err)
	}
	if _, _, err := f.service.Generate(ctx, f.cap, GenerateParams{Role: "editor", MaxUses: 0, ExpiresInDays: 7}); !errors.Is(err, ErrBadParams) {
		t.Errorf("zero max uses: err = %v, want ErrBadParams", err)
	}
}

// Each redeemability clause is violated on its own while the others hold.
func TestValidate_EachClauseIndependently(t *testing.T) {
	ctx := context.Background()

	t.Run("all clauses hold", func(t *testing.T) {
		f := newInviteFixture(t)
		raw, _ := f.generate(t, GenerateParams{})
		ok, err := f.service.Validate(ctx, raw, "anyone@example.com")
		if err != nil || !ok {
			t.Errorf("ok=%v err=%v, want valid", ok, err)
		}
	})

	t.Run("revoked", func(t *testing.T) {
		f := newInviteFixture(t)
		raw, tok := f.generate(t, GenerateParams{})
		if err := f.service.Revoke(ctx, f.cap, tok.ID, "cleanup"); err != nil {
			t.Fatalf("Revoke: %v", err)
		}
		if ok, _ := f.service.Validate(ctx, raw, "anyone@example.com"); ok {
			t.Error("revoked token validated")
		}
	})

	t.Run("exhausted", func(t *testing.T) {
		f := newInviteFixture(t)
		raw, _ := f.generate(t, GenerateParams{MaxUses: 1})
		if _, err := f.service.Redeem(ctx, raw, "user-1", "one@example.com"); err != nil {
			t.Fatalf("Redeem: %v", err)
		}
		if ok, _ := f.service.Validate(ctx, raw, "two@example.com"); ok {
			t.Error("exhausted token validated")
		}
	})

	t.Run("expired", func(t *testing.T) {
		f := newInviteFixture(t)
		raw, _ := f.generate(t, GenerateParams{ExpiresInDays: 7})
		f.clock = f.clock.AddDate(0, 0, 7)
		if ok, _ := f.service.Validate(ctx, raw, "anyone@example.com"); ok {
			t.Error("expired token validated")
		}
	})

	t.Run("email restriction", func(t *testing.T) {
		f := newInviteFixture(t)
		raw, _ := f.generate(t, GenerateParams{RestrictEmail: "invitee@example.com"})
		if ok, _ := f.service.Validate(ctx, raw, "other@example.com"); ok {
			t.Error("wrong email validated")
		}
		if ok, _ := f.service.Validate(ctx, raw, "Invitee@Example.com"); !ok {
			t.Error("matching email rejected (case)")
		}
	})

	t.Run("domain restriction", func(t *testing.T) {
		f := newInviteFixture(t)
		raw, _ := f.generate(t, GenerateParams{RestrictDomain: "example.com"})
		if ok, _ := f.service.Validate(ctx, raw, "user@elsewhere.com"); ok {
			t.Error("wrong domain validated")
		}
		if ok, _ := f.service.Validate(ctx, raw, "user@example.com"); !ok {
			t.Error("matching domain rejected")
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		f := newInviteFixture(t)
		if ok, _ := f.service.Validate(ctx, "deadbeef", "anyone@example.com"); ok {
			t.Error("unknown token validated")
		}
	})
}

func TestRedeem(t *testing.T) {
	f := newInviteFixture(t)
	ctx := context.Background()
	raw, tok := f.generate(t, GenerateParams{Role: "reviewer"})

	redeemed, err := f.service.Redeem(ctx, raw, "user-1", "user-1@example.com")
	if err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	if redeemed.UsedCount != 1 {
		t.Errorf("used count = %d, want 1", redeemed.UsedCount)
	}
	m := f.repo.memberships["user-1:org-1"]
	if m == nil {
		t.Fatal("membership not created")
	}
	if m.Role != membershipdomain.RoleReviewer || m.Status != membershipdomain.StatusActive {
		t.Errorf("membership = %s/%s, want reviewer/active", m.Role, m.Status)
	}

	// Redeeming again as an existing member is a no-op.
	if _, err := f.service.Redeem(ctx, raw, "user-1", "user-1@example.com"); err != nil {
		t.Fatalf("idempotent redeem: %v", err)
	}
	stored, _ := f.repo.GetByID(ctx, tok.ID)
	if stored.UsedCount != 1 {
		t.Errorf("used count after idempotent redeem = %d, want 1", stored.UsedCount)
	}
}

func TestRedeem_RequireTwoFactorCarriesToMembership(t *testing.T) {
	f := newInviteFixture(t)
	ctx := context.Background()
	raw, _ := f.generate(t, GenerateParams{Role: "editor", RequireTwoFactor: true})

	if _, err := f.service.Redeem(ctx, raw, "user-1", "user-1@example.com"); err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	m := f.repo.memberships["user-1:org-1"]
	if m == nil {
		t.Fatal("membership not created")
	}
	if !m.RequireTwoFactor {
		t.Error("membership does not carry the invite's two-factor mandate")
	}
}

func TestRedeem_SingleUseToken(t *testing.T) {
	f := newInviteFixture(t)
	ctx := context.Background()
	raw, _ := f.generate(t, GenerateParams{MaxUses: 1})

	if _, err := f.service.Redeem(ctx, raw, "user-1", "first@example.com"); err != nil {
		t.Fatalf("first redemption: %v", err)
	}
	// A different user, before expiry, still rejected.
	if _, err := f.service.Redeem(ctx, raw, "user-2", "second@example.com"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("second redemption: err = %v, want ErrInvalidToken", err)
	}
	if f.repo.memberships["user-2:org-1"] != nil {
		t.Error("membership created for rejected redemption")
	}
}

func TestRedeem_ReactivatesRemovedMembership(t *testing.T) {
	f := newInviteFixture(t)
	ctx := context.Background()
	raw, _ := f.generate(t, GenerateParams{Role: "editor"})

	f.repo.memberships["user-1:org-1"] = &membershipdomain.Membership{
		ID: "m1", UserID: "user-1", OrgID: "org-1",
		Role: membershipdomain.RoleReviewer, Status: membershipdomain.StatusRemoved,
	}
	if _, err := f.service.Redeem(ctx, raw, "user-1", "user-1@example.com"); err != nil {
		t.Fatalf("Redeem: %v", err)
	}
	m := f.repo.memberships["user-1:org-1"]
	if m.Status != membershipdomain.StatusActive || m.Role != membershipdomain.RoleEditor {
		t.Errorf("membership = %s/%s, want editor/active", m.Role, m.Status)
	}
}

func TestRevoke_WrongOrg(t *testing.T) {
	f := newInviteFixture(t)
	ctx := context.Background()
	_, tok := f.generate(t, GenerateParams{})

	otherCtx := authgate.WithIdentity(context.Background(), "admin-2", "org-2", "session-2")
	otherCap, err := rbac.RequireOrgAdmin(otherCtx, adminGetter{})
	if err != nil {
		t.Fatalf("RequireOrgAdmin: %v", err)
	}
	if err := f.service.Revoke(ctx, otherCap, tok.ID, "takeover"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("cross-org revoke: err = %v, want ErrInvalidToken", err)
	}
}

func TestList(t *testing.T) {
	f := newInviteFixture(t)
	f.generate(t, GenerateParams{})
	f.generate(t, GenerateParams{})

	tokens, err := f.service.List(context.Background(), f.cap)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(tokens) != 2 {
		t.Errorf("tokens = %d, want 2", len(tokens))
	}
}
