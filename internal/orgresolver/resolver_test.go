package orgresolver

import (
	"context"
	"errors"
	"testing"

	membershipdomain "tenant-access-core/internal/membership/domain"
	orgdomain "tenant-access-core/internal/organization/domain"
	userdomain "tenant-access-core/internal/user/domain"
)

type memMembershipRepo struct {
	byUser map[string][]*membershipdomain.Membership
}

func (r *memMembershipRepo) ListActiveByUser(ctx context.Context, userID string) ([]*membershipdomain.Membership, error) {
	return r.byUser[userID], nil
}

type memOrgRepo struct {
	orgs map[string]*orgdomain.Org
}

func (r *memOrgRepo) ListByIDs(ctx context.Context, ids []string) ([]*orgdomain.Org, error) {
	var out []*orgdomain.Org
	for _, id := range ids {
		if o, ok := r.orgs[id]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

type memUserRepo struct {
	users map[string]*userdomain.User
}

func (r *memUserRepo) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	return r.users[id], nil
}

func newResolverFixture() (*Resolver, *memMembershipRepo, *memOrgRepo, *memUserRepo) {
	memberships := &memMembershipRepo{byUser: make(map[string][]*membershipdomain.Membership)}
	orgs := &memOrgRepo{orgs: make(map[string]*orgdomain.Org)}
	users := &memUserRepo{users: make(map[string]*userdomain.User)}
	return NewResolver(memberships, orgs, users), memberships, orgs, users
}

func addOrg(orgs *memOrgRepo, id, name, slug string) {
	orgs.orgs[id] = &orgdomain.Org{ID: id, Name: name, Slug: slug}
}

func addMembership(memberships *memMembershipRepo, userID, orgID string) {
	memberships.byUser[userID] = append(memberships.byUser[userID], &membershipdomain.Membership{
		UserID: userID, OrgID: orgID,
		Role: membershipdomain.RoleEditor, Status: membershipdomain.StatusActive,
	})
}

func TestResolve_NoMemberships(t *testing.T) {
	r, _, _, _ := newResolverFixture()
	res, err := r.Resolve(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.OrgID != "" || res.RequiresSelection {
		t.Errorf("res = %+v, want empty context without selection", res)
	}
}

func TestResolve_SingleMembershipAutoSelects(t *testing.T) {
	r, memberships, orgs, _ := newResolverFixture()
	addOrg(orgs, "org-1", "Acme Capital", "acme")
	addMembership(memberships, "user-1", "org-1")

	res, err := r.Resolve(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.OrgID != "org-1" || res.RequiresSelection {
		t.Errorf("res = %+v, want auto-selected org-1", res)
	}
}

func TestResolve_StoredDefaultWins(t *testing.T) {
	r, memberships, orgs, users := newResolverFixture()
	addOrg(orgs, "org-1", "Acme Capital", "acme")
	addOrg(orgs, "org-2", "Beta Fund", "beta")
	addMembership(memberships, "user-1", "org-1")
	addMembership(memberships, "user-1", "org-2")
	users.users["user-1"] = &userdomain.User{ID: "user-1", DefaultOrgID: "org-2"}

	res, err := r.Resolve(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.OrgID != "org-2" || res.RequiresSelection {
		t.Errorf("res = %+v, want stored org-2", res)
	}
}

func TestResolve_StaleDefaultFallsBackToPrompt(t *testing.T) {
	r, memberships, orgs, users := newResolverFixture()
	addOrg(orgs, "org-1", "Acme Capital", "acme")
	addOrg(orgs, "org-2", "Beta Fund", "beta")
	addMembership(memberships, "user-1", "org-1")
	addMembership(memberships, "user-1", "org-2")
	// Default points at an org the user was removed from.
	users.users["user-1"] = &userdomain.User{ID: "user-1", DefaultOrgID: "org-gone"}

	res, err := r.Resolve(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !res.RequiresSelection {
		t.Fatalf("res = %+v, want selection prompt", res)
	}
	if len(res.Options) != 2 {
		t.Errorf("options = %d, want 2", len(res.Options))
	}
	for i, o := range res.Options {
		if o.Index != i+1 {
			t.Errorf("option %d index = %d, want %d", i, o.Index, i+1)
		}
	}
}

func TestResolveHint_NameInText(t *testing.T) {
	r, memberships, orgs, _ := newResolverFixture()
	addOrg(orgs, "org-1", "Acme Capital", "acme")
	addOrg(orgs, "org-2", "Beta Fund", "beta")
	addMembership(memberships, "user-1", "org-1")
	addMembership(memberships, "user-1", "org-2")

	res, err := r.ResolveHint(context.Background(), "user-1", "please upload this to the Beta Fund data room")
	if err != nil {
		t.Fatalf("ResolveHint: %v", err)
	}
	if res.OrgID != "org-2" {
		t.Errorf("org = %q, want org-2", res.OrgID)
	}

	res, err = r.ResolveHint(context.Background(), "user-1", "no org named here")
	if err != nil {
		t.Fatalf("ResolveHint: %v", err)
	}
	if !res.RequiresSelection {
		t.Errorf("res = %+v, want prompt fallback", res)
	}
}

func TestParseSelection(t *testing.T) {
	options := []Option{
		{Index: 1, OrgID: "org-1", Name: "Acme Capital", Slug: "acme"},
		{Index: 2, OrgID: "org-2", Name: "Beta Fund", Slug: "beta"},
	}

	cases := []struct {
		input string
		want  string
	}{
		{"2", "org-2"},
		{"Acme Capital", "org-1"},
		{"beta fund", "org-2"},
		{"acme", "org-1"}, // substring of the name
		{"beta", "org-2"},
	}
	for _, tc := range cases {
		got, err := ParseSelection(options, tc.input)
		if err != nil {
			t.Errorf("ParseSelection(%q): %v", tc.input, err)
			continue
		}
		if got.OrgID != tc.want {
			t.Errorf("ParseSelection(%q) = %s, want %s", tc.input, got.OrgID, tc.want)
		}
	}
}

func TestParseSelection_SlugFallback(t *testing.T) {
	options := []Option{
		{Index: 1, OrgID: "org-1", Name: "Acme Capital", Slug: "av-partners"},
	}
	got, err := ParseSelection(options, "av-partners")
	if err != nil {
		t.Fatalf("ParseSelection: %v", err)
	}
	if got.OrgID != "org-1" {
		t.Errorf("org = %q, want org-1", got.OrgID)
	}
}

func TestParseSelection_NoMatch(t *testing.T) {
	options := []Option{
		{Index: 1, OrgID: "org-1", Name: "Acme Capital", Slug: "acme"},
	}
	for _, input := range []string{"", "3", "0", "gamma"} {
		if _, err := ParseSelection(options, input); !errors.Is(err, ErrNoMatch) {
			t.Errorf("ParseSelection(%q): err = %v, want ErrNoMatch", input, err)
		}
	}
}
