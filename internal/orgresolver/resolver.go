// Package orgresolver picks the organization context for a user with zero,
// one, or many active memberships, and parses explicit workspace selections.
package orgresolver

import (
	"context"
	"errors"
	"strconv"
	"strings"

	membershipdomain "tenant-access-core/internal/membership/domain"
	orgdomain "tenant-access-core/internal/organization/domain"
	userdomain "tenant-access-core/internal/user/domain"
)

// ErrNoMatch is returned by ParseSelection when input matches no option.
var ErrNoMatch = errors.New("no matching organization")

// MembershipRepo is the minimal membership repository needed by the Resolver.
type MembershipRepo interface {
	ListActiveByUser(ctx context.Context, userID string) ([]*membershipdomain.Membership, error)
}

// OrgRepo is the minimal organization repository needed by the Resolver.
type OrgRepo interface {
	ListByIDs(ctx context.Context, ids []string) ([]*orgdomain.Org, error)
}

// UserRepo is the minimal user repository needed by the Resolver.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// Option is one selectable workspace, indexed from 1 for prompts.
type Option struct {
	Index int
	OrgID string
	Name  string
	Slug  string
	Role  membershipdomain.Role
}

// Resolution is the outcome of resolving a user's organization context.
// OrgID is empty when the user has no context (no memberships) or when an
// explicit selection is required.
type Resolution struct {
	OrgID             string
	RequiresSelection bool
	Options           []Option
}

// Resolver computes organization context from memberships and the user's
// stored default.
type Resolver struct {
	memberships MembershipRepo
	orgs        OrgRepo
	users       UserRepo
}

// NewResolver returns a Resolver with the given dependencies.
func NewResolver(memberships MembershipRepo, orgs OrgRepo, users UserRepo) *Resolver {
	return &Resolver{memberships: memberships, orgs: orgs, users: users}
}

// Resolve picks the org context for userID: none → empty, one → that org,
// many → the stored default if it is still an active membership, otherwise a
// selection prompt listing every option.
func (r *Resolver) Resolve(ctx context.Context, userID string) (*Resolution, error) {
	options, err := r.options(ctx, userID)
	if err != nil {
		return nil, err
	}
	switch len(options) {
	case 0:
		return &Resolution{}, nil
	case 1:
		return &Resolution{OrgID: options[0].OrgID}, nil
	}
	u, err := r.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if u != nil && u.DefaultOrgID != "" {
		for _, o := range options {
			if o.OrgID == u.DefaultOrgID {
				return &Resolution{OrgID: o.OrgID, Options: options}, nil
			}
		}
	}
	return &Resolution{RequiresSelection: true, Options: options}, nil
}

// ResolveHint resolves context for an inbound asynchronous channel carrying
// free text. Priority order: stored/derivable context from Resolve, then an
// org name mentioned in the text, then a selection prompt.
// TODO(inbound): thread and project inference once the messaging integration
// carries those references.
func (r *Resolver) ResolveHint(ctx context.Context, userID, text string) (*Resolution, error) {
	res, err := r.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	if res.OrgID != "" || !res.RequiresSelection {
		return res, nil
	}
	lower := strings.ToLower(text)
	for _, o := range res.Options {
		if o.Name != "" && strings.Contains(lower, strings.ToLower(o.Name)) {
			return &Resolution{OrgID: o.OrgID, Options: res.Options}, nil
		}
	}
	return res, nil
}

// ParseSelection matches input against the options: 1-based index first, then
// exact name, then substring of a name, then slug. Matching is
// case-insensitive.
func ParseSelection(options []Option, input string) (Option, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Option{}, ErrNoMatch
	}
	if idx, err := strconv.Atoi(input); err == nil {
		if idx >= 1 && idx <= len(options) {
			return options[idx-1], nil
		}
		return Option{}, ErrNoMatch
	}
	lower := strings.ToLower(input)
	for _, o := range options {
		if strings.ToLower(o.Name) == lower {
			return o, nil
		}
	}
	for _, o := range options {
		if o.Name != "" && strings.Contains(strings.ToLower(o.Name), lower) {
			return o, nil
		}
	}
	for _, o := range options {
		if strings.ToLower(o.Slug) == lower {
			return o, nil
		}
	}
	return Option{}, ErrNoMatch
}

// Options lists the user's selectable workspaces in stable order.
func (r *Resolver) Options(ctx context.Context, userID string) ([]Option, error) {
	return r.options(ctx, userID)
}

func (r *Resolver) options(ctx context.Context, userID string) ([]Option, error) {
	memberships, err := r.memberships.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(memberships) == 0 {
		return nil, nil
	}
	ids := make([]string, 0, len(memberships))
	roles := make(map[string]membershipdomain.Role, len(memberships))
	for _, m := range memberships {
		ids = append(ids, m.OrgID)
		roles[m.OrgID] = m.Role
	}
	orgs, err := r.orgs.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*orgdomain.Org, len(orgs))
	for _, o := range orgs {
		byID[o.ID] = o
	}
	// Membership creation order keeps prompt indices stable across calls.
	options := make([]Option, 0, len(memberships))
	for _, m := range memberships {
		o := byID[m.OrgID]
		if o == nil {
			continue
		}
		options = append(options, Option{
			Index: len(options) + 1,
			OrgID: o.ID,
			Name:  o.Name,
			Slug:  o.Slug,
			Role:  m.Role,
		})
	}
	return options, nil
}
