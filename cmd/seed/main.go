// seed populates a development database with a lobby organization, a dev
// organization, and two users (admin and editor) with local passwords.
// Idempotent: running it against an already-seeded database is a no-op.
package main

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"tenant-access-core/internal/config"
	"tenant-access-core/internal/db"
	identitydomain "tenant-access-core/internal/identity/domain"
	identityrepo "tenant-access-core/internal/identity/repository"
	membershipdomain "tenant-access-core/internal/membership/domain"
	membershiprepo "tenant-access-core/internal/membership/repository"
	orgdomain "tenant-access-core/internal/organization/domain"
	orgrepo "tenant-access-core/internal/organization/repository"
	"tenant-access-core/internal/security"
	userdomain "tenant-access-core/internal/user/domain"
	userrepo "tenant-access-core/internal/user/repository"
)

const (
	adminEmail    = "admin@dev.local"
	adminPassword = "dev-admin-password"
	editorEmail   = "editor@dev.local"
	editorPass    = "dev-editor-password"
	devOrgSlug    = "acme-dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Env == "production" {
		log.Fatal("seed: refusing to run in production")
	}

	pg, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pg.Close()

	ctx := context.Background()
	users := userrepo.NewPostgresRepository(pg)
	orgs := orgrepo.NewPostgresRepository(pg)
	memberships := membershiprepo.NewPostgresRepository(pg)
	identities := identityrepo.NewPostgresRepository(pg)
	hasher := security.NewHasher(cfg.BcryptCost)
	now := time.Now().UTC()

	existing, err := users.GetByEmail(ctx, adminEmail)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	if existing != nil {
		log.Println("seed: already seeded, nothing to do")
		return
	}

	if org, err := orgs.GetByID(ctx, cfg.LobbyOrgID); err != nil {
		log.Fatalf("seed: %v", err)
	} else if org == nil {
		lobby := &orgdomain.Org{
			ID:        cfg.LobbyOrgID,
			Name:      "Lobby",
			Slug:      "lobby",
			Status:    orgdomain.OrgStatusActive,
			IsLobby:   true,
			CreatedAt: now,
		}
		if err := orgs.Create(ctx, lobby); err != nil {
			log.Fatalf("seed: create lobby org: %v", err)
		}
		log.Printf("seed: created lobby org %s", lobby.ID)
	}

	devOrg, err := orgs.GetBySlug(ctx, devOrgSlug)
	if err != nil {
		log.Fatalf("seed: %v", err)
	}
	if devOrg == nil {
		devOrg = &orgdomain.Org{
			ID:        uuid.NewString(),
			Name:      "Acme Dev",
			Slug:      devOrgSlug,
			Status:    orgdomain.OrgStatusActive,
			CreatedAt: now,
		}
		if err := orgs.Create(ctx, devOrg); err != nil {
			log.Fatalf("seed: create dev org: %v", err)
		}
		log.Printf("seed: created org %s (%s)", devOrg.Name, devOrg.ID)
	}

	createUser := func(email, name, password string, role membershipdomain.Role) {
		hash, err := hasher.Hash([]byte(password))
		if err != nil {
			log.Fatalf("seed: hash password: %v", err)
		}
		verified := now
		u := &userdomain.User{
			ID:              uuid.NewString(),
			Email:           email,
			Name:            name,
			EmailVerifiedAt: &verified,
			DefaultOrgID:    devOrg.ID,
			Status:          userdomain.UserStatusActive,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := users.Create(ctx, u); err != nil {
			log.Fatalf("seed: create user %s: %v", email, err)
		}
		if err := identities.Create(ctx, &identitydomain.Identity{
			ID:           uuid.NewString(),
			UserID:       u.ID,
			Provider:     identitydomain.ProviderLocal,
			ProviderID:   email,
			PasswordHash: hash,
			CreatedAt:    now,
			UpdatedAt:    now,
		}); err != nil {
			log.Fatalf("seed: create identity for %s: %v", email, err)
		}
		if err := memberships.Create(ctx, &membershipdomain.Membership{
			ID:        uuid.NewString(),
			UserID:    u.ID,
			OrgID:     devOrg.ID,
			Role:      role,
			Status:    membershipdomain.StatusActive,
			CreatedAt: now,
			UpdatedAt: now,
		}); err != nil {
			log.Fatalf("seed: create membership for %s: %v", email, err)
		}
		log.Printf("seed: created %s user %s (password %q)", role, email, password)
	}

	createUser(adminEmail, "Dev Admin", adminPassword, membershipdomain.RoleAdmin)
	createUser(editorEmail, "Dev Editor", editorPass, membershipdomain.RoleEditor)

	log.Println("seed: done")
}
