package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	adminhandler "tenant-access-core/internal/admin/handler"
	"tenant-access-core/internal/audit"
	auditrepo "tenant-access-core/internal/audit/repository"
	"tenant-access-core/internal/authgate"
	"tenant-access-core/internal/config"
	"tenant-access-core/internal/db"
	dbmigrate "tenant-access-core/internal/db/migrate"
	healthhandler "tenant-access-core/internal/health/handler"
	identityhandler "tenant-access-core/internal/identity/handler"
	identityrepo "tenant-access-core/internal/identity/repository"
	identityservice "tenant-access-core/internal/identity/service"
	invitehandler "tenant-access-core/internal/invite/handler"
	inviterepo "tenant-access-core/internal/invite/repository"
	inviteservice "tenant-access-core/internal/invite/service"
	membershiprepo "tenant-access-core/internal/membership/repository"
	membershipservice "tenant-access-core/internal/membership/service"
	mfahandler "tenant-access-core/internal/mfa/handler"
	mfarepo "tenant-access-core/internal/mfa/repository"
	mfaservice "tenant-access-core/internal/mfa/service"
	orgrepo "tenant-access-core/internal/organization/repository"
	"tenant-access-core/internal/orgresolver"
	orgresolverhandler "tenant-access-core/internal/orgresolver/handler"
	"tenant-access-core/internal/ratelimit"
	"tenant-access-core/internal/security"
	"tenant-access-core/internal/server"
	sessionhandler "tenant-access-core/internal/session/handler"
	sessionrepo "tenant-access-core/internal/session/repository"
	sessionservice "tenant-access-core/internal/session/service"
	signuphandler "tenant-access-core/internal/signup/handler"
	signuprepo "tenant-access-core/internal/signup/repository"
	signupservice "tenant-access-core/internal/signup/service"
	"tenant-access-core/internal/telemetry"
	telemetryotel "tenant-access-core/internal/telemetry/otel"
	userrepo "tenant-access-core/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if cfg.MigrateOnStart {
		if err := dbmigrate.Run(cfg.DatabaseURL, "up"); err != nil {
			log.Fatalf("migrate: %v", err)
		}
	}

	pg, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pg.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	ctx := context.Background()
	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPMetricsEndpoint, "tenant-access-core", false)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()
	metrics, err := telemetry.NewMetrics(providers.MeterProvider.Meter("tenant-access-core"))
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}

	auditLogger := audit.NewLogger(auditrepo.NewPostgresRepository(pg), nil)
	limiter := ratelimit.NewLimiter(rdb,
		cfg.LoginMaxFailures, cfg.FailureWindow(), cfg.LockoutDuration(),
		cfg.MFAMaxAttempts, cfg.MFAWindow())
	hasher := security.NewHasher(cfg.BcryptCost)

	users := userrepo.NewPostgresRepository(pg)
	orgs := orgrepo.NewPostgresRepository(pg)
	memberships := membershiprepo.NewPostgresRepository(pg)
	identities := identityrepo.NewPostgresRepository(pg)
	sessions := sessionrepo.NewPostgresRepository(pg)
	mfaConfigs := mfarepo.NewPostgresRepository(pg)
	invites := inviterepo.NewPostgresRepository(pg)
	signups := signuprepo.NewPostgresRepository(pg)

	manager := sessionservice.NewManager(sessions, memberships, orgs, users, mfaConfigs, limiter, auditLogger, sessionservice.Options{
		TTL:          cfg.SessionTTLDuration(),
		IdleTimeout:  cfg.IdleTimeout(),
		SessionLimit: cfg.SessionLimit,
	})
	resolver := orgresolver.NewResolver(memberships, orgs, users)
	authService := identityservice.NewAuthService(users, identities, manager, resolver, hasher, auditLogger)
	mfaEngine := mfaservice.NewEngine(mfaConfigs, manager, limiter, auditLogger, cfg.TOTPIssuer)
	inviteService := inviteservice.NewService(invites, memberships, auditLogger)
	memberService := membershipservice.NewService(memberships, auditLogger)
	signupService := signupservice.NewService(
		signups, users, memberships, inviteService, authService, manager,
		signupservice.LogNotifier{BaseURL: cfg.BaseURL}, auditLogger, cfg.LobbyOrgID)

	cookieOpts := authgate.CookieOptions{Secure: cfg.CookieSecure, MaxAge: cfg.SessionTTLDuration()}
	gate := authgate.NewGate(manager, memberships, auditLogger, authgate.Options{
		BindIP:  cfg.StrictIPBinding,
		Metrics: metrics,
	})

	engine := server.New(server.Deps{
		Gate:      gate,
		Auth:      identityhandler.NewHandler(authService, metrics, cookieOpts),
		Sessions:  sessionhandler.NewHandler(manager, sessions, metrics),
		MFA:       mfahandler.NewHandler(mfaEngine, users, memberships, metrics, cookieOpts),
		Signup:    signuphandler.NewHandler(signupService, metrics, cookieOpts),
		Invites:   invitehandler.NewHandler(inviteService, memberships),
		Workspace: orgresolverhandler.NewHandler(resolver, manager, cookieOpts),
		Admin:     adminhandler.NewHandler(manager, memberService, memberships, signups, metrics),
		Health:    healthhandler.NewHandler(pg, rdb),
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: engine}
	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("telemetry shutdown: %v", err)
	}
	log.Println("HTTP server stopped")
}
