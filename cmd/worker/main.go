// Worker sweeps expired and idle sessions on an interval. Set SWEEP_INTERVAL
// to tune the cadence; everything else comes from the shared config.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"tenant-access-core/internal/audit"
	auditrepo "tenant-access-core/internal/audit/repository"
	"tenant-access-core/internal/config"
	"tenant-access-core/internal/db"
	membershiprepo "tenant-access-core/internal/membership/repository"
	mfarepo "tenant-access-core/internal/mfa/repository"
	orgrepo "tenant-access-core/internal/organization/repository"
	"tenant-access-core/internal/ratelimit"
	sessionrepo "tenant-access-core/internal/session/repository"
	sessionservice "tenant-access-core/internal/session/service"
	userrepo "tenant-access-core/internal/user/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	pg, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer pg.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	auditLogger := audit.NewLogger(auditrepo.NewPostgresRepository(pg), nil)
	limiter := ratelimit.NewLimiter(rdb,
		cfg.LoginMaxFailures, cfg.FailureWindow(), cfg.LockoutDuration(),
		cfg.MFAMaxAttempts, cfg.MFAWindow())

	manager := sessionservice.NewManager(
		sessionrepo.NewPostgresRepository(pg),
		membershiprepo.NewPostgresRepository(pg),
		orgrepo.NewPostgresRepository(pg),
		userrepo.NewPostgresRepository(pg),
		mfarepo.NewPostgresRepository(pg),
		limiter, auditLogger,
		sessionservice.Options{
			TTL:          cfg.SessionTTLDuration(),
			IdleTimeout:  cfg.IdleTimeout(),
			SessionLimit: cfg.SessionLimit,
		})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		log.Println("worker: shutting down...")
		cancel()
	}()

	interval := cfg.SweepEvery()
	log.Printf("worker: sweeping sessions every %s", interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("worker: stopped")
			return
		case <-ticker.C:
			sweepCtx, sweepCancel := context.WithTimeout(ctx, time.Minute)
			n, err := manager.Sweep(sweepCtx)
			sweepCancel()
			if err != nil {
				log.Printf("worker: sweep failed: %v", err)
				continue
			}
			if n > 0 {
				log.Printf("worker: revoked %d expired/idle sessions", n)
			}
		}
	}
}
