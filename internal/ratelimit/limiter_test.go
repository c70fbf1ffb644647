package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewLimiter(rdb, 5, 15*time.Minute, 30*time.Minute, 5, 15*time.Minute), mr
}

func TestLoginLockout_AtThreshold(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := l.RecordLoginFailure(ctx, "a@example.com", "203.0.113.1"); err != nil {
			t.Fatalf("failure %d: %v", i, err)
		}
		allowed, _, err := l.CheckLoginAllowed(ctx, "a@example.com", "203.0.113.1")
		if err != nil || !allowed {
			t.Fatalf("attempt %d: allowed=%v err=%v, want allowed before threshold", i, allowed, err)
		}
	}

	if err := l.RecordLoginFailure(ctx, "a@example.com", "203.0.113.1"); err != ErrLocked {
		t.Fatalf("5th failure err = %v, want ErrLocked", err)
	}
	allowed, retryAfter, err := l.CheckLoginAllowed(ctx, "a@example.com", "203.0.113.1")
	if err != nil {
		t.Fatalf("CheckLoginAllowed: %v", err)
	}
	if allowed {
		t.Error("allowed after lockout, want denied")
	}
	if retryAfter <= 0 || retryAfter > 30*time.Minute {
		t.Errorf("retryAfter = %v, want within (0, 30m]", retryAfter)
	}
}

func TestLoginLockout_KeyedPerEmailAndIP(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = l.RecordLoginFailure(ctx, "a@example.com", "203.0.113.1")
	}
	// Same email from another IP is unaffected.
	allowed, _, err := l.CheckLoginAllowed(ctx, "a@example.com", "203.0.113.2")
	if err != nil || !allowed {
		t.Errorf("other ip: allowed=%v err=%v, want allowed", allowed, err)
	}
}

func TestLoginSuccess_ClearsFailuresAndLock(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = l.RecordLoginFailure(ctx, "a@example.com", "203.0.113.1")
	}
	if err := l.RecordLoginSuccess(ctx, "a@example.com", "203.0.113.1"); err != nil {
		t.Fatalf("RecordLoginSuccess: %v", err)
	}
	allowed, _, err := l.CheckLoginAllowed(ctx, "a@example.com", "203.0.113.1")
	if err != nil || !allowed {
		t.Errorf("after success: allowed=%v err=%v, want allowed", allowed, err)
	}
}

func TestLoginLockout_ExpiresWithWindow(t *testing.T) {
	l, mr := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_ = l.RecordLoginFailure(ctx, "a@example.com", "203.0.113.1")
	}
	mr.FastForward(31 * time.Minute)

	allowed, _, err := l.CheckLoginAllowed(ctx, "a@example.com", "203.0.113.1")
	if err != nil || !allowed {
		t.Errorf("after lock expiry: allowed=%v err=%v, want allowed", allowed, err)
	}
}

func TestMFAAttempts_LimitedPerSession(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := l.AllowMFAAttempt(ctx, "sess-1")
		if err != nil || !ok {
			t.Fatalf("attempt %d: ok=%v err=%v, want allowed", i, ok, err)
		}
	}
	ok, err := l.AllowMFAAttempt(ctx, "sess-1")
	if err != nil {
		t.Fatalf("AllowMFAAttempt: %v", err)
	}
	if ok {
		t.Error("6th attempt allowed, want denied")
	}

	// Another session is unaffected.
	ok, err = l.AllowMFAAttempt(ctx, "sess-2")
	if err != nil || !ok {
		t.Errorf("other session: ok=%v err=%v, want allowed", ok, err)
	}
}

func TestClearMFAAttempts(t *testing.T) {
	l, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		_, _ = l.AllowMFAAttempt(ctx, "sess-1")
	}
	if err := l.ClearMFAAttempts(ctx, "sess-1"); err != nil {
		t.Fatalf("ClearMFAAttempts: %v", err)
	}
	ok, err := l.AllowMFAAttempt(ctx, "sess-1")
	if err != nil || !ok {
		t.Errorf("after clear: ok=%v err=%v, want allowed", ok, err)
	}
}
