// Package ratelimit implements login throttling and MFA attempt limiting as
// atomic counters in Redis, keyed by hashed identifiers so raw emails and IPs
// never reach the store. Counters are fixed windows; increments are atomic so
// two concurrent failures cannot both pass the threshold check.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"tenant-access-core/internal/security"
)

const (
	loginFailPrefix = "login:fail:"
	loginLockPrefix = "login:lock:"
	mfaFailPrefix   = "mfa:fail:"
)

// ErrLocked is returned when the (email, ip) pair is locked out.
var ErrLocked = errors.New("too many failed attempts")

// Limiter tracks failed login attempts per (email, ip) and MFA attempts per
// session in Redis.
type Limiter struct {
	rdb         redis.Cmdable
	maxFailures int
	window      time.Duration
	lockout     time.Duration

	mfaMaxAttempts int
	mfaWindow      time.Duration
}

// NewLimiter returns a Limiter with the given thresholds.
func NewLimiter(rdb redis.Cmdable, maxFailures int, window, lockout time.Duration, mfaMaxAttempts int, mfaWindow time.Duration) *Limiter {
	return &Limiter{
		rdb:            rdb,
		maxFailures:    maxFailures,
		window:         window,
		lockout:        lockout,
		mfaMaxAttempts: mfaMaxAttempts,
		mfaWindow:      mfaWindow,
	}
}

func loginKey(email, ip string) string {
	return security.Digest(email + "|" + ip)
}

// CheckLoginAllowed reports whether a login attempt for (email, ip) may
// proceed. When locked, retryAfter is the remaining lockout duration.
func (l *Limiter) CheckLoginAllowed(ctx context.Context, email, ip string) (allowed bool, retryAfter time.Duration, err error) {
	ttl, err := l.rdb.TTL(ctx, loginLockPrefix+loginKey(email, ip)).Result()
	if err != nil {
		return false, 0, err
	}
	// TTL returns a negative duration when the key does not exist or has no expiry.
	if ttl > 0 {
		return false, ttl, nil
	}
	return true, 0, nil
}

// RecordLoginFailure atomically increments the rolling failure counter and
// installs the lockout once the threshold is reached. Returns ErrLocked when
// this failure crossed the threshold.
func (l *Limiter) RecordLoginFailure(ctx context.Context, email, ip string) error {
	key := loginKey(email, ip)
	count, err := l.incrWithWindow(ctx, loginFailPrefix+key, l.window)
	if err != nil {
		return err
	}
	if count < int64(l.maxFailures) {
		return nil
	}
	if err := l.rdb.Set(ctx, loginLockPrefix+key, "1", l.lockout).Err(); err != nil {
		return err
	}
	return ErrLocked
}

// RecordLoginSuccess clears the failure window and any lock for (email, ip).
func (l *Limiter) RecordLoginSuccess(ctx context.Context, email, ip string) error {
	key := loginKey(email, ip)
	return l.rdb.Del(ctx, loginFailPrefix+key, loginLockPrefix+key).Err()
}

// AllowMFAAttempt atomically counts an MFA code attempt for the session and
// reports whether it may proceed. The counter covers both TOTP and backup
// codes, independent of the login-level limiter.
func (l *Limiter) AllowMFAAttempt(ctx context.Context, sessionID string) (bool, error) {
	count, err := l.incrWithWindow(ctx, mfaFailPrefix+security.Digest(sessionID), l.mfaWindow)
	if err != nil {
		return false, err
	}
	return count <= int64(l.mfaMaxAttempts), nil
}

// ClearMFAAttempts resets the session's MFA attempt counter after a success.
func (l *Limiter) ClearMFAAttempts(ctx context.Context, sessionID string) error {
	return l.rdb.Del(ctx, mfaFailPrefix+security.Digest(sessionID)).Err()
}

// incrWithWindow increments key and starts the window on first increment.
// INCR and EXPIRE NX run in one pipeline so redundant sweepers and concurrent
// requests observe a consistent window.
func (l *Limiter) incrWithWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
