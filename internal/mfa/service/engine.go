// Package service implements the TOTP engine: enrollment, code verification,
// backup codes, disable, and admin reset. The engine is the only writer of
// MFA config state.
package service

import (
	"context"
	"crypto/rand"
	"errors"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"tenant-access-core/internal/audit"
	"tenant-access-core/internal/mfa/domain"
	mfarepo "tenant-access-core/internal/mfa/repository"
	"tenant-access-core/internal/platform/rbac"
	"tenant-access-core/internal/ratelimit"
	"tenant-access-core/internal/security"
	sessiondomain "tenant-access-core/internal/session/domain"
	sessionservice "tenant-access-core/internal/session/service"
)

var (
	ErrAlreadyEnabled  = errors.New("two-factor authentication is already enabled")
	ErrSetupNotStarted = errors.New("two-factor setup has not been started")
	ErrNotEnabled      = errors.New("two-factor authentication is not enabled")
	ErrInvalidCode     = errors.New("invalid code")
	ErrTooManyAttempts = errors.New("too many verification attempts")
)

const (
	totpPeriod     = 30
	totpSecretSize = 20 // 160-bit seed
	totpSkew       = 1  // accept one period either side for clock drift

	backupCodeCount = 10
	backupCodeLen   = 8
	// No 0/O or 1/I, codes get read off paper.
	backupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// SessionRotator is the slice of the session Manager the engine needs.
type SessionRotator interface {
	SatisfyMFA(ctx context.Context, sessionID, userID string) (*sessionservice.Created, error)
	RevokeAll(ctx context.Context, userID, reason, exceptSessionID string) (int64, error)
}

// Setup is the result of StartSetup: the base32 secret and the otpauth URI
// for the authenticator app.
type Setup struct {
	Secret string
	URI    string
}

// Enrolled is the result of CompleteSetup. BackupCodes are plaintext, shown
// exactly once; the store keeps only their digests.
type Enrolled struct {
	BackupCodes []string
	Session     *sessionservice.Created // non-nil when a session was rotated
}

// Engine owns the TOTP enrollment state machine per user:
// none, setting up, enabled.
type Engine struct {
	repo        mfarepo.Repository
	sessions    SessionRotator
	limiter     *ratelimit.Limiter
	auditLogger audit.AuditLogger
	issuer      string

	now func() time.Time
}

// NewEngine returns an Engine. issuer names this service in provisioning URIs.
func NewEngine(repo mfarepo.Repository, sessions SessionRotator, limiter *ratelimit.Limiter, auditLogger audit.AuditLogger, issuer string) *Engine {
	return &Engine{
		repo:        repo,
		sessions:    sessions,
		limiter:     limiter,
		auditLogger: auditLogger,
		issuer:      issuer,
		now:         time.Now,
	}
}

// Enabled reports whether the user has a confirmed second factor. Implements
// the session Manager's MFAStatus dependency.
func (e *Engine) Enabled(ctx context.Context, userID string) (bool, error) {
	return e.repo.Enabled(ctx, userID)
}

// StartSetup generates a fresh TOTP secret for the user and stores it pending
// confirmation. Rejects users that already completed setup; a pending secret
// is replaced, so an abandoned setup can be restarted.
func (e *Engine) StartSetup(ctx context.Context, userID, accountName string) (*Setup, error) {
	cfg, err := e.repo.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if cfg.State() == domain.StateEnabled {
		return nil, ErrAlreadyEnabled
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.issuer,
		AccountName: accountName,
		SecretSize:  totpSecretSize,
		Period:      totpPeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, err
	}
	if err := e.repo.SaveSecret(ctx, userID, key.Secret(), e.now().UTC()); err != nil {
		return nil, err
	}
	e.logEvent(ctx, userID, "mfa_setup_started", "")
	return &Setup{Secret: key.Secret(), URI: key.URL()}, nil
}

// CompleteSetup verifies the first code against the pending secret, flips the
// config to enabled, and issues backup codes. When sessionID is set, the
// current session is rotated with MFA satisfied so the user is not challenged
// again right after enrolling.
func (e *Engine) CompleteSetup(ctx context.Context, userID, sessionID, code string) (*Enrolled, error) {
	cfg, err := e.repo.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	switch cfg.State() {
	case domain.StateEnabled:
		return nil, ErrAlreadyEnabled
	case domain.StateNone:
		return nil, ErrSetupNotStarted
	}
	if !e.validTOTP(code, cfg.Secret) {
		e.logEvent(ctx, userID, "mfa_setup_failed", "invalid_code")
		return nil, ErrInvalidCode
	}
	now := e.now().UTC()
	if err := e.repo.Enable(ctx, userID, now); err != nil {
		return nil, err
	}

	codes, err := generateBackupCodes()
	if err != nil {
		return nil, err
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = security.Digest(c)
	}
	if err := e.repo.ReplaceBackupCodes(ctx, userID, hashes, now); err != nil {
		return nil, err
	}

	enrolled := &Enrolled{BackupCodes: codes}
	if sessionID != "" {
		created, err := e.sessions.SatisfyMFA(ctx, sessionID, userID)
		if err != nil {
			return nil, err
		}
		enrolled.Session = created
	}
	e.logEvent(ctx, userID, "mfa_enabled", "")
	return enrolled, nil
}

// Verify checks a TOTP or backup code against the user's enabled config and,
// on success, marks the session MFA-satisfied (rotating it). A matched backup
// code is consumed and never works again. Failed attempts count against the
// per-session limiter independent of the login-level one.
func (e *Engine) Verify(ctx context.Context, userID, sessionID, code string) (*sessionservice.Created, error) {
	code = normalizeCode(code)
	if len(code) != 6 && len(code) != backupCodeLen {
		return nil, ErrInvalidCode
	}

	allowed, err := e.limiter.AllowMFAAttempt(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !allowed {
		e.logEvent(ctx, userID, "mfa_locked", "")
		return nil, ErrTooManyAttempts
	}

	ok, err := e.checkCode(ctx, userID, code)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.logEvent(ctx, userID, "mfa_failed", "invalid_code")
		return nil, ErrInvalidCode
	}

	if err := e.limiter.ClearMFAAttempts(ctx, sessionID); err != nil {
		return nil, err
	}
	created, err := e.sessions.SatisfyMFA(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	e.logEvent(ctx, userID, "mfa_verified", "")
	return created, nil
}

// Disable turns the second factor off after re-verifying a code, then revokes
// every session of the user.
func (e *Engine) Disable(ctx context.Context, userID, code string) error {
	ok, err := e.checkCode(ctx, userID, normalizeCode(code))
	if err != nil {
		return err
	}
	if !ok {
		e.logEvent(ctx, userID, "mfa_disable_failed", "invalid_code")
		return ErrInvalidCode
	}
	if err := e.repo.Delete(ctx, userID); err != nil {
		return err
	}
	if _, err := e.sessions.RevokeAll(ctx, userID, sessiondomain.RevokeReasonMFADisabled, ""); err != nil {
		return err
	}
	e.logEvent(ctx, userID, "mfa_disabled", "")
	return nil
}

// AdminReset clears the target user's second factor and revokes their
// sessions. The capability proves the caller passed the org-admin check.
func (e *Engine) AdminReset(ctx context.Context, cap rbac.OrgAdminCapability, targetUserID string) error {
	if !cap.Valid() {
		return rbac.ErrNotAdmin
	}
	if err := e.repo.Delete(ctx, targetUserID); err != nil {
		return err
	}
	if _, err := e.sessions.RevokeAll(ctx, targetUserID, sessiondomain.RevokeReasonMFAReset, ""); err != nil {
		return err
	}
	e.logEvent(ctx, cap.UserID, "mfa_admin_reset", targetUserID)
	return nil
}

// BackupCodesRemaining returns how many of the user's backup codes are unused.
func (e *Engine) BackupCodesRemaining(ctx context.Context, userID string) (int, error) {
	consumed, err := e.repo.CountConsumed(ctx, userID)
	if err != nil {
		return 0, err
	}
	return backupCodeCount - consumed, nil
}

// checkCode verifies code against the user's enabled config: 6 digits go to
// TOTP, anything else is tried as a backup code.
func (e *Engine) checkCode(ctx context.Context, userID, code string) (bool, error) {
	cfg, err := e.repo.GetByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	if cfg.State() != domain.StateEnabled {
		return false, ErrNotEnabled
	}
	if len(code) == 6 {
		return e.validTOTP(code, cfg.Secret), nil
	}
	return e.repo.ConsumeBackupCode(ctx, userID, security.Digest(code), e.now().UTC())
}

func (e *Engine) validTOTP(code, secret string) bool {
	ok, err := totp.ValidateCustom(code, secret, e.now().UTC(), totp.ValidateOpts{
		Period:    totpPeriod,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && ok
}

func normalizeCode(code string) string {
	code = strings.TrimSpace(code)
	code = strings.ReplaceAll(code, " ", "")
	code = strings.ReplaceAll(code, "-", "")
	return strings.ToUpper(code)
}

func generateBackupCodes() ([]string, error) {
	codes := make([]string, backupCodeCount)
	for i := range codes {
		b := make([]byte, backupCodeLen)
		if _, err := rand.Read(b); err != nil {
			return nil, err
		}
		for j := range b {
			b[j] = backupCodeAlphabet[int(b[j])%len(backupCodeAlphabet)]
		}
		codes[i] = string(b)
	}
	return codes, nil
}

func (e *Engine) logEvent(ctx context.Context, userID, action, metadata string) {
	if e.auditLogger != nil {
		e.auditLogger.LogEvent(ctx, "", userID, action, "mfa", metadata)
	}
}
