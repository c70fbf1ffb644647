package domain

import "time"

// State of a user's second factor. The secret exists without Enabled only
// during the setup window between StartSetup and CompleteSetup.
type State string

const (
	StateNone      State = "none"
	StateSettingUp State = "setting_up"
	StateEnabled   State = "enabled"
)

// Config holds a user's TOTP enrollment. One row per user. The secret is the
// base32 TOTP seed; backup codes live in their own rows as SHA-256 digests.
type Config struct {
	UserID    string
	Secret    string
	Enabled   bool
	EnabledAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// State derives the setup state from the stored fields.
func (c *Config) State() State {
	switch {
	case c == nil || c.Secret == "":
		return StateNone
	case !c.Enabled:
		return StateSettingUp
	default:
		return StateEnabled
	}
}

// BackupCode is one single-use recovery code, stored as a digest.
type BackupCode struct {
	UserID     string
	CodeHash   string
	ConsumedAt *time.Time
	CreatedAt  time.Time
}
