package domain

import "time"

// Identity represents a user's credential record. Only local password
// identities participate in login today; the provider column leaves room for
// federated identities without a schema change.
type Identity struct {
	ID           string
	UserID       string
	Provider     Provider
	ProviderID   string
	PasswordHash string // empty if not local
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Provider string

const (
	ProviderLocal Provider = "local"
	ProviderOIDC  Provider = "oidc"
	ProviderSAML  Provider = "saml"
)
