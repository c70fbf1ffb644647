// Package security holds the token and hash primitives shared by the access
// core: random identifier/secret generation, one-way digests for stored
// correlating values, and password hashing.
package security

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// tokenBytes is the entropy of every generated identifier and secret:
// 32 bytes = 256 bits, hex-encoded to 64 characters.
const tokenBytes = 32

// NewToken returns a cryptographically random 32-byte token, hex-encoded.
// Used for session ids, CSRF secrets, refresh tokens, verification tokens,
// and invite tokens.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("security: generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// MustToken returns a new token or panics. Only for wiring paths where a
// failing CSPRNG means the process must not serve traffic.
func MustToken() string {
	t, err := NewToken()
	if err != nil {
		panic(err)
	}
	return t
}
