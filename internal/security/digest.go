package security

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// Digest returns a SHA-256 hash of the value, hex-encoded. Used for storing
// sensitive correlating values (IP, user-agent, refresh tokens, invite
// tokens, backup codes) without storing the raw value.
func Digest(value string) string {
	h := sha256.Sum256([]byte(value))
	return hex.EncodeToString(h[:])
}

// DigestEqual performs constant-time comparison of the provided value's
// digest with the stored digest. Returns true only if they match.
func DigestEqual(providedValue, storedDigest string) bool {
	providedDigest := Digest(providedValue)
	return subtle.ConstantTimeCompare([]byte(providedDigest), []byte(storedDigest)) == 1
}

// TokenEqual performs constant-time comparison of two equal-sensitivity
// secrets (e.g. a request-supplied CSRF token against the session's secret).
func TokenEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
