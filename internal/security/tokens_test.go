package security

import (
	"testing"
)

func TestNewToken_LengthAndEncoding(t *testing.T) {
	tok, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	if len(tok) != 64 {
		t.Errorf("token length = %d, want 64 (32 bytes hex)", len(tok))
	}
	for _, r := range tok {
		if !((r >= '0' && r <= '9') || (r >= 'a' && r <= 'f')) {
			t.Fatalf("token contains non-hex rune %q", r)
		}
	}
}

func TestNewToken_UniqueAcrossSamples(t *testing.T) {
	const samples = 2000
	seen := make(map[string]bool, samples)
	for i := 0; i < samples; i++ {
		tok, err := NewToken()
		if err != nil {
			t.Fatalf("NewToken: %v", err)
		}
		if seen[tok] {
			t.Fatalf("duplicate token after %d samples", i)
		}
		seen[tok] = true
	}
}

func TestDigestEqual(t *testing.T) {
	d := Digest("raw-value")
	if !DigestEqual("raw-value", d) {
		t.Error("DigestEqual = false for matching value")
	}
	if DigestEqual("other-value", d) {
		t.Error("DigestEqual = true for non-matching value")
	}
}

func TestTokenEqual(t *testing.T) {
	if !TokenEqual("abc", "abc") {
		t.Error("TokenEqual = false for equal tokens")
	}
	if TokenEqual("abc", "abd") {
		t.Error("TokenEqual = true for different tokens")
	}
	if TokenEqual("abc", "abcd") {
		t.Error("TokenEqual = true for different lengths")
	}
}

func TestHasher_RoundTrip(t *testing.T) {
	h := NewHasher(4) // min cost to keep the test fast
	hash, err := h.Hash([]byte("correct horse battery staple"))
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if err := h.Compare(hash, []byte("correct horse battery staple")); err != nil {
		t.Errorf("Compare with correct password: %v", err)
	}
	if err := h.Compare(hash, []byte("wrong password")); err == nil {
		t.Error("Compare with wrong password: expected error")
	}
}
