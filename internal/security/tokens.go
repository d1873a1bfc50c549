package security

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
)

// Session tokens, refresh tokens, and verification codes are all 32 random
// bytes rendered as 64 hex characters. Only their sha-256 digest is ever
// persisted; the raw value is returned to the caller exactly once.

var (
	hex64 = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)
	hex32 = regexp.MustCompile(`^[a-fA-F0-9]{32}$`)
)

// NewRawToken returns a freshly generated raw token or code (64 hex chars).
func NewRawToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// HashToken returns the hex-encoded sha-256 digest of a raw token or code.
// This is the only form that touches storage.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// IsRawToken reports whether s has the shape of a system-generated token or
// code (64 hex chars). Used to reject junk before hitting storage.
func IsRawToken(s string) bool {
	return hex64.MatchString(s)
}

// IsState reports whether s is a valid caller-generated correlation token
// (32 hex chars).
func IsState(s string) bool {
	return hex32.MatchString(s)
}
