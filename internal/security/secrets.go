// Package security holds the gateway's cryptographic primitives: bcrypt
// hashing for client secrets and user passwords, sha-256 digests for session
// tokens and verification codes, raw token generation, and signed identity
// assertions for proxied requests.
package security

import (
	"golang.org/x/crypto/bcrypt"
)

// Hasher hashes and verifies client secrets and user passwords using bcrypt.
// Callers must never log or persist the plaintext.
type Hasher struct {
	Cost int
}

// NewHasher returns a Hasher with the given bcrypt cost, clamped to the valid
// range. Cost 12 is a reasonable default for interactive login.
func NewHasher(cost int) *Hasher {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost {
		cost = bcrypt.MinCost
	}
	if cost > bcrypt.MaxCost {
		cost = bcrypt.MaxCost
	}
	return &Hasher{Cost: cost}
}

// Hash produces a bcrypt hash of secret suitable for storage.
func (h *Hasher) Hash(secret []byte) (string, error) {
	b, err := bcrypt.GenerateFromPassword(secret, h.Cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Compare verifies secret against the stored hash in constant time. Returns
// nil on match; bcrypt.ErrMismatchedHashAndPassword or a parse error otherwise.
// A parse error means the stored hash is corrupt, which callers treat as a
// failed match rather than a fault.
func (h *Hasher) Compare(hash string, secret []byte) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), secret)
}
