package security

import (
	"crypto"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnsupportedKey is returned when the signing key is neither ECDSA nor RSA.
var ErrUnsupportedKey = errors.New("unsupported signing key type")

// Asserter produces the identity assertion attached to proxied requests: a
// short-lived JWT signed with the gateway's key, audience-bound to the target
// backend. The raw auth context is embedded at the top level of the claims so
// backends can read it directly after verifying the signature.
type Asserter struct {
	key    crypto.Signer
	method jwt.SigningMethod
	alg    string
	issuer string
	ttl    time.Duration
}

// NewAsserter parses the PEM key (inline or file path) and returns an
// Asserter issuing tokens as issuer with the given lifetime. The key is
// exercised with a test signature so a misconfigured key fails at startup
// rather than on the first proxied request.
func NewAsserter(pemKey, issuer string, ttl time.Duration) (*Asserter, error) {
	signer, err := ParseSigningKey(pemKey)
	if err != nil {
		return nil, fmt.Errorf("assertion key: %w", err)
	}
	return NewAsserterFromKey(signer, issuer, ttl)
}

// NewAsserterFromKey is NewAsserter for an already-parsed key.
func NewAsserterFromKey(key crypto.Signer, issuer string, ttl time.Duration) (*Asserter, error) {
	alg := KeyAlg(key.Public())
	if alg == "" {
		return nil, ErrUnsupportedKey
	}
	a := &Asserter{
		key:    key,
		method: jwt.GetSigningMethod(alg),
		alg:    alg,
		issuer: issuer,
		ttl:    ttl,
	}
	if _, err := a.Sign(map[string]any{"testing": "1-2"}, "example.com"); err != nil {
		return nil, fmt.Errorf("assertion key failed test signature: %w", err)
	}
	return a, nil
}

// Algorithm returns the JWT algorithm identifier ("ES256" or "RS256").
func (a *Asserter) Algorithm() string { return a.alg }

// PublicKey returns the verification half of the signing key.
func (a *Asserter) PublicKey() crypto.PublicKey { return a.key.Public() }

// Sign serializes auth into JWT claims, adds iss/aud/iat/exp, and returns the
// signed compact token. audience must be the resolved backend URL.
func (a *Asserter) Sign(auth any, audience string) (string, error) {
	raw, err := json.Marshal(auth)
	if err != nil {
		return "", err
	}
	claims := jwt.MapClaims{}
	if err := json.Unmarshal(raw, &claims); err != nil {
		return "", err
	}
	now := time.Now().UTC()
	claims["iss"] = a.issuer
	claims["aud"] = audience
	claims["iat"] = now.Unix()
	claims["exp"] = now.Add(a.ttl).Unix()
	return jwt.NewWithClaims(a.method, claims).SignedString(a.key)
}

// EncodeUnsigned is the fallback assertion used when no signing key is
// configured: base64 of the auth context as plain JSON.
func EncodeUnsigned(auth any) (string, error) {
	raw, err := json.Marshal(auth)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
