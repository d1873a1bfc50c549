package domain

import "time"

// Kind is what a verification code authorizes.
type Kind string

const (
	// KindLogin codes complete a passwordless or second-factor login.
	KindLogin Kind = "login"
	// KindVerification codes confirm ownership of an email address.
	KindVerification Kind = "verification"
	// KindSignup codes confirm an address during account creation.
	KindSignup Kind = "signup"
)

// Code is one emailed verification code row. Only the sha-256 digest of the
// raw code is stored. State is the caller-generated correlation token that
// must be echoed back when the code is redeemed.
type Code struct {
	CodeSHA256    string
	Type          Kind
	Email         string
	State         string
	CreatedAt     time.Time
	ExpiresAt     time.Time
	ConsumedAt    *time.Time
	InvalidatedAt *time.Time
}
