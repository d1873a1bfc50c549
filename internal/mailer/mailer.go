// Package mailer delivers login and verification codes to users by email.
package mailer

import "context"

// Mailer sends codes to an email address.
type Mailer interface {
	// SendLoginCode delivers a login code.
	SendLoginCode(ctx context.Context, email, code string) error
	// SendVerificationCode delivers an address-verification code.
	SendVerificationCode(ctx context.Context, email, code string) error
}
