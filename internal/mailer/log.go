package mailer

import (
	"context"
	"log/slog"
)

// LogMailer writes codes to the log instead of sending email. For local
// development only.
type LogMailer struct{}

func (LogMailer) SendLoginCode(ctx context.Context, email, code string) error {
	slog.Info("login code issued", "email", email, "code", code)
	return nil
}

func (LogMailer) SendVerificationCode(ctx context.Context, email, code string) error {
	slog.Info("verification code issued", "email", email, "code", code)
	return nil
}
