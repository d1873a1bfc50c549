// Package verification issues and redeems single-use emailed codes. A code is
// bound to an email, a kind, and a caller-generated state token; redeeming it
// requires all three to line up, and each code can be redeemed exactly once.
package verification

import (
	"context"
	"errors"
	"time"

	"auth-gateway/internal/security"
	"auth-gateway/internal/verification/domain"
	"auth-gateway/internal/verification/repository"
)

var (
	ErrInvalidState  = errors.New("state is not a valid correlation token")
	ErrNotFound      = errors.New("code not found")
	ErrWrongType     = errors.New("code is of a different type")
	ErrStateMismatch = errors.New("code state does not match")
	ErrExpired       = errors.New("code expired")
	ErrConsumed      = errors.New("code already consumed")
	ErrInvalidated   = errors.New("code invalidated")
)

type Service struct {
	repo repository.Repository
	nowF func() time.Time
}

// NewService returns a verification code service over repo.
func NewService(repo repository.Repository) *Service {
	return &Service{repo: repo, nowF: time.Now}
}

// Issue invalidates any outstanding codes of the same kind for the email and
// creates a fresh one. The raw code is returned exactly once; only its digest
// is stored. state must be a 32-hex-char caller token.
func (s *Service) Issue(ctx context.Context, kind domain.Kind, email, state string, ttl time.Duration) (string, error) {
	if !security.IsState(state) {
		return "", ErrInvalidState
	}
	now := s.nowF().UTC()
	if err := s.repo.InvalidateOutstanding(ctx, email, kind, now); err != nil {
		return "", err
	}
	raw, err := security.NewRawToken()
	if err != nil {
		return "", err
	}
	code := &domain.Code{
		CodeSHA256: security.HashToken(raw),
		Type:       kind,
		Email:      email,
		State:      state,
		CreatedAt:  now,
		ExpiresAt:  now.Add(ttl),
	}
	if err := s.repo.Create(ctx, code); err != nil {
		return "", err
	}
	return raw, nil
}

// PendingLogin returns the outstanding login code correlated with state, or
// nil when none exists. Used by the TOTP step to find the login it completes.
func (s *Service) PendingLogin(ctx context.Context, state string) (*domain.Code, error) {
	if !security.IsState(state) {
		return nil, nil
	}
	return s.repo.GetPendingLogin(ctx, state)
}

// ConsumePending marks a pending code consumed. Returns ErrConsumed when
// another caller got there first.
func (s *Service) ConsumePending(ctx context.Context, codeSHA256 string) error {
	won, err := s.repo.Consume(ctx, codeSHA256, s.nowF().UTC())
	if err != nil {
		return err
	}
	if !won {
		return ErrConsumed
	}
	return nil
}

// Redeem consumes the code, checking in order: existence, kind, state,
// expiry, invalidation, and finally prior consumption via the conditional
// update. Returns the code row on success.
func (s *Service) Redeem(ctx context.Context, kind domain.Kind, rawCode, state string) (*domain.Code, error) {
	if !security.IsRawToken(rawCode) {
		return nil, ErrNotFound
	}
	code, err := s.repo.GetByHash(ctx, security.HashToken(rawCode))
	if err != nil {
		return nil, err
	}
	if code == nil {
		return nil, ErrNotFound
	}
	if code.Type != kind {
		return nil, ErrWrongType
	}
	if code.State != state {
		return nil, ErrStateMismatch
	}
	now := s.nowF().UTC()
	if now.After(code.ExpiresAt) {
		return nil, ErrExpired
	}
	if code.InvalidatedAt != nil {
		return nil, ErrInvalidated
	}
	won, err := s.repo.Consume(ctx, code.CodeSHA256, now)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrConsumed
	}
	return code, nil
}
