package repository

import (
	"context"
	"time"

	"auth-gateway/internal/session/domain"
)

// Repository defines persistence for sessions and their tokens.
type Repository interface {
	// Create persists the session row. The session must have ID set.
	Create(ctx context.Context, s *domain.Session) error
	// CreateToken persists a session or refresh token row.
	CreateToken(ctx context.Context, t *domain.Token) error
	// GetByID returns the session for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// GetByTokenHash returns the session joined with the matching token row,
	// or nil if no token has that digest.
	GetByTokenHash(ctx context.Context, tokenSHA256 string) (*domain.SessionWithToken, error)
	// Invalidate marks the session invalidated at the given time.
	Invalidate(ctx context.Context, id string, at time.Time) error
	// ConsumeToken marks the refresh token consumed if and only if it has not
	// been consumed yet, as one conditional update. Returns true when this
	// call won the token.
	ConsumeToken(ctx context.Context, tokenSHA256 string, at time.Time) (bool, error)
	// List returns sessions matching filter, newest first, for the given page.
	List(ctx context.Context, filter *domain.Filter, page domain.Page) ([]*domain.Session, error)
}
