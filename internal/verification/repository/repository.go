package repository

import (
	"context"
	"time"

	"auth-gateway/internal/verification/domain"
)

// Repository defines persistence for verification codes.
type Repository interface {
	// Create persists the code row.
	Create(ctx context.Context, c *domain.Code) error
	// GetByHash returns the code whose digest matches, or nil if not found.
	GetByHash(ctx context.Context, codeSHA256 string) (*domain.Code, error)
	// GetPendingLogin returns the newest outstanding login code correlated
	// with state, or nil if none exists.
	GetPendingLogin(ctx context.Context, state string) (*domain.Code, error)
	// Consume marks the code consumed if it has not been consumed yet, as one
	// conditional update. Returns true when this call won the code.
	Consume(ctx context.Context, codeSHA256 string, at time.Time) (bool, error)
	// InvalidateOutstanding invalidates every live code of the given kind for
	// the email, so only the most recently issued code can be redeemed.
	InvalidateOutstanding(ctx context.Context, email string, kind domain.Kind, at time.Time) error
}
