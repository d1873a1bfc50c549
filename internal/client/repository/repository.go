package repository

import (
	"context"

	"auth-gateway/internal/client/domain"
)

// Repository defines read access to clients, their roles, and their access
// restrictions.
type Repository interface {
	// GetByID returns the client for id, or nil if unknown. Soft-deleted
	// clients are treated as unknown.
	GetByID(ctx context.Context, id string) (*domain.Client, error)
	// ListRoles returns the client's role ids.
	ListRoles(ctx context.Context, clientID string) ([]string, error)
	// ListAccessRestrictions returns every restriction row for the client.
	ListAccessRestrictions(ctx context.Context, clientID string) ([]*domain.AccessRestriction, error)
}
