package repository

import (
	"context"

	"auth-gateway/internal/user/domain"
)

// Repository defines read access to users, their emails, and their roles.
type Repository interface {
	// GetByID returns the user for id, or nil if unknown.
	GetByID(ctx context.Context, id string) (*domain.User, error)
	// GetEmail returns the email row for address, or nil if unknown.
	GetEmail(ctx context.Context, address string) (*domain.Email, error)
	// ListRoles returns the user's role ids.
	ListRoles(ctx context.Context, userID string) ([]string, error)
}
