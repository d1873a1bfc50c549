package repository

import (
	"context"

	"auth-gateway/internal/apidir/domain"
)

// Repository defines read access to the API directory.
type Repository interface {
	// ListVersions returns every version of the named API, or an empty slice
	// if the API is unknown.
	ListVersions(ctx context.Context, apiDomain string) ([]*domain.Api, error)
}
