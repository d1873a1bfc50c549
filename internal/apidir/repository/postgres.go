package repository

import (
	"context"
	"database/sql"

	"auth-gateway/internal/apidir/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an API directory repository using the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// ListVersions returns every version of the named API ordered by version.
func (r *PostgresRepository) ListVersions(ctx context.Context, apiDomain string) ([]*domain.Api, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT domain, version, url, allow_unidentified, active, deprecated, created_at
		 FROM apis WHERE domain = $1 ORDER BY version`, apiDomain)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Api
	for rows.Next() {
		a := &domain.Api{}
		if err := rows.Scan(&a.Domain, &a.Version, &a.URL, &a.AllowUnidentified, &a.Active, &a.Deprecated, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
