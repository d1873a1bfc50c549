package repository

import (
	"context"
	"database/sql"
	"errors"

	"auth-gateway/internal/client/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a client repository using the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the client for id, or nil if not found or soft-deleted.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Client, error) {
	c := &domain.Client{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, secret_bcrypt, organization_id, reqs_per_sec, created_at, deleted_at
		 FROM clients WHERE id = $1 AND deleted_at IS NULL`, id).
		Scan(&c.ID, &c.Name, &c.SecretBcrypt, &c.OrganizationID, &c.ReqsPerSec, &c.CreatedAt, &c.DeletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// ListRoles returns the client's role ids.
func (r *PostgresRepository) ListRoles(ctx context.Context, clientID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT role_id FROM client_roles WHERE client_id = $1`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

// ListAccessRestrictions returns every restriction row for the client.
func (r *PostgresRepository) ListAccessRestrictions(ctx context.Context, clientID string) ([]*domain.AccessRestriction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, client_id, type, value
		 FROM client_access_restrictions WHERE client_id = $1`, clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.AccessRestriction
	for rows.Next() {
		a := &domain.AccessRestriction{}
		if err := rows.Scan(&a.ID, &a.ClientID, &a.Type, &a.Value); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
