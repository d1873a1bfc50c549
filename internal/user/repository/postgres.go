package repository

import (
	"context"
	"database/sql"
	"errors"

	"auth-gateway/internal/user/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository using the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	u := &domain.User{}
	var pw, totp sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, password_bcrypt, totp_secret, banned_at, deleted_at, created_at
		 FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Name, &pw, &totp, &u.BannedAt, &u.DeletedAt, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.PasswordBcrypt = pw.String
	u.TOTPSecret = totp.String
	return u, nil
}

// GetEmail returns the email row for address, or nil if not found.
func (r *PostgresRepository) GetEmail(ctx context.Context, address string) (*domain.Email, error) {
	e := &domain.Email{}
	err := r.db.QueryRowContext(ctx,
		`SELECT email, user_id, verified_at, created_at FROM emails WHERE email = $1`, address).
		Scan(&e.Email, &e.UserID, &e.VerifiedAt, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// ListRoles returns the user's role ids.
func (r *PostgresRepository) ListRoles(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT role_id FROM user_roles WHERE user_id = $1`, userID)
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
