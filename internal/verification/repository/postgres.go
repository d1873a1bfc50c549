package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"auth-gateway/internal/verification/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a verification code repository using the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the code row.
func (r *PostgresRepository) Create(ctx context.Context, c *domain.Code) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO verification_codes (code_sha256, type, email, state, created_at, expires_at, consumed_at, invalidated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.CodeSHA256, c.Type, c.Email, c.State, c.CreatedAt, c.ExpiresAt, c.ConsumedAt, c.InvalidatedAt)
	return err
}

// GetByHash returns the code whose digest matches, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByHash(ctx context.Context, codeSHA256 string) (*domain.Code, error) {
	c := &domain.Code{}
	err := r.db.QueryRowContext(ctx,
		`SELECT code_sha256, type, email, state, created_at, expires_at, consumed_at, invalidated_at
		 FROM verification_codes WHERE code_sha256 = $1`, codeSHA256).
		Scan(&c.CodeSHA256, &c.Type, &c.Email, &c.State, &c.CreatedAt, &c.ExpiresAt, &c.ConsumedAt, &c.InvalidatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// GetPendingLogin returns the newest outstanding login code correlated with
// state, or nil if none exists.
func (r *PostgresRepository) GetPendingLogin(ctx context.Context, state string) (*domain.Code, error) {
	c := &domain.Code{}
	err := r.db.QueryRowContext(ctx,
		`SELECT code_sha256, type, email, state, created_at, expires_at, consumed_at, invalidated_at
		 FROM verification_codes
		 WHERE type = 'login' AND state = $1 AND consumed_at IS NULL AND invalidated_at IS NULL
		 ORDER BY created_at DESC LIMIT 1`, state).
		Scan(&c.CodeSHA256, &c.Type, &c.Email, &c.State, &c.CreatedAt, &c.ExpiresAt, &c.ConsumedAt, &c.InvalidatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return c, nil
}

// Consume marks the code consumed if it has not been consumed yet. The
// condition and the write are one statement so two concurrent redemptions
// cannot both win.
func (r *PostgresRepository) Consume(ctx context.Context, codeSHA256 string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE verification_codes SET consumed_at = $2
		 WHERE code_sha256 = $1 AND consumed_at IS NULL`, codeSHA256, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// InvalidateOutstanding invalidates every live code of the given kind for the
// email.
func (r *PostgresRepository) InvalidateOutstanding(ctx context.Context, email string, kind domain.Kind, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE verification_codes SET invalidated_at = $3
		 WHERE email = $1 AND type = $2 AND consumed_at IS NULL AND invalidated_at IS NULL`,
		email, kind, at)
	return err
}
