package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"auth-gateway/internal/session/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository using the given db.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Create persists the session row.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sessions (id, user_id, user_agent, ip, created_at, expires_at, invalidated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		s.ID, s.UserID, nullString(s.UserAgent), s.IP, s.CreatedAt, s.ExpiresAt, s.InvalidatedAt)
	return err
}

// CreateToken persists a session or refresh token row.
func (r *PostgresRepository) CreateToken(ctx context.Context, t *domain.Token) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO session_tokens (token_sha256, type, session_id, created_at, expires_at, consumed_at, invalidated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.TokenSHA256, t.Type, t.SessionID, t.CreatedAt, t.ExpiresAt, t.ConsumedAt, t.InvalidatedAt)
	return err
}

// GetByID returns the session for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	s := &domain.Session{}
	var agent sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, user_agent, ip, created_at, expires_at, invalidated_at
		 FROM sessions WHERE id = $1`, id).
		Scan(&s.ID, &s.UserID, &agent, &s.IP, &s.CreatedAt, &s.ExpiresAt, &s.InvalidatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.UserAgent = agent.String
	return s, nil
}

// GetByTokenHash returns the session joined with the matching token row, or
// nil if no token has that digest.
func (r *PostgresRepository) GetByTokenHash(ctx context.Context, tokenSHA256 string) (*domain.SessionWithToken, error) {
	out := &domain.SessionWithToken{}
	var agent sql.NullString
	err := r.db.QueryRowContext(ctx,
		`SELECT s.id, s.user_id, s.user_agent, s.ip, s.created_at, s.expires_at, s.invalidated_at,
		        t.token_sha256, t.type, t.session_id, t.created_at, t.expires_at, t.consumed_at, t.invalidated_at
		 FROM sessions s JOIN session_tokens t ON s.id = t.session_id
		 WHERE t.token_sha256 = $1`, tokenSHA256).
		Scan(&out.Session.ID, &out.Session.UserID, &agent, &out.Session.IP,
			&out.Session.CreatedAt, &out.Session.ExpiresAt, &out.Session.InvalidatedAt,
			&out.Token.TokenSHA256, &out.Token.Type, &out.Token.SessionID,
			&out.Token.CreatedAt, &out.Token.ExpiresAt, &out.Token.ConsumedAt, &out.Token.InvalidatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	out.Session.UserAgent = agent.String
	return out, nil
}

// Invalidate marks the session invalidated at the given time.
func (r *PostgresRepository) Invalidate(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE sessions SET invalidated_at = $2 WHERE id = $1 AND invalidated_at IS NULL`, id, at)
	return err
}

// ConsumeToken marks the refresh token consumed if it has not been consumed
// yet. The condition and the write are one statement so two concurrent
// refresh calls cannot both win.
func (r *PostgresRepository) ConsumeToken(ctx context.Context, tokenSHA256 string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE session_tokens SET consumed_at = $2
		 WHERE token_sha256 = $1 AND consumed_at IS NULL`, tokenSHA256, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// List returns sessions matching filter, newest first, for the given page.
func (r *PostgresRepository) List(ctx context.Context, filter *domain.Filter, page domain.Page) ([]*domain.Session, error) {
	query := `SELECT id, user_id, user_agent, ip, created_at, expires_at, invalidated_at FROM sessions`
	var conds []string
	var args []any
	if filter != nil {
		if filter.UserID != "" {
			args = append(args, filter.UserID)
			conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
		}
		if filter.Created != nil {
			op, err := filter.Created.SQLOp()
			if err != nil {
				return nil, err
			}
			args = append(args, time.UnixMilli(filter.Created.Val).UTC())
			conds = append(conds, fmt.Sprintf("created_at %s $%d", op, len(args)))
		}
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	if page.Size <= 0 {
		page.Size = 25
	}
	if page.Num <= 0 {
		page.Num = 1
	}
	args = append(args, page.Size, (page.Num-1)*page.Size)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		s := &domain.Session{}
		var agent sql.NullString
		if err := rows.Scan(&s.ID, &s.UserID, &agent, &s.IP, &s.CreatedAt, &s.ExpiresAt, &s.InvalidatedAt); err != nil {
			return nil, err
		}
		s.UserAgent = agent.String
		out = append(out, s)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
