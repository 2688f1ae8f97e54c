package storage

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is the subset of pgx used by Store; satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	db           DBTX
	queryTimeout time.Duration
}

func New(pool *pgxpool.Pool, queryTimeout time.Duration) *Store {
	return NewWithDB(pool, queryTimeout)
}

func NewWithDB(db DBTX, queryTimeout time.Duration) *Store {
	if queryTimeout <= 0 {
		queryTimeout = 3 * time.Second
	}
	return &Store{db: db, queryTimeout: queryTimeout}
}

func (s *Store) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.queryTimeout)
}

const userColumns = `id, email, username, password_hash, first_name, last_name, is_active, role, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.FirstName, &u.LastName, &u.IsActive, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByIdentifier matches the identifier against email or username,
// case-insensitively.
func (s *Store) GetUserByIdentifier(ctx context.Context, identifier string) (*User, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	user, err := scanUser(s.db.QueryRow(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE email = $1 OR username = $1
		LIMIT 1
	`, strings.ToLower(strings.TrimSpace(identifier))))
	if err != nil {
		return nil, classify("get user by identifier", err)
	}
	return user, nil
}

func (s *Store) CreateUser(ctx context.Context, u User) (*User, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	if u.Role == "" {
		u.Role = "user"
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO users (email, username, password_hash, first_name, last_name, is_active, role)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, strings.ToLower(u.Email), strings.ToLower(u.Username), u.PasswordHash, u.FirstName, u.LastName, u.IsActive, u.Role).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, classify("create user", err)
	}
	u.Email = strings.ToLower(u.Email)
	u.Username = strings.ToLower(u.Username)
	return &u, nil
}

func (s *Store) CreateRefreshToken(ctx context.Context, t RefreshToken) (*RefreshToken, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	err := s.db.QueryRow(ctx, `
		INSERT INTO refresh_tokens (token, user_id, expires_at, ip_address, user_agent)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, is_revoked, created_at, updated_at
	`, t.TokenHash, t.UserID, t.ExpiresAt, t.IPAddress, t.UserAgent).
		Scan(&t.ID, &t.IsRevoked, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, classify("create refresh token", err)
	}
	return &t, nil
}

// FindRefreshToken returns the token together with its owning user.
func (s *Store) FindRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var t RefreshToken
	var u User
	err := s.db.QueryRow(ctx, `
		SELECT rt.id, rt.token, rt.user_id, rt.expires_at, rt.is_revoked, rt.ip_address, rt.user_agent, rt.created_at, rt.updated_at,
		       u.id, u.email, u.username, u.password_hash, u.first_name, u.last_name, u.is_active, u.role, u.created_at, u.updated_at
		FROM refresh_tokens rt
		JOIN users u ON u.id = rt.user_id
		WHERE rt.token = $1
	`, tokenHash).Scan(
		&t.ID, &t.TokenHash, &t.UserID, &t.ExpiresAt, &t.IsRevoked, &t.IPAddress, &t.UserAgent, &t.CreatedAt, &t.UpdatedAt,
		&u.ID, &u.Email, &u.Username, &u.PasswordHash, &u.FirstName, &u.LastName, &u.IsActive, &u.Role, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, classify("find refresh token", err)
	}
	t.User = &u
	return &t, nil
}

func (s *Store) ListRefreshTokensForUser(ctx context.Context, userID uuid.UUID) ([]RefreshToken, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	rows, err := s.db.Query(ctx, `
		SELECT id, token, user_id, expires_at, is_revoked, ip_address, user_agent, created_at, updated_at
		FROM refresh_tokens
		WHERE user_id = $1
		ORDER BY created_at DESC, id
	`, userID)
	if err != nil {
		return nil, classify("list refresh tokens", err)
	}
	defer rows.Close()

	var out []RefreshToken
	for rows.Next() {
		var t RefreshToken
		if err := rows.Scan(&t.ID, &t.TokenHash, &t.UserID, &t.ExpiresAt, &t.IsRevoked, &t.IPAddress, &t.UserAgent, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, classify("scan refresh token", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list refresh tokens", err)
	}
	return out, nil
}

// RevokeRefreshToken marks the token revoked. It reports whether the token
// exists; revoking twice is harmless and never clears the flag.
func (s *Store) RevokeRefreshToken(ctx context.Context, tokenHash string) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	tag, err := s.db.Exec(ctx, `
		UPDATE refresh_tokens
		SET is_revoked = TRUE,
		    updated_at = CASE WHEN is_revoked THEN updated_at ELSE now() END
		WHERE token = $1
	`, tokenHash)
	if err != nil {
		return false, classify("revoke refresh token", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RevokeAllRefreshTokens revokes every token of the user whatever its expiry.
func (s *Store) RevokeAllRefreshTokens(ctx context.Context, userID uuid.UUID) (bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	tag, err := s.db.Exec(ctx, `
		UPDATE refresh_tokens
		SET is_revoked = TRUE,
		    updated_at = CASE WHEN is_revoked THEN updated_at ELSE now() END
		WHERE user_id = $1
	`, userID)
	if err != nil {
		return false, classify("revoke all refresh tokens", err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteExpiredRefreshTokens removes rows with expires_at strictly before now.
// Revoked rows that have not expired are kept.
func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	tag, err := s.db.Exec(ctx, `
		DELETE FROM refresh_tokens
		WHERE expires_at < $1
	`, now)
	if err != nil {
		return 0, classify("delete expired refresh tokens", err)
	}
	return tag.RowsAffected(), nil
}
