package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrDuplicateToken    = errors.New("duplicate refresh token")
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrDuplicateUsername = errors.New("username already registered")
	// ErrStorage marks connectivity, timeout and other driver failures. Callers
	// may retry.
	ErrStorage = errors.New("storage unavailable")
)

const (
	pgUniqueViolation = "23505"

	constraintRefreshToken = "refresh_tokens_token_key"
	constraintUserEmail    = "users_email_key"
	constraintUserUsername = "users_username_key"
)

type opError struct {
	op  string
	err error
}

func (e *opError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.op, ErrStorage, e.err)
}

func (e *opError) Unwrap() []error {
	return []error{ErrStorage, e.err}
}

// classify maps driver errors onto the package sentinels. Timeouts and every
// unknown failure become ErrStorage so nothing fails open.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		switch pgErr.ConstraintName {
		case constraintRefreshToken:
			return ErrDuplicateToken
		case constraintUserEmail:
			return ErrDuplicateEmail
		case constraintUserUsername:
			return ErrDuplicateUsername
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &opError{op: op + " (timeout)", err: err}
	}
	return &opError{op: op, err: err}
}
