package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AfshinJalili/audioshop/services/auth/internal/storage"
)

type UserStore interface {
	GetUserByIdentifier(ctx context.Context, identifier string) (*storage.User, error)
}

type PasswordHasher interface {
	Hash(ctx context.Context, password string) (string, error)
	Verify(ctx context.Context, password, encoded string) (bool, error)
	VerifyDummy(ctx context.Context, password string)
}

// CredentialValidator checks an identifier/password pair. It never writes.
type CredentialValidator struct {
	users   UserStore
	hasher  PasswordHasher
	logger  *slog.Logger
	metrics *Metrics
}

func NewCredentialValidator(users UserStore, hasher PasswordHasher, logger *slog.Logger, metrics *Metrics) *CredentialValidator {
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialValidator{
		users:   users,
		hasher:  hasher,
		logger:  logger,
		metrics: metrics,
	}
}

// Validate resolves identifier as an email or username. Unknown users,
// inactive users and wrong passwords all yield ErrInvalidCredentials.
func (v *CredentialValidator) Validate(ctx context.Context, identifier, password string) (Identity, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		v.metrics.IncLogin(loginInvalid)
		return Identity{}, ErrInvalidCredentials
	}

	user, err := v.users.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			v.hasher.VerifyDummy(ctx, password)
			v.metrics.IncLogin(loginInvalid)
			return Identity{}, ErrInvalidCredentials
		}
		v.metrics.IncLogin(loginError)
		return Identity{}, fmt.Errorf("lookup user: %w", err)
	}

	ok, err := v.hasher.Verify(ctx, password, user.PasswordHash)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Identity{}, ctxErr
		}
		v.logger.Error("password verification failed", "user_id", user.ID, "error", err)
		ok = false
	}
	if !ok || !user.IsActive {
		v.metrics.IncLogin(loginInvalid)
		return Identity{}, ErrInvalidCredentials
	}

	return identityFromUser(user), nil
}
