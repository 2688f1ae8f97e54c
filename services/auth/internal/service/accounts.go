package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AfshinJalili/audioshop/libs/auth"
	"github.com/AfshinJalili/audioshop/services/auth/internal/storage"
)

type UserCreator interface {
	CreateUser(ctx context.Context, u storage.User) (*storage.User, error)
}

type RegisterInput struct {
	Email     string
	Username  string
	Password  string
	FirstName string
	LastName  string
}

// Accounts registers users. Input is expected to be validated by the caller.
type Accounts struct {
	users  UserCreator
	hasher PasswordHasher
	logger *slog.Logger
}

func NewAccounts(users UserCreator, hasher PasswordHasher, logger *slog.Logger) *Accounts {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accounts{users: users, hasher: hasher, logger: logger}
}

func (a *Accounts) Register(ctx context.Context, input RegisterInput) (Identity, error) {
	hash, err := a.hasher.Hash(ctx, input.Password)
	if err != nil {
		return Identity{}, fmt.Errorf("hash password: %w", err)
	}

	user, err := a.users.CreateUser(ctx, storage.User{
		Email:        strings.ToLower(strings.TrimSpace(input.Email)),
		Username:     strings.ToLower(strings.TrimSpace(input.Username)),
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		IsActive:     true,
		Role:         auth.RoleUser,
	})
	switch {
	case errors.Is(err, storage.ErrDuplicateEmail):
		return Identity{}, ErrEmailTaken
	case errors.Is(err, storage.ErrDuplicateUsername):
		return Identity{}, ErrUsernameTaken
	case err != nil:
		return Identity{}, fmt.Errorf("create user: %w", err)
	}

	a.logger.Info("user registered", "user_id", user.ID)
	return identityFromUser(user), nil
}
