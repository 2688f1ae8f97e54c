package storage

import (
	"time"

	"github.com/google/uuid"
)

type User struct {
	ID           uuid.UUID
	Email        string
	Username     string
	PasswordHash string
	FirstName    string
	LastName     string
	IsActive     bool
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RefreshToken is one session. TokenHash is the sha256 of the opaque value
// given to the client.
type RefreshToken struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	TokenHash string
	ExpiresAt time.Time
	IsRevoked bool
	IPAddress *string
	UserAgent *string
	CreatedAt time.Time
	UpdatedAt time.Time

	// User is populated by FindRefreshToken only.
	User *User
}

func (t RefreshToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

// Valid reports whether the token may still be exchanged for access tokens.
func (t RefreshToken) Valid(now time.Time) bool {
	return !t.IsRevoked && !t.Expired(now)
}
