package service

import (
	"github.com/AfshinJalili/audioshop/services/auth/internal/security"
	"github.com/AfshinJalili/audioshop/services/auth/internal/storage"
	"github.com/google/uuid"
)

// Identity is the authenticated user as seen by callers of this package.
type Identity struct {
	UserID    uuid.UUID
	Email     string
	Username  string
	FirstName string
	LastName  string
	Role      string
}

func identityFromUser(u *storage.User) Identity {
	return Identity{
		UserID:    u.ID,
		Email:     u.Email,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
	}
}

func (i Identity) subject() security.Subject {
	return security.Subject{
		UserID:   i.UserID,
		Email:    i.Email,
		Username: i.Username,
		Role:     i.Role,
	}
}
