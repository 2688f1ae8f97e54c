package security

import (
	"fmt"
	"time"

	"github.com/AfshinJalili/audioshop/libs/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type Subject struct {
	UserID   uuid.UUID
	Email    string
	Username string
	Role     string
}

type SignedToken struct {
	Token     string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Issuer signs HS256 access tokens. Its fields are set once at startup.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret string, issuer string, ttl time.Duration) *Issuer {
	return &Issuer{
		secret: []byte(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock returns a copy of the issuer reading time from now.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	cp := *i
	cp.now = now
	return &cp
}

func (i *Issuer) Issue(sub Subject) (SignedToken, error) {
	now := i.now().Truncate(time.Second)
	exp := now.Add(i.ttl)
	claims := auth.Claims{
		Email:    sub.Email,
		Username: sub.Username,
		Role:     sub.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.issuer,
			Subject:   sub.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return SignedToken{}, fmt.Errorf("sign access token: %w", err)
	}
	return SignedToken{Token: signed, IssuedAt: now, ExpiresAt: exp}, nil
}

// Decode verifies token and returns its claims, or auth.ErrInvalidToken.
func (i *Issuer) Decode(token string) (*auth.Claims, error) {
	return auth.ParseJWT(token, i.secret, i.issuer)
}
