package testutil

import (
	"time"

	"github.com/AfshinJalili/audioshop/libs/auth"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const TestIssuer = "audioshop-auth"

var (
	DemoUserID  = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	AdminUserID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

func GenerateJWT(userID uuid.UUID, role string, secret []byte, ttl time.Duration, now time.Time) (string, error) {
	claims := auth.Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    TestIssuer,
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}
