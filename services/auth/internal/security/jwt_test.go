package security

import (
	"errors"
	"testing"
	"time"

	"github.com/AfshinJalili/audioshop/libs/auth"
	"github.com/google/uuid"
)

func TestIssueAndDecode(t *testing.T) {
	now := time.Now()
	issuer := NewIssuer("test-secret", "audioshop-auth", 15*time.Minute).WithClock(func() time.Time { return now })
	sub := Subject{UserID: uuid.New(), Email: "ana@example.com", Username: "ana", Role: auth.RoleAdmin}

	signed, err := issuer.Issue(sub)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if got := signed.ExpiresAt.Sub(signed.IssuedAt); got != 15*time.Minute {
		t.Fatalf("expected 15m lifetime, got %s", got)
	}

	claims, err := issuer.Decode(signed.Token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if claims.Subject != sub.UserID.String() || claims.Email != sub.Email || claims.Username != sub.Username || claims.Role != sub.Role {
		t.Fatalf("unexpected claims %+v", claims)
	}
	if !claims.ExpiresAt.Time.Equal(signed.ExpiresAt) {
		t.Fatalf("expected exp %v, got %v", signed.ExpiresAt, claims.ExpiresAt.Time)
	}
	if claims.Issuer != "audioshop-auth" {
		t.Fatalf("unexpected issuer %q", claims.Issuer)
	}
}

func TestDecodeRejectsForeignAndExpiredTokens(t *testing.T) {
	issuer := NewIssuer("test-secret", "audioshop-auth", time.Minute)
	other := NewIssuer("other-secret", "audioshop-auth", time.Minute)
	expired := NewIssuer("test-secret", "audioshop-auth", time.Minute).WithClock(func() time.Time { return time.Now().Add(-time.Hour) })

	foreign, _ := other.Issue(Subject{UserID: uuid.New()})
	old, _ := expired.Issue(Subject{UserID: uuid.New()})

	for name, token := range map[string]string{"foreign": foreign.Token, "expired": old.Token, "garbage": "not-a-jwt"} {
		if _, err := issuer.Decode(token); !errors.Is(err, auth.ErrInvalidToken) {
			t.Fatalf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}
