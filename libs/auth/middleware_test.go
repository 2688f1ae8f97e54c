package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

func signTestToken(t *testing.T, secret, issuer string, exp time.Time) string {
	t.Helper()
	claims := Claims{
		Email:    "ana@example.com",
		Username: "ana",
		Role:     RoleUser,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   "user-123",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func newRouter() *gin.Engine {
	r := gin.New()
	r.Use(Middleware([]byte("secret"), "audioshop-auth"))
	r.GET("/me", func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.JSON(http.StatusOK, gin.H{"sub": claims.Subject, "role": claims.Role})
	})
	return r
}

func serve(r *gin.Engine, token string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestMiddlewareRejectsMissingToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	if w := serve(newRouter(), ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestMiddlewareAcceptsValidToken(t *testing.T) {
	gin.SetMode(gin.TestMode)

	token := signTestToken(t, "secret", "audioshop-auth", time.Now().Add(time.Hour))
	if w := serve(newRouter(), token); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestMiddlewareRejectsExpiredWrongIssuerOrSecret(t *testing.T) {
	gin.SetMode(gin.TestMode)

	cases := map[string]string{
		"expired":      signTestToken(t, "secret", "audioshop-auth", time.Now().Add(-time.Minute)),
		"wrong issuer": signTestToken(t, "secret", "someone-else", time.Now().Add(time.Hour)),
		"wrong secret": signTestToken(t, "other", "audioshop-auth", time.Now().Add(time.Hour)),
	}
	for name, token := range cases {
		if w := serve(newRouter(), token); w.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, w.Code)
		}
	}
}

func TestExtractBearer(t *testing.T) {
	if got := ExtractBearer("bearer abc "); got != "abc" {
		t.Fatalf("expected abc, got %q", got)
	}
	if got := ExtractBearer("Basic abc"); got != "" {
		t.Fatalf("expected empty for basic auth, got %q", got)
	}
}
