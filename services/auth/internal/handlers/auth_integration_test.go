package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/AfshinJalili/audioshop/libs/logging"
	"github.com/AfshinJalili/audioshop/services/auth/internal/rate"
	"github.com/AfshinJalili/audioshop/services/auth/internal/security"
	"github.com/AfshinJalili/audioshop/services/auth/internal/service"
	"github.com/AfshinJalili/audioshop/services/auth/internal/storage"
	"github.com/AfshinJalili/audioshop/services/testutil"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// integrationRouter wires the real service stack against the test database.
func integrationRouter(t *testing.T, limit int) (*gin.Engine, *storage.Store) {
	t.Helper()
	if os.Getenv("RUN_DB_INTEGRATION") == "" {
		t.Skip("set RUN_DB_INTEGRATION=1 to run")
	}

	pool, err := testutil.SetupTestDB()
	if err != nil {
		t.Skipf("db connection failed: %v", err)
	}
	t.Cleanup(pool.Close)

	ctx := context.Background()
	if err := storage.Migrate(ctx, pool); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := testutil.CleanupTestData(ctx, pool); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	t.Cleanup(func() { _ = testutil.CleanupTestData(context.Background(), pool) })

	store := storage.New(pool, 3*time.Second)
	hasher, err := security.NewHasher(security.Argon2Params{Memory: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}, 4)
	if err != nil {
		t.Fatalf("hasher: %v", err)
	}
	issuer := security.NewIssuer(testSecret, testutil.TestIssuer, 15*time.Minute)
	logger := logging.Discard()

	creds := service.NewCredentialValidator(store, hasher, logger, nil)
	sessions := service.NewSessionManager(store, issuer, nil, 30*24*time.Hour, nil, logger, nil)
	accounts := service.NewAccounts(store, hasher, logger)
	handler := NewAuthHandler(creds, sessions, accounts, rate.NewMemory(limit, time.Minute), logger)

	gin.SetMode(gin.TestMode)
	router := gin.New()
	handler.RegisterRoutes(router, []byte(testSecret), testutil.TestIssuer)
	return router, store
}

func registerAndLogin(t *testing.T, router *gin.Engine, username string) loginResponse {
	t.Helper()
	resp := testutil.MakeAPIRequest(router, http.MethodPost, "/auth/register", registerRequest{
		Email:    username + "@example.com",
		Username: username,
		Password: "integration-pass",
	})
	testutil.AssertHTTPStatus(t, resp, http.StatusCreated)

	resp = testutil.MakeAPIRequest(router, http.MethodPost, "/auth/login", loginRequest{
		Identifier: username,
		Password:   "integration-pass",
	})
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)

	var out loginResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return out
}

func TestSessionLifecycleIntegration(t *testing.T) {
	router, store := integrationRouter(t, 100)

	login := registerAndLogin(t, router, "integration")
	if login.AccessToken == "" || login.RefreshToken == "" {
		t.Fatalf("expected tokens, got %+v", login)
	}

	t.Run("refresh keeps the refresh token usable", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			resp := testutil.MakeAPIRequest(router, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: login.RefreshToken})
			testutil.AssertHTTPStatus(t, resp, http.StatusOK)
		}
	})

	t.Run("duplicate registration conflicts", func(t *testing.T) {
		resp := testutil.MakeAPIRequest(router, http.MethodPost, "/auth/register", registerRequest{
			Email: "integration@example.com", Username: "someone-else", Password: "integration-pass",
		})
		testutil.AssertErrorCode(t, resp, testutil.ErrorCodeConflict)
	})

	t.Run("sessions listed for bearer", func(t *testing.T) {
		resp := testutil.MakeAuthRequest(router, http.MethodGet, "/auth/sessions", nil, login.AccessToken)
		testutil.AssertHTTPStatus(t, resp, http.StatusOK)
		var out listSessionsResponse
		if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode sessions: %v", err)
		}
		if len(out.Sessions) != 1 || out.Sessions[0].Status != service.SessionActive {
			t.Fatalf("unexpected sessions: %+v", out.Sessions)
		}
	})

	t.Run("logout revokes", func(t *testing.T) {
		resp := testutil.MakeAPIRequest(router, http.MethodPost, "/auth/logout", refreshRequest{RefreshToken: login.RefreshToken})
		testutil.AssertHTTPStatus(t, resp, http.StatusOK)

		resp = testutil.MakeAPIRequest(router, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: login.RefreshToken})
		testutil.AssertErrorCode(t, resp, testutil.ErrorCodeUnauthorized)
		testutil.AssertErrorMessage(t, resp, "refresh token revoked")
	})

	t.Run("unknown token", func(t *testing.T) {
		resp := testutil.MakeAPIRequest(router, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: "' OR 1=1 --"})
		testutil.AssertErrorCode(t, resp, testutil.ErrorCodeUnauthorized)
		testutil.AssertErrorMessage(t, resp, "invalid refresh token")
	})

	t.Run("expired rows are purged", func(t *testing.T) {
		n, err := store.DeleteExpiredRefreshTokens(context.Background(), time.Now().Add(31*24*time.Hour))
		if err != nil {
			t.Fatalf("purge: %v", err)
		}
		if n != 1 {
			t.Fatalf("expected one purged row, got %d", n)
		}
	})
}

func TestLogoutAllIntegration(t *testing.T) {
	router, _ := integrationRouter(t, 100)

	first := registerAndLogin(t, router, "everywhere")
	resp := testutil.MakeAPIRequest(router, http.MethodPost, "/auth/login", loginRequest{Identifier: "everywhere@example.com", Password: "integration-pass"})
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	var second loginResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &second); err != nil {
		t.Fatalf("decode login: %v", err)
	}

	resp = testutil.MakeAuthRequest(router, http.MethodPost, "/auth/logout-all", nil, first.AccessToken)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)

	for _, token := range []string{first.RefreshToken, second.RefreshToken} {
		resp := testutil.MakeAPIRequest(router, http.MethodPost, "/auth/refresh", refreshRequest{RefreshToken: token})
		testutil.AssertErrorCode(t, resp, testutil.ErrorCodeUnauthorized)
	}

	other, err := testutil.GenerateJWT(uuid.New(), "user", []byte(testSecret), time.Minute, time.Now())
	if err != nil {
		t.Fatalf("jwt: %v", err)
	}
	resp = testutil.MakeAuthRequest(router, http.MethodPost, "/auth/logout-all", nil, other)
	testutil.AssertHTTPStatus(t, resp, http.StatusOK)
	var out revokeResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Revoked {
		t.Fatalf("expected nothing revoked for a user without sessions")
	}
}

func TestLoginRateLimitIntegration(t *testing.T) {
	router, _ := integrationRouter(t, 2)

	for i := 0; i < 2; i++ {
		resp := testutil.MakeAPIRequest(router, http.MethodPost, "/auth/login", loginRequest{Identifier: "nobody", Password: "wrong-pass"})
		testutil.AssertErrorCode(t, resp, testutil.ErrorCodeUnauthorized)
	}
	resp := testutil.MakeAPIRequest(router, http.MethodPost, "/auth/login", loginRequest{Identifier: "nobody", Password: "wrong-pass"})
	testutil.AssertErrorCode(t, resp, testutil.ErrorCodeRateLimited)
}
