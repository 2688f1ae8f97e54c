package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

var inactiveUserID = uuid.MustParse("00000000-0000-0000-0000-000000000003")

// Raw refresh tokens seeded for manual testing of the refresh endpoint.
const (
	expiredRefreshToken = "seed-expired-refresh-token"
	revokedRefreshToken = "seed-revoked-refresh-token"
)

func seedTestData(ctx context.Context, pool *pgxpool.Pool) error {
	if err := seedUsers(ctx, pool, []seedUser{
		{ID: inactiveUserID, Email: "inactive@example.com", Username: "inactive", Password: "inactive123", Role: "user", Active: false},
	}); err != nil {
		return err
	}

	now := time.Now()
	tokens := []struct {
		raw       string
		expiresAt time.Time
		revoked   bool
	}{
		{raw: expiredRefreshToken, expiresAt: now.Add(-24 * time.Hour)},
		{raw: revokedRefreshToken, expiresAt: now.Add(7 * 24 * time.Hour), revoked: true},
	}

	for _, t := range tokens {
		_, err := pool.Exec(ctx, `
			INSERT INTO refresh_tokens (token, user_id, expires_at, is_revoked, ip_address, user_agent)
			VALUES ($1, $2, $3, $4, '127.0.0.1', 'seed')
			ON CONFLICT (token) DO UPDATE
			SET expires_at = EXCLUDED.expires_at,
			    is_revoked = EXCLUDED.is_revoked
		`, hashToken(t.raw), demoUserID, t.expiresAt, t.revoked)
		if err != nil {
			return fmt.Errorf("seed refresh token: %w", err)
		}
	}
	return nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
