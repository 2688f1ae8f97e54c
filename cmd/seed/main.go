package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/crypto/argon2"
)

var (
	demoUserID  = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	adminUserID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

type seedUser struct {
	ID       uuid.UUID
	Email    string
	Username string
	Password string
	First    string
	Last     string
	Role     string
	Active   bool
}

func main() {
	env := getEnv("AUDIOSHOP_ENV", "dev")
	if env != "dev" && env != "test" {
		log.Fatalf("refusing to seed: AUDIOSHOP_ENV must be 'dev' or 'test' (got '%s')", env)
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		getEnv("POSTGRES_USER", "audioshop"),
		getEnv("POSTGRES_PASSWORD", "audioshop"),
		getEnv("POSTGRES_HOST", "localhost"),
		getEnv("POSTGRES_PORT", "5432"),
		getEnv("POSTGRES_DB", "audioshop"),
		getEnv("POSTGRES_SSLMODE", "disable"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("connect db: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping db: %v", err)
	}

	fmt.Println("Seeding database...")

	users := []seedUser{
		{ID: demoUserID, Email: "demo@example.com", Username: "demo", Password: "demo12345", First: "Demo", Last: "Listener", Role: "user", Active: true},
		{ID: adminUserID, Email: "admin@example.com", Username: "admin", Password: "admin12345", First: "Shop", Last: "Admin", Role: "admin", Active: true},
	}
	if err := seedUsers(ctx, pool, users); err != nil {
		log.Fatalf("seed users: %v", err)
	}
	fmt.Println("✓ Users seeded")

	if os.Getenv("SEED_TESTDATA") == "1" {
		if err := seedTestData(ctx, pool); err != nil {
			log.Fatalf("seed test data: %v", err)
		}
		fmt.Println("✓ Test data seeded")
	}

	fmt.Println("\n=== Seed Complete ===")
	fmt.Println("\nDemo Credentials:")
	for _, u := range users {
		fmt.Printf("  %s / %s (password: %s)\n", u.Email, u.Username, u.Password)
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

type argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

var seedParams = argon2Params{
	Memory:      64 * 1024,
	Iterations:  3,
	Parallelism: 2,
	SaltLength:  16,
	KeyLength:   32,
}

// hashPassword produces the same encoding the auth service verifies.
func hashPassword(password string, params argon2Params) (string, error) {
	salt := make([]byte, params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLength)
	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	encoded := fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s", argon2.Version, params.Memory, params.Iterations, params.Parallelism, b64Salt, b64Hash)
	return encoded, nil
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool, users []seedUser) error {
	now := time.Now()
	for _, u := range users {
		hash, err := hashPassword(u.Password, seedParams)
		if err != nil {
			return fmt.Errorf("hash %s password: %w", u.Username, err)
		}

		_, err = pool.Exec(ctx, `
			INSERT INTO users (id, email, username, password_hash, first_name, last_name, is_active, role, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
			ON CONFLICT (email) DO UPDATE
			SET password_hash = EXCLUDED.password_hash,
			    first_name = EXCLUDED.first_name,
			    last_name = EXCLUDED.last_name,
			    is_active = EXCLUDED.is_active,
			    role = EXCLUDED.role,
			    updated_at = EXCLUDED.updated_at
		`, u.ID, u.Email, u.Username, hash, u.First, u.Last, u.Active, u.Role, now)
		if err != nil {
			return fmt.Errorf("upsert %s: %w", u.Username, err)
		}
	}
	return nil
}
