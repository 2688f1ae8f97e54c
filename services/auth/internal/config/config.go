package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/AfshinJalili/audioshop/libs/config"
	"github.com/AfshinJalili/audioshop/services/auth/internal/security"
)

const serviceName = "auth"

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

type DBConfig struct {
	Host         string
	Port         int
	Name         string
	User         string
	Password     string
	SSLMode      string
	MaxConns     int32
	QueryTimeout time.Duration
	AutoMigrate  bool
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.Name,
		c.SSLMode,
	)
}

type RateLimitRedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type RateLimitConfig struct {
	LoginLimit int
	Window     time.Duration
	Redis      RateLimitRedisConfig
}

type KafkaConfig struct {
	Brokers       []string
	SessionsTopic string
	DLQTopic      string
	Timeout       time.Duration
	EventBuffer   int
}

type SweepConfig struct {
	Enabled   bool
	Intervals []time.Duration
	Timeout   time.Duration
}

type Config struct {
	App                 base.AppConfig
	JWTSecret           string
	JWTIssuer           string
	AccessTokenTTL      time.Duration
	RefreshTokenTTL     time.Duration
	Argon2              Argon2Params
	MaxConcurrentHashes int64
	DB                  DBConfig
	RateLimit           RateLimitConfig
	Kafka               KafkaConfig
	Sweep               SweepConfig
	OTLPEndpoint        string
}

func Load() (*Config, error) {
	appCfg, err := base.Load(os.Getenv("AUDIOSHOP_CONFIG"), serviceName)
	if err != nil {
		return nil, err
	}

	argon2Params, err := loadArgon2()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App:                 *appCfg,
		JWTSecret:           envString("AUDIOSHOP_JWT_SECRET", ""),
		JWTIssuer:           envString("AUDIOSHOP_JWT_ISSUER", "audioshop-auth"),
		AccessTokenTTL:      envDuration("AUDIOSHOP_ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:     envDuration("AUDIOSHOP_REFRESH_TOKEN_TTL", 30*24*time.Hour),
		MaxConcurrentHashes: int64(envInt("AUDIOSHOP_MAX_CONCURRENT_HASHES", 8)),
		Argon2:              argon2Params,
		DB:                  LoadDB(),
		RateLimit: RateLimitConfig{
			LoginLimit: envInt("AUDIOSHOP_LOGIN_RATE_LIMIT", 10),
			Window:     envDuration("AUDIOSHOP_LOGIN_RATE_WINDOW", 1*time.Minute),
			Redis: RateLimitRedisConfig{
				Addr:     envString("AUDIOSHOP_RATE_LIMIT_REDIS_ADDR", ""),
				Password: envString("AUDIOSHOP_RATE_LIMIT_REDIS_PASSWORD", ""),
				DB:       envInt("AUDIOSHOP_RATE_LIMIT_REDIS_DB", 0),
				Prefix:   envString("AUDIOSHOP_RATE_LIMIT_REDIS_PREFIX", "audioshop:auth:rl:"),
			},
		},
		Kafka: KafkaConfig{
			Brokers:       envList("AUDIOSHOP_KAFKA_BROKERS"),
			SessionsTopic: envString("AUDIOSHOP_KAFKA_SESSIONS_TOPIC", "auth.sessions"),
			DLQTopic:      envString("AUDIOSHOP_KAFKA_DLQ_TOPIC", "auth.sessions.dlq"),
			Timeout:       envDuration("AUDIOSHOP_KAFKA_TIMEOUT", 5*time.Second),
			EventBuffer:   envInt("AUDIOSHOP_KAFKA_EVENT_BUFFER", 256),
		},
		Sweep: SweepConfig{
			Enabled:   envBool("AUDIOSHOP_SWEEP_ENABLED", true),
			Intervals: envDurations("AUDIOSHOP_SWEEP_INTERVALS", []time.Duration{time.Hour, 24 * time.Hour}),
			Timeout:   envDuration("AUDIOSHOP_SWEEP_TIMEOUT", 30*time.Second),
		},
		OTLPEndpoint: envString("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDB reads only the database settings. Used by tools that do not need
// the signing secret.
func LoadDB() DBConfig {
	return DBConfig{
		Host:         envString("POSTGRES_HOST", "localhost"),
		Port:         envInt("POSTGRES_PORT", 5432),
		Name:         envString("POSTGRES_DB", "audioshop"),
		User:         envString("POSTGRES_USER", "audioshop"),
		Password:     envString("POSTGRES_PASSWORD", "audioshop"),
		SSLMode:      envString("POSTGRES_SSLMODE", "disable"),
		MaxConns:     int32(envInt("POSTGRES_MAX_CONNS", 10)),
		QueryTimeout: envDuration("POSTGRES_QUERY_TIMEOUT", 3*time.Second),
		AutoMigrate:  envBool("AUDIOSHOP_AUTO_MIGRATE", true),
	}
}

// loadArgon2 range-checks the raw values before narrowing them.
func loadArgon2() (Argon2Params, error) {
	bounds := []struct {
		key      string
		def, max int
	}{
		{key: "AUDIOSHOP_ARGON2_MEMORY", def: 64 * 1024, max: security.MaxArgon2Memory},
		{key: "AUDIOSHOP_ARGON2_ITERATIONS", def: 3, max: 64},
		{key: "AUDIOSHOP_ARGON2_PARALLELISM", def: 2, max: math.MaxUint8},
		{key: "AUDIOSHOP_ARGON2_SALT_LENGTH", def: 16, max: 1024},
		{key: "AUDIOSHOP_ARGON2_KEY_LENGTH", def: 32, max: 1024},
	}
	values := make([]int, len(bounds))
	for i, b := range bounds {
		v := envInt(b.key, b.def)
		if v < 1 || v > b.max {
			return Argon2Params{}, fmt.Errorf("%s must be in 1..%d, got %d", b.key, b.max, v)
		}
		values[i] = v
	}
	return Argon2Params{
		Memory:      uint32(values[0]),
		Iterations:  uint32(values[1]),
		Parallelism: uint8(values[2]),
		SaltLength:  uint32(values[3]),
		KeyLength:   uint32(values[4]),
	}, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("AUDIOSHOP_JWT_SECRET must be set")
	}
	if len(c.JWTSecret) < 32 && !c.App.IsLocal() {
		return fmt.Errorf("AUDIOSHOP_JWT_SECRET must be at least 32 bytes outside dev/test")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token ttls must be positive")
	}
	if c.RefreshTokenTTL <= c.AccessTokenTTL {
		return fmt.Errorf("refresh token ttl must exceed access token ttl")
	}
	if c.MaxConcurrentHashes <= 0 {
		return fmt.Errorf("AUDIOSHOP_MAX_CONCURRENT_HASHES must be positive")
	}
	if c.DB.QueryTimeout <= 0 {
		return fmt.Errorf("POSTGRES_QUERY_TIMEOUT must be positive")
	}
	if c.Kafka.EventBuffer <= 0 {
		return fmt.Errorf("AUDIOSHOP_KAFKA_EVENT_BUFFER must be positive")
	}
	for _, d := range c.Sweep.Intervals {
		if d <= 0 {
			return fmt.Errorf("sweep intervals must be positive")
		}
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// envDurations parses a comma separated list such as "1h,24h". Any invalid
// entry falls back to def as a whole.
func envDurations(key string, def []time.Duration) []time.Duration {
	parts := envList(key)
	if len(parts) == 0 {
		return def
	}
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(p)
		if err != nil {
			return def
		}
		out = append(out, d)
	}
	return out
}
