package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/AfshinJalili/audioshop/libs/health"
	"github.com/AfshinJalili/audioshop/libs/httpmiddleware"
	"github.com/AfshinJalili/audioshop/libs/kafka"
	"github.com/AfshinJalili/audioshop/libs/logging"
	"github.com/AfshinJalili/audioshop/libs/metrics"
	"github.com/AfshinJalili/audioshop/libs/trace"
	"github.com/AfshinJalili/audioshop/services/auth/internal/config"
	"github.com/AfshinJalili/audioshop/services/auth/internal/handlers"
	"github.com/AfshinJalili/audioshop/services/auth/internal/rate"
	"github.com/AfshinJalili/audioshop/services/auth/internal/security"
	"github.com/AfshinJalili/audioshop/services/auth/internal/service"
	"github.com/AfshinJalili/audioshop/services/auth/internal/storage"
	"github.com/AfshinJalili/audioshop/services/auth/internal/sweeper"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)
	if err := run(cfg, logger); err != nil {
		logger.Error("auth service failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := trace.InitTracer(cfg.App.ServiceName, cfg.App.Env, cfg.OTLPEndpoint)
	if err != nil {
		logger.Error("tracer init failed", "error", err)
	} else {
		defer func() {
			_ = shutdownTracer(context.Background())
		}()
	}

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := metrics.NewRegistry()
	authMetrics := service.NewMetrics(registry)
	ready := health.NewManager(false)

	pool, err := connectDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("db connection failed: %w", err)
	}
	defer pool.Close()
	ready.AddCheck("postgres", pool.Ping)

	if cfg.DB.AutoMigrate {
		if err := storage.Migrate(ctx, pool); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}

	limiter, limiterClose, err := buildLimiter(ctx, cfg, ready, logger)
	if err != nil {
		return fmt.Errorf("rate limiter init failed: %w", err)
	}
	defer func() {
		_ = limiterClose()
	}()

	publisher, err := buildPublisher(cfg, registry, logger)
	if err != nil {
		return fmt.Errorf("kafka producer init failed: %w", err)
	}
	defer func() {
		_ = publisher.Close()
	}()

	hasher, err := security.NewHasher(security.Argon2Params(cfg.Argon2), cfg.MaxConcurrentHashes)
	if err != nil {
		return fmt.Errorf("password hasher init failed: %w", err)
	}
	issuer := security.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.AccessTokenTTL)

	store := storage.New(pool, cfg.DB.QueryTimeout)
	events := service.NewAsyncEvents(publisher, cfg.Kafka.SessionsTopic, cfg.Kafka.EventBuffer, cfg.Kafka.Timeout, logger, authMetrics)
	defer events.Close()
	creds := service.NewCredentialValidator(store, hasher, logger, authMetrics)
	sessions := service.NewSessionManager(store, issuer, security.DefaultTokenGenerator{}, cfg.RefreshTokenTTL, events, logger, authMetrics)
	accounts := service.NewAccounts(store, hasher, logger)
	authHandler := handlers.NewAuthHandler(creds, sessions, accounts, limiter, logger)

	router := gin.New()
	if err := router.SetTrustedProxies(cfg.App.HTTP.TrustedProxies); err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))
	router.Use(trace.Middleware(cfg.App.ServiceName))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	authHandler.RegisterRoutes(router, []byte(cfg.JWTSecret), cfg.JWTIssuer)

	var wg sync.WaitGroup
	if cfg.Sweep.Enabled {
		sw := sweeper.New(sessions, cfg.Sweep.Intervals, cfg.Sweep.Timeout, logger, authMetrics)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = sw.RunOnce(ctx, "startup")
			sw.Run(ctx)
		}()
	} else {
		logger.Warn("expiry sweeper disabled")
	}

	server := &http.Server{
		Addr:         cfg.App.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("auth service starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()
	ready.SetReady(true)

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serverErr:
		if ok {
			runErr = fmt.Errorf("server error: %w", err)
		}
	}
	stop()

	ready.SetReady(false)
	logger.Info("shutdown started")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout(cfg))
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	wg.Wait()
	logger.Info("shutdown complete")
	return runErr
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg.App.HTTP.ShutdownTimeout > 0 {
		return cfg.App.HTTP.ShutdownTimeout
	}
	return 10 * time.Second
}

func connectDB(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DB.DSN())
	if err != nil {
		return nil, err
	}
	if cfg.DB.MaxConns > 0 {
		poolCfg.MaxConns = cfg.DB.MaxConns
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}

func buildLimiter(ctx context.Context, cfg *config.Config, ready *health.Manager, logger *slog.Logger) (rate.Limiter, func() error, error) {
	noClose := func() error { return nil }
	if cfg.RateLimit.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RateLimit.Redis.Addr,
			Password: cfg.RateLimit.Redis.Password,
			DB:       cfg.RateLimit.Redis.DB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			if cfg.App.IsLocal() {
				logger.Warn("redis rate limiter unavailable, falling back to memory", "error", err)
				return rate.NewMemory(cfg.RateLimit.LoginLimit, cfg.RateLimit.Window), noClose, nil
			}
			return nil, nil, err
		}

		ready.AddCheck("redis", func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		})
		return rate.NewRedisLimiter(client, cfg.RateLimit.LoginLimit, cfg.RateLimit.Window, cfg.RateLimit.Redis.Prefix), client.Close, nil
	}

	if cfg.App.IsLocal() {
		return rate.NewMemory(cfg.RateLimit.LoginLimit, cfg.RateLimit.Window), noClose, nil
	}

	return nil, nil, fmt.Errorf("rate limiter redis not configured")
}

// buildPublisher returns a no-op publisher when no brokers are configured.
func buildPublisher(cfg *config.Config, registry *prometheus.Registry, logger *slog.Logger) (kafka.Publisher, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		logger.Warn("kafka brokers not configured, session events disabled")
		return kafka.NoopPublisher{}, nil
	}

	producer, err := kafka.NewSyncProducer(kafka.ProducerConfig{
		Brokers:  cfg.Kafka.Brokers,
		ClientID: cfg.App.ServiceName,
		Timeout:  cfg.Kafka.Timeout,
	}, logger, kafka.NewProducerMetrics(registry))
	if err != nil {
		return nil, err
	}
	return kafka.NewDLQPublisher(producer, producer, cfg.Kafka.DLQTopic, logger), nil
}
