package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/boddenberg/sindicato-efi-bridge/internal/config"
	"github.com/boddenberg/sindicato-efi-bridge/internal/domain"
	"github.com/boddenberg/sindicato-efi-bridge/internal/handler"
	"github.com/boddenberg/sindicato-efi-bridge/internal/infra/cache"
	"github.com/boddenberg/sindicato-efi-bridge/internal/infra/efi"
	"github.com/boddenberg/sindicato-efi-bridge/internal/infra/observability"
	"github.com/boddenberg/sindicato-efi-bridge/internal/infra/postgres"
	redisstore "github.com/boddenberg/sindicato-efi-bridge/internal/infra/redis"
	"github.com/boddenberg/sindicato-efi-bridge/internal/infra/resilience"
	"github.com/boddenberg/sindicato-efi-bridge/internal/infra/supabase"
	"github.com/boddenberg/sindicato-efi-bridge/internal/port"
	"github.com/boddenberg/sindicato-efi-bridge/internal/service"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel, "efi-bridge")
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("efi_base_url", cfg.EFIBaseURL),
		zap.Bool("efi_cert", cfg.EFICertPath != ""),
		zap.Duration("efi_timeout", cfg.EFITimeout),
		zap.Int("efi_max_concurrency", cfg.EFIMaxConcurrency),
		zap.Int("efi_sync_concurrency", cfg.EFISyncConcurrency),
		zap.String("company_store", cfg.CompanyStore),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
		zap.Bool("idempotency", cfg.RedisAddr != ""),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "efi-bridge")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- EFI gateway ---
	transport := efi.NewTransport(cfg.EFITimeout, efi.CertConfig{
		Path:       cfg.EFICertPath,
		Passphrase: cfg.EFICertPass,
	}, logger)
	authenticator := efi.NewTokenAuthenticator(cfg.EFIBaseURL, cfg.EFIClientID, cfg.EFIClientSecret, transport, metrics, logger)
	gateway := efi.NewClient(authenticator, transport, resilience.NewBulkhead(cfg.EFIMaxConcurrency), metrics, logger)

	// --- Company registry ---
	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
	}
	cb := resilience.NewCircuitBreaker("company-registry", logger)

	var companies port.CompanyLookup
	var checks []handler.HealthCheck

	switch cfg.CompanyStore {
	case config.CompanyStoreSupabase:
		logger.Info("using Supabase as company registry", zap.String("supabase_url", cfg.SupabaseURL))
		httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
		companies = supabase.NewClient(
			httpClient,
			cfg.SupabaseURL,
			cfg.SupabaseAnonKey,
			cfg.SupabaseServiceKey,
			cb,
			resilienceCfg,
			logger,
		)
	default:
		logger.Info("using Postgres as company registry")
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("failed to create postgres pool", zap.Error(err))
		}
		defer pool.Close()
		companies = postgres.NewCompanyStore(pool, cb, resilienceCfg, logger)
		checks = append(checks, handler.HealthCheck{Name: "postgres", Check: pool.Ping})
	}

	companyCache := cache.New[*domain.Company](cfg.CacheTTL)
	defer companyCache.Close()

	// --- Idempotency (optional) ---
	var idempotency port.IdempotencyStore
	if cfg.RedisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		idempotency = redisstore.NewIdempotencyStore(rdb)
		checks = append(checks, handler.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
		logger.Info("idempotency enabled", zap.String("redis_addr", cfg.RedisAddr))
	} else {
		logger.Warn("idempotency disabled: REDIS_ADDR not set")
	}

	// --- Services ---
	boletoSvc := service.NewBoletoService(gateway, companies, companyCache, metrics, logger, cfg.EFISyncConcurrency)

	if cfg.AuthJWTSecret == "" {
		logger.Warn("AUTH_JWT_SECRET not set, every /api/efi request will be rejected")
	}

	// --- Router ---
	router := handler.NewRouter(handler.RouterDeps{
		Boletos:        boletoSvc,
		Auth:           service.NewCallerAuth(cfg.AuthJWTSecret),
		Idempotency:    idempotency,
		IdempotencyTTL: cfg.IdempotencyTTL,
		Checks:         checks,
		Metrics:        metrics,
		Logger:         logger,
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2*cfg.EFITimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// --- Graceful shutdown ---
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("server forced shutdown", zap.Error(err))
	}

	logger.Info("server stopped")
}
