package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Company store backends.
const (
	CompanyStorePostgres = "postgres"
	CompanyStoreSupabase = "supabase"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// EFI gateway
	EFIBaseURL         string
	EFIClientID        string
	EFIClientSecret    string
	EFICertPath        string
	EFICertPass        string
	EFITimeout         time.Duration
	EFIMaxConcurrency  int
	EFISyncConcurrency int

	// Caller authentication (HS256)
	AuthJWTSecret string

	// Company lookup
	CompanyStore       string
	DatabaseURL        string
	SupabaseURL        string
	SupabaseAnonKey    string
	SupabaseServiceKey string

	// HTTP client used by the company stores
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration

	// Cache
	CacheTTL time.Duration

	// Idempotency (Redis); empty address disables it
	RedisAddr      string
	IdempotencyTTL time.Duration

	// Observability
	OTLPEndpoint string
}

// LoadDotEnv reads a .env file into the environment without overriding
// variables that are already set.
func LoadDotEnv(paths ...string) error {
	return godotenv.Load(paths...)
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		EFIBaseURL:         getEnv("EFI_BASE_URL", ""),
		EFIClientID:        getEnv("EFI_CLIENT_ID", ""),
		EFIClientSecret:    getEnv("EFI_CLIENT_SECRET", ""),
		EFICertPath:        getEnv("EFI_CERT_PATH", ""),
		EFICertPass:        os.Getenv("EFI_CERT_PASS"),
		EFITimeout:         time.Duration(getEnvInt("EFI_TIMEOUT_MS", 10000)) * time.Millisecond,
		EFIMaxConcurrency:  getEnvInt("EFI_MAX_CONCURRENCY", 50),
		EFISyncConcurrency: getEnvInt("EFI_SYNC_CONCURRENCY", 10),

		AuthJWTSecret: getEnv("AUTH_JWT_SECRET", ""),

		CompanyStore:       getEnv("COMPANY_STORE", CompanyStorePostgres),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseAnonKey:    getEnv("SUPABASE_ANON_KEY", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_ROLE_KEY", ""),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),

		CacheTTL: getEnvDuration("CACHE_TTL", 5*time.Minute),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		IdempotencyTTL: getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
}

// Validate reports missing settings the gateway cannot work without.
func (c *Config) Validate() error {
	var errs []error
	if c.EFIBaseURL == "" {
		errs = append(errs, errors.New("EFI_BASE_URL is required"))
	}
	if c.EFIClientID == "" {
		errs = append(errs, errors.New("EFI_CLIENT_ID is required"))
	}
	if c.EFIClientSecret == "" {
		errs = append(errs, errors.New("EFI_CLIENT_SECRET is required"))
	}
	if c.EFITimeout <= 0 {
		errs = append(errs, errors.New("EFI_TIMEOUT_MS must be positive"))
	}
	if c.EFISyncConcurrency <= 0 {
		errs = append(errs, errors.New("EFI_SYNC_CONCURRENCY must be positive"))
	}
	switch c.CompanyStore {
	case CompanyStorePostgres, CompanyStoreSupabase:
	default:
		errs = append(errs, errors.New("COMPANY_STORE must be postgres or supabase"))
	}
	return errors.Join(errs...)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
