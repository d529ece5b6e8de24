package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port        int
	LogLevel    string
	CORSOrigins []string

	// External services
	BankAPIURL string
	AIAPIURL   string // empty disables the affordability check

	// Memory backend serves a seeded in-process bank instead of BankAPIURL
	UseMemoryBackend bool

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries       int
	InitialBackoff   time.Duration
	MaxConcurrency   int
	AffordabilityRPS float64

	// Cache
	AccountsCacheTTL time.Duration
	ScheduleCacheTTL time.Duration
	SessionTTL       time.Duration

	// EMI
	ScheduleFetchTimeout time.Duration
	MinEligibleAmount    decimal.Decimal
	RemainderPolicy      string // "last-installment" or "none"
	DefaultTenureMonths  int
	DefaultInterestRate  decimal.Decimal

	// Observability
	OTLPEndpoint string
}

// Load reads configuration from environment variables with defaults.
// A .env file, when present, fills in variables that are not already set.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:        getEnvInt("PORT", 8080),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"*"}),

		BankAPIURL: getEnv("BANK_API_URL", "http://localhost:8081"),
		AIAPIURL:   getEnv("AI_API_URL", ""),

		UseMemoryBackend: getEnv("USE_MEMORY_BACKEND", "false") == "true",

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:       getEnvInt("MAX_RETRIES", 3),
		InitialBackoff:   getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency:   getEnvInt("MAX_CONCURRENCY", 50),
		AffordabilityRPS: getEnvFloat("AFFORDABILITY_RPS", 5),

		AccountsCacheTTL: getEnvDuration("ACCOUNTS_CACHE_TTL", time.Minute),
		ScheduleCacheTTL: getEnvDuration("SCHEDULE_CACHE_TTL", 5*time.Minute),
		SessionTTL:       getEnvDuration("SESSION_TTL", 30*time.Minute),

		ScheduleFetchTimeout: getEnvDuration("SCHEDULE_FETCH_TIMEOUT", 5*time.Second),
		MinEligibleAmount:    getEnvDecimal("MIN_ELIGIBLE_AMOUNT", decimal.NewFromInt(1000)),
		RemainderPolicy:      getEnv("REMAINDER_POLICY", "last-installment"),
		DefaultTenureMonths:  getEnvInt("EMI_DEFAULT_TENURE_MONTHS", 6),
		DefaultInterestRate:  getEnvDecimal("EMI_DEFAULT_INTEREST_RATE", decimal.NewFromInt(14)),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}
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

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
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

func getEnvDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
