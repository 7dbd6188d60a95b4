package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Env         string
	HTTPPort    string
	DatabaseURL string
	RateRPS     int

	// IdempotencyTTL is how long a pending key reservation blocks retries
	// before a new request may take it over.
	IdempotencyTTL time.Duration
	// ReconAmountTolerance is the fuzzy-match amount tolerance as a decimal
	// string; "0" requires exact amounts.
	ReconAmountTolerance string
	// MaxConfirmation bounds automatic chain selection.
	MaxConfirmation time.Duration
	WorkerCount     int
}

func Load() Config {
	return Config{
		Env:                  get("APP_ENV", "dev"),
		HTTPPort:             get("HTTP_PORT", "8080"),
		DatabaseURL:          get("DATABASE_URL", ""),
		RateRPS:              getInt("RATE_RPS", 100),
		IdempotencyTTL:       getDuration("IDEMPOTENCY_TTL", time.Minute),
		ReconAmountTolerance: get("RECON_AMOUNT_TOLERANCE", "0"),
		MaxConfirmation:      getDuration("MAX_CONFIRMATION_TIME", 30*time.Minute),
		WorkerCount:          getInt("WORKER_COUNT", 4),
	}
}

func get(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
