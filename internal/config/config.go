package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application-level settings.
type Config struct {
	// Server
	ServerAddr string

	// PostgreSQL
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis (notification fan-out)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Auth
	JWTSecret string
	JWTTTL    time.Duration

	// Billing (all amounts in cents)
	JobCostCents       int64 // flat cost per job, debited at submission
	ProviderShareCents int64 // credited to the provider on completion
	InitialBalance     int64 // starting wallet balance for new users
	RefundOnFailure    bool  // refund the consumer when a job fails

	// Liveness
	HeartbeatInterval  time.Duration // per-connection keep-alive period
	NodeStaleThreshold time.Duration // no heartbeat for this long => inactive
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		ServerAddr:         envOr("SERVER_ADDR", ":8080"),
		DBHost:             envOr("DB_HOST", "localhost"),
		DBPort:             envOr("DB_PORT", "5432"),
		DBUser:             envOr("DB_USER", "postgres"),
		DBPassword:         envOr("DB_PASSWORD", "postgres"),
		DBName:             envOr("DB_NAME", "gpuconnect"),
		DBSSLMode:          envOr("DB_SSLMODE", "disable"),
		RedisAddr:          envOr("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      envOr("REDIS_PASSWORD", ""),
		RedisDB:            envIntOr("REDIS_DB", 0),
		JWTSecret:          envOr("JWT_SECRET", "dev-secret-change-me"),
		JWTTTL:             envDurationOr("JWT_TTL", 24*time.Hour),
		JobCostCents:       envInt64Or("JOB_COST_CENTS", 100),
		ProviderShareCents: envInt64Or("PROVIDER_SHARE_CENTS", 100),
		InitialBalance:     envInt64Or("INITIAL_BALANCE_CENTS", 10000),
		RefundOnFailure:    envBoolOr("REFUND_ON_FAILURE", false),
		HeartbeatInterval:  envDurationOr("HEARTBEAT_INTERVAL", 15*time.Second),
		NodeStaleThreshold: envDurationOr("NODE_STALE_THRESHOLD", 45*time.Second),
	}
}

// ─── helpers ───

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envInt64Or(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
