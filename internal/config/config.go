// Package config loads tunnel server/client configuration from environment
// variables (with optional .env support), in the style of the rest of this
// module's ambient stack.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every tunable named in the external interfaces: timeouts,
// base URL, CORS policy and optional persistence directory.
type Config struct {
	// Port is the TCP port the tunnel server listens on.
	Port int
	// Env is "development" or "production"; controls dev-only CORS rules.
	Env string
	// LogLevel is a zerolog level string ("debug", "info", ...).
	LogLevel string
	// TunnelBaseURL is the base domain used to assemble session URLs, e.g.
	// "wingmanux.com" or "localhost:8787".
	TunnelBaseURL string
	// CORSAllowedOrigins is a comma-separated list of extra allowed origins.
	CORSAllowedOrigins []string
	// StorageDir, if set, enables one-JSON-file-per-session durability.
	StorageDir string

	// RequestTimeout bounds how long the proxy engine awaits a developer
	// response before failing a public request.
	RequestTimeout time.Duration
	// HeartbeatInterval is how often the server pings a control channel.
	HeartbeatInterval time.Duration
	// IdleTTL is how long a non-permanent session may sit idle before
	// cleanupExpiredSessions removes it.
	IdleTTL time.Duration
	// MaxRequestBytes bounds the size of a proxied request body.
	MaxRequestBytes int64
	// CleanupInterval is how often the session cleanup sweep runs.
	CleanupInterval time.Duration
	// P2PSettleWindow is the delay before initiateP2P fires after a second
	// side registers, giving the newly arrived side time to settle.
	P2PSettleWindow time.Duration

	// RedisURL, if set, backs the Connection Registry with Redis for
	// multi-replica deployments. Empty means pure in-memory.
	RedisURL string
}

// Load reads configuration from the environment, first attempting to load a
// .env file (missing file is not an error, matching godotenv's convention).
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:               getEnvInt("PORT", 8787),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		TunnelBaseURL:      getEnv("TUNNEL_BASE_URL", "localhost:8787"),
		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS"),
		StorageDir:         getEnv("STORAGE_DIR", ""),

		RequestTimeout:    getEnvDuration("REQUEST_TIMEOUT_MS", 30_000*time.Millisecond),
		HeartbeatInterval: getEnvDuration("HEARTBEAT_INTERVAL_MS", 30_000*time.Millisecond),
		IdleTTL:           getEnvDuration("IDLE_TTL_MS", 24*time.Hour),
		MaxRequestBytes:   getEnvInt64("MAX_REQUEST_BYTES", 25*1024*1024),
		CleanupInterval:   getEnvDuration("CLEANUP_INTERVAL_MS", 60_000*time.Millisecond),
		P2PSettleWindow:   getEnvDuration("P2P_SETTLE_WINDOW_MS", 1_000*time.Millisecond),

		RedisURL: getEnv("REDIS_URL", ""),
	}
}

// IsDevelopment reports whether dev-only CORS relaxation (any localhost
// origin) should apply.
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
