// Package config validates and exposes the process's environment
// configuration, following an accumulate-errors validation style so an
// operator sees every misconfigured variable in one pass rather than one
// at a time.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration.
type Config struct {
	// Required variables
	JWTSecret string
	Port      string

	// Optional variables with defaults
	GoEnv    string
	LogLevel string

	// Auth0
	Auth0Domain     string
	Auth0Audience   string
	SkipAuth        bool
	DevelopmentMode bool

	// CORS / origins
	CORSOrigins []string

	// Room + Grace Timer tuning
	RoomIDLength         int
	RoomExpiryDays       int
	HostReconnectGraceMs int

	// Signaling connection tuning
	SocketPingInterval time.Duration
	SocketPingTimeout  time.Duration

	// Rate limiting
	RateLimitWindowMs    int
	RateLimitMaxRequests int

	// Metadata Store Adapter
	StoreDSN          string
	RoomSweepInterval time.Duration

	// Optional Redis bus for multi-instance fan-out
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Optional OpenTelemetry tracing
	TracingEnabled       bool
	TracingServiceName   string
	TracingCollectorAddr string
}

// ValidateEnv validates all required environment variables and returns a
// Config. Returns an error describing every violation if any required
// variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required")
	} else if len(cfg.JWTSecret) < 32 {
		errs = append(errs, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else if port, err := strconv.Atoi(cfg.Port); err != nil || port < 1 || port > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.Auth0Domain = os.Getenv("AUTH0_DOMAIN")
	cfg.Auth0Audience = os.Getenv("AUTH0_AUDIENCE")
	cfg.SkipAuth = os.Getenv("SKIP_AUTH") == "true"
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"

	if origins := os.Getenv("CORS_ORIGIN"); origins != "" {
		cfg.CORSOrigins = strings.Split(origins, ",")
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000"}
	}

	cfg.RoomIDLength = getEnvIntOrDefault("ROOM_ID_LENGTH", 6)
	if cfg.RoomIDLength < 6 || cfg.RoomIDLength > 8 {
		errs = append(errs, fmt.Sprintf("ROOM_ID_LENGTH must be between 6 and 8 (got %d)", cfg.RoomIDLength))
	}

	cfg.RoomExpiryDays = getEnvIntOrDefault("ROOM_EXPIRY_DAYS", 1)
	if cfg.RoomExpiryDays < 1 || cfg.RoomExpiryDays > 30 {
		errs = append(errs, fmt.Sprintf("ROOM_EXPIRY_DAYS must be between 1 and 30 (got %d)", cfg.RoomExpiryDays))
	}

	cfg.HostReconnectGraceMs = getEnvIntOrDefault("HOST_RECONNECT_GRACE_MS", 300000)
	if cfg.HostReconnectGraceMs <= 0 {
		errs = append(errs, "HOST_RECONNECT_GRACE_MS must be positive")
	}

	cfg.SocketPingInterval = time.Duration(getEnvIntOrDefault("SOCKET_PING_INTERVAL", 25000)) * time.Millisecond
	cfg.SocketPingTimeout = time.Duration(getEnvIntOrDefault("SOCKET_PING_TIMEOUT", 60000)) * time.Millisecond

	cfg.RateLimitWindowMs = getEnvIntOrDefault("RATE_LIMIT_WINDOW_MS", 60000)
	cfg.RateLimitMaxRequests = getEnvIntOrDefault("RATE_LIMIT_MAX_REQUESTS", 100)

	cfg.StoreDSN = os.Getenv("DATABASE_URL")
	cfg.RoomSweepInterval = time.Duration(getEnvIntOrDefault("ROOM_SWEEP_INTERVAL_SEC", 300)) * time.Second

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = getEnvOrDefault("REDIS_ADDR", "localhost:6379")
		if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.TracingEnabled = os.Getenv("TRACING_ENABLED") == "true"
	if cfg.TracingEnabled {
		cfg.TracingServiceName = getEnvOrDefault("TRACING_SERVICE_NAME", "watchsync-core")
		cfg.TracingCollectorAddr = os.Getenv("OTEL_COLLECTOR_ADDR")
		if cfg.TracingCollectorAddr == "" {
			errs = append(errs, "OTEL_COLLECTOR_ADDR is required when TRACING_ENABLED=true")
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 || parts[0] == "" {
		return false
	}
	port, err := strconv.Atoi(parts[1])
	return err == nil && port >= 1 && port <= 65535
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"jwt_secret", redactSecret(cfg.JWTSecret),
		"port", cfg.Port,
		"go_env", cfg.GoEnv,
		"log_level", cfg.LogLevel,
		"room_id_length", cfg.RoomIDLength,
		"room_expiry_days", cfg.RoomExpiryDays,
		"host_reconnect_grace_ms", cfg.HostReconnectGraceMs,
		"redis_enabled", cfg.RedisEnabled,
		"store_configured", cfg.StoreDSN != "",
		"tracing_enabled", cfg.TracingEnabled,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	raw, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return defaultValue
	}
	return v
}

func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
