package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	DatabaseURL string
	RedisURL    string
	// RedisTimeout bounds every presence store call.
	RedisTimeout time.Duration

	JWTSecret          string
	AccessTokenExpires time.Duration

	GoogleClientID     string
	GoogleClientSecret string
	BackendBaseURL     string

	CORSOrigins []string

	// BroadcastRelayURL fans group emits out across processes (redis:// or nats://).
	BroadcastRelayURL   string
	PresenceGracePeriod time.Duration
	PongTimeout         time.Duration

	LogLevel  string
	LogFormat string
	GinMode   string

	OTLPEndpoint    string
	OTelServiceName string
}

// LoadEnvFiles mirrors the usual local workflow: .env.local wins, .env is the fallback.
func LoadEnvFiles() {
	if err := godotenv.Load(".env.local"); err != nil {
		if err := godotenv.Load(); err != nil {
			slog.Debug(".env not found, using environment variables")
		}
	}
}

func Load() (*Config, error) {
	redisTimeout, err := getDuration("REDIS_TIMEOUT", 2*time.Second)
	if err != nil {
		return nil, err
	}
	tokenExpiry, err := getDuration("ACCESS_TOKEN_EXPIRES", 14*24*time.Hour)
	if err != nil {
		return nil, err
	}
	grace, err := getDuration("PRESENCE_GRACE_PERIOD", 5*time.Second)
	if err != nil {
		return nil, err
	}
	pong, err := getDuration("PONG_TIMEOUT", 20*time.Second)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		DatabaseURL:         getEnv("DATABASE_URL", "sqlite://roomkit.db"),
		RedisURL:            os.Getenv("REDIS_URL"),
		RedisTimeout:        redisTimeout,
		JWTSecret:           os.Getenv("JWT_SECRET"),
		AccessTokenExpires:  tokenExpiry,
		GoogleClientID:      os.Getenv("GOOGLE_CLIENT_ID"),
		GoogleClientSecret:  os.Getenv("GOOGLE_CLIENT_SECRET"),
		BackendBaseURL:      strings.TrimRight(getEnv("BACKEND_BASE_URL", "http://localhost:8080"), "/"),
		CORSOrigins:         splitList(getEnv("CORS_ORIGINS", "*")),
		BroadcastRelayURL:   os.Getenv("BROADCAST_RELAY_URL"),
		PresenceGracePeriod: grace,
		PongTimeout:         pong,
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "text"),
		GinMode:             os.Getenv("GIN_MODE"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTelServiceName:     getEnv("OTEL_SERVICE_NAME", "roomkit"),
	}

	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.PongTimeout <= 0 {
		return nil, errors.New("PONG_TIMEOUT must be positive")
	}
	if cfg.PresenceGracePeriod < 0 {
		return nil, errors.New("PRESENCE_GRACE_PERIOD must not be negative")
	}

	return cfg, nil
}

// GoogleEnabled reports whether both OAuth client credentials are present.
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != ""
}

// AllowAllOrigins is true for the "*" wildcard.
func (c *Config) AllowAllOrigins() bool {
	return len(c.CORSOrigins) == 1 && c.CORSOrigins[0] == "*"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDuration accepts Go durations ("30s") or bare integers meaning seconds.
func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s format: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
