// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Bounds on the model call deadline.
const (
	MinGatewayTimeout = time.Second
	MaxGatewayTimeout = 2 * time.Minute
)

// Config holds all application configuration.
type Config struct {
	Port               string
	LogLevel           slog.Level
	Model              ModelConfig
	RateLimit          RateLimitConfig
	MaxRequestBytes    int64
	CORSAllowedOrigins []string
	DBPath             string // empty disables the insight log
	InsightRetention   time.Duration
	MetricsEnabled     bool
	GRPCHealthAddr     string
	HistoryToken       string // empty disables GET /api/insights
}

// ModelConfig selects and parameterizes the model provider.
type ModelConfig struct {
	Provider        string
	Name            string
	APIKey          string
	BaseURL         string
	MaxOutputTokens int64
	Timeout         time.Duration
}

// RateLimitConfig controls per-client admission.
type RateLimitConfig struct {
	MaxRequests int
	Window      time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	provider := strings.ToLower(strings.TrimSpace(getEnv("MODEL_PROVIDER", "openai")))

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: parseLevel(getEnv("LOG_LEVEL", "info")),
		Model: ModelConfig{
			Provider:        provider,
			Name:            getEnv("MODEL_NAME", "gpt-4o-mini"),
			APIKey:          apiKeyFor(provider),
			BaseURL:         strings.TrimSpace(getEnv("MODEL_BASE_URL", "")),
			MaxOutputTokens: int64(getEnvInt("MODEL_MAX_OUTPUT_TOKENS", 800)),
			Timeout:         getEnvDuration("GATEWAY_TIMEOUT", 30*time.Second),
		},
		RateLimit: RateLimitConfig{
			MaxRequests: getEnvInt("RATE_LIMIT_MAX_REQUESTS", 5),
			Window:      getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		MaxRequestBytes:    int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 1<<20)),
		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		DBPath:             strings.TrimSpace(getEnv("DB_PATH", "./data/insights.db")),
		InsightRetention:   getEnvDuration("INSIGHT_RETENTION", 30*24*time.Hour),
		MetricsEnabled:     getEnvBool("METRICS_ENABLED", true),
		GRPCHealthAddr:     strings.TrimSpace(getEnv("GRPC_HEALTH_ADDR", "")),
		HistoryToken:       strings.TrimSpace(getEnv("HISTORY_TOKEN", "")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.Model.Name == "" {
		return fmt.Errorf("MODEL_NAME cannot be empty")
	}

	switch c.Model.Provider {
	case "openai", "anthropic":
		if c.Model.APIKey == "" {
			return fmt.Errorf("an API key is required for MODEL_PROVIDER=%s", c.Model.Provider)
		}
	case "http":
		if c.Model.BaseURL == "" {
			return fmt.Errorf("MODEL_BASE_URL is required for MODEL_PROVIDER=http")
		}
	default:
		return fmt.Errorf("MODEL_PROVIDER must be openai, anthropic or http, got %q", c.Model.Provider)
	}

	if c.Model.Timeout < MinGatewayTimeout || c.Model.Timeout > MaxGatewayTimeout {
		return fmt.Errorf("GATEWAY_TIMEOUT must be between %s and %s", MinGatewayTimeout, MaxGatewayTimeout)
	}
	if c.Model.MaxOutputTokens <= 0 {
		return fmt.Errorf("MODEL_MAX_OUTPUT_TOKENS must be > 0")
	}
	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX_REQUESTS must be > 0")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.MaxRequestBytes <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	if c.DBPath != "" && c.InsightRetention < 0 {
		return fmt.Errorf("INSIGHT_RETENTION cannot be negative")
	}
	return nil
}

// PersistenceEnabled reports whether completed insights are recorded.
func (c *Config) PersistenceEnabled() bool {
	return c.DBPath != ""
}

// apiKeyFor prefers the provider's conventional variable over MODEL_API_KEY.
func apiKeyFor(provider string) string {
	var key string
	switch provider {
	case "openai":
		key = getEnv("OPENAI_API_KEY", "")
	case "anthropic":
		key = getEnv("ANTHROPIC_API_KEY", "")
	}
	if strings.TrimSpace(key) == "" {
		key = getEnv("MODEL_API_KEY", "")
	}
	return strings.TrimSpace(key)
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
