// Package config provides application configuration management.
// It loads settings from environment variables and provides defaults for
// the server, the extraction providers, and the reply throttle.
//
// Merchant-scoped settings (channel secret/token, auto mode, delivery
// policy, business type) are not configured here: they live in storage
// and are loaded per webhook destination.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// LLM Configuration
	OpenAIAPIKey  string // OpenAI API key for order extraction (primary provider)
	OpenAIModel   string // Chat model for extraction (default: gpt-4o-mini)
	OpenAIBaseURL string // Optional custom endpoint for OpenAI-compatible providers
	GeminiAPIKey  string // Gemini API key (fallback extraction provider)
	GeminiModel   string // Gemini model for extraction (default: gemini-2.5-flash)

	// Metrics Authentication
	MetricsUsername string // Username for /metrics endpoint Basic Auth (default: "prometheus")
	MetricsPassword string // Password for /metrics endpoint Basic Auth (empty = no auth)

	// Sentry / Better Stack error tracking (optional)
	SentryToken       string
	SentryHost        string
	SentryEnvironment string

	// Server Configuration
	Port            string
	LogLevel        string
	ShutdownTimeout time.Duration

	// Data Configuration
	DataDir string // Data directory for the SQLite database

	// Pipeline Configuration
	ReplyCooldown       time.Duration // Reply-slot cooldown window (default: 3s, tunable)
	HistoryLimit        int           // Conversation history messages sent to the extractor (default: 10)
	StaleConversationTTL time.Duration // collecting_info conversations idle longer than this are abandoned (default: 72h)
	DefaultAIQuota      int           // Monthly AI-call quota for merchants without an explicit quota (default: 1000)
	WebhookTimeout      time.Duration // Per-event processing timeout (default: 60s)
}

// Load reads configuration from environment variables
// It attempts to load .env file first, then reads from env vars
func Load() (*Config, error) {
	// Try to load .env file (ignore error if file doesn't exist)
	_ = godotenv.Load()

	cfg := &Config{
		OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		MetricsUsername: getEnv("METRICS_USERNAME", "prometheus"),
		MetricsPassword: getEnv("METRICS_PASSWORD", ""),

		SentryToken:       getEnv("SENTRY_TOKEN", ""),
		SentryHost:        getEnv("SENTRY_HOST", ""),
		SentryEnvironment: getEnv("SENTRY_ENVIRONMENT", "production"),

		Port:            getEnv("PORT", "10000"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),

		DataDir: getEnv("DATA_DIR", "./data"),

		ReplyCooldown:        getDurationEnv("REPLY_COOLDOWN", 3*time.Second),
		HistoryLimit:         getIntEnv("HISTORY_LIMIT", 10),
		StaleConversationTTL: getDurationEnv("STALE_CONVERSATION_TTL", 72*time.Hour),
		DefaultAIQuota:       getIntEnv("DEFAULT_AI_QUOTA", 1000),
		WebhookTimeout:       getDurationEnv("WEBHOOK_TIMEOUT", 60*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if required configuration values are set
func (c *Config) Validate() error {
	var errs []error

	if c.Port == "" {
		errs = append(errs, errors.New("PORT is required"))
	}
	if c.DataDir == "" {
		errs = append(errs, errors.New("DATA_DIR is required"))
	}
	if c.ReplyCooldown <= 0 {
		errs = append(errs, fmt.Errorf("REPLY_COOLDOWN must be positive, got %v", c.ReplyCooldown))
	}
	if c.HistoryLimit <= 0 {
		errs = append(errs, fmt.Errorf("HISTORY_LIMIT must be positive, got %d", c.HistoryLimit))
	}
	if c.StaleConversationTTL <= 0 {
		errs = append(errs, fmt.Errorf("STALE_CONVERSATION_TTL must be positive, got %v", c.StaleConversationTTL))
	}
	if c.DefaultAIQuota < 0 {
		errs = append(errs, fmt.Errorf("DEFAULT_AI_QUOTA cannot be negative, got %d", c.DefaultAIQuota))
	}
	if c.WebhookTimeout <= 0 {
		errs = append(errs, fmt.Errorf("WEBHOOK_TIMEOUT must be positive, got %v", c.WebhookTimeout))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// getEnv retrieves environment variable with fallback to default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnv retrieves integer environment variable with fallback to default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getDurationEnv retrieves duration environment variable with fallback to default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// SQLitePath returns the full path to the SQLite database file
func (c *Config) SQLitePath() string {
	return filepath.Join(c.DataDir, "talkorder.db")
}

// HasLLMProvider returns true if at least one extraction provider is configured.
func (c *Config) HasLLMProvider() bool {
	return c.OpenAIAPIKey != "" || c.GeminiAPIKey != ""
}
