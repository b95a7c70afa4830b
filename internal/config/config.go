// Package config handles loading application configuration from environment variables.
// All settings have sensible defaults for local development.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application settings loaded from environment variables.
type Config struct {
	Port               string
	ReportDatabasePath string
	TokenSecret        string
	TokenDuration      time.Duration
	RateLimitPerMinute int
	ResetCheckInterval time.Duration
	CORSAllowedOrigins []string
	TrustedProxies     []string
	SentryDSN          string
	SentryEnvironment  string
}

// Load reads configuration from environment variables, using defaults where not set.
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "3001"),
		ReportDatabasePath: getEnv("REPORT_DATABASE_PATH", "./reports.db"),
		TokenSecret:        getEnv("TOKEN_SECRET", "change-me-in-production"), // #nosec G101 -- intentional dev default
		TokenDuration:      getDurationEnv("TOKEN_DURATION", 24*time.Hour),
		RateLimitPerMinute: getIntEnv("RATE_LIMIT_PER_MINUTE", 30),
		ResetCheckInterval: getDurationEnv("RESET_CHECK_INTERVAL", time.Minute),
		CORSAllowedOrigins: getStringSliceEnvDefault("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
		TrustedProxies:     getStringSliceEnv("TRUSTED_PROXIES"),
		SentryDSN:          getEnv("SENTRY_DSN", ""),
		SentryEnvironment:  getEnv("SENTRY_ENVIRONMENT", "production"),
	}
}

func getStringSliceEnvDefault(key string, defaultValue []string) []string {
	if value := getStringSliceEnv(key); value != nil {
		return value
	}
	return defaultValue
}

func getStringSliceEnv(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var result []string
	for _, s := range strings.Split(value, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			result = append(result, s)
		}
	}
	return result
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
