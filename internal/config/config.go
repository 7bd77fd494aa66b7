// Package config handles loading application configuration from environment variables.
// All settings except the Spotify credentials have defaults for local development.
package config

import (
	"errors"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application settings loaded from environment variables.
type Config struct {
	Port                 string
	DatabasePath         string
	JWTSecret            string
	TokenEncryptionKey   string
	SpotifyClientID      string
	SpotifyClientSecret  string
	SpotifyRedirectURL   string
	PollInterval         time.Duration
	SessionTokenDuration time.Duration
	RateLimitPerMinute   int
	ColorCacheSize       int
	CORSAllowedOrigins   []string
	TrustedProxies       []string
	SentryDSN            string
	SentryEnvironment    string
}

// Load reads configuration from the environment, after merging in a .env file
// from the working directory when one exists.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	return &Config{
		Port:                 getEnv("PORT", "8080"),
		DatabasePath:         getEnv("DATABASE_PATH", "./widget.db"),
		JWTSecret:            getEnv("JWT_SECRET", "change-me-in-production"), // #nosec G101 -- intentional dev default
		TokenEncryptionKey:   getEnv("TOKEN_ENCRYPTION_KEY", ""),
		SpotifyClientID:      getEnv("SPOTIFY_CLIENT_ID", ""),
		SpotifyClientSecret:  getEnv("SPOTIFY_CLIENT_SECRET", ""),
		SpotifyRedirectURL:   getEnv("SPOTIFY_REDIRECT_URL", "http://localhost:8080/api/auth/callback"),
		PollInterval:         getDurationEnv("POLL_INTERVAL", time.Second),
		SessionTokenDuration: getDurationEnv("SESSION_TOKEN_DURATION", 30*24*time.Hour),
		RateLimitPerMinute:   getIntEnv("RATE_LIMIT_PER_MINUTE", 60),
		ColorCacheSize:       getIntEnv("COLOR_CACHE_SIZE", 256),
		CORSAllowedOrigins:   getStringSliceEnvDefault("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:3000"}),
		TrustedProxies:       getStringSliceEnv("TRUSTED_PROXIES"),
		SentryDSN:            getEnv("SENTRY_DSN", ""),
		SentryEnvironment:    getEnv("SENTRY_ENVIRONMENT", "production"),
	}
}

// Validate reports settings the server cannot run without.
func (c *Config) Validate() error {
	if c.SpotifyClientID == "" || c.SpotifyClientSecret == "" {
		return errors.New("no Spotify credentials found: SPOTIFY_CLIENT_ID and SPOTIFY_CLIENT_SECRET are required")
	}
	if c.PollInterval <= 0 {
		return errors.New("POLL_INTERVAL must be positive")
	}
	if c.RateLimitPerMinute <= 0 {
		return errors.New("RATE_LIMIT_PER_MINUTE must be positive")
	}
	return nil
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

func getStringSliceEnvDefault(key string, defaultValue []string) []string {
	if values := getStringSliceEnv(key); len(values) > 0 {
		return values
	}
	return defaultValue
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
