// Package config centralizes environment-driven configuration.
package config

import (
	"os"
	"strconv"
)

// Config holds all server configuration, populated from the environment.
type Config struct {
	Port        string
	Environment string

	DatabaseURL string

	RedisHost     string
	RedisPort     string
	RedisPassword string

	JWTSecret []byte

	LogLevel string
	LogFile  string

	// OpenTelemetry
	OTELEnabled      bool
	OTELEndpoint     string
	OTELSamplingRate float64
}

// Load reads configuration from environment variables, applying defaults.
// Callers load .env (godotenv) before calling Load.
func Load() *Config {
	cfg := &Config{
		Port:        getEnvOrDefault("PORT", "8787"),
		Environment: getEnvOrDefault("ENVIRONMENT", "development"),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		RedisHost:     getEnvOrDefault("REDIS_HOST", "localhost"),
		RedisPort:     getEnvOrDefault("REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		JWTSecret: []byte(os.Getenv("JWT_SECRET")),

		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		LogFile:  getEnvOrDefault("LOG_FILE", "server.log"),

		OTELEnabled:  getEnvOrDefault("OTEL_ENABLED", "false") == "true",
		OTELEndpoint: getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4318"),
	}

	cfg.OTELSamplingRate = getFloatOrDefault("OTEL_SAMPLING_RATE", 1.0)

	return cfg
}

// getEnvOrDefault returns environment variable or default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}
