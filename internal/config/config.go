/**
 * Configuration for the MCQ processing service
 *
 * Loads configuration from environment variables. The remote record-store
 * base URL is injected here instead of being hardcoded so the service can be
 * pointed at a mock gateway in tests.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds service configuration
type Config struct {
	// HTTP service
	Port          int
	AllowedOrigin string

	// Remote record store (OCR source + CompareText CRUD)
	APIBaseURL string

	// External MCQ generation pipeline
	PipelineURL string

	// Async job mode (disabled when RedisURL is empty)
	RedisURL          string
	QueueName         string
	WorkerConcurrency int
	ProcessingTimeout int // milliseconds, queue worker only

	// Run-history store (disabled when DatabaseURL is empty)
	DatabaseURL string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:              getEnvAsIntOrDefault("PORT", 5002),
		AllowedOrigin:     getEnvOrDefault("CORS_ALLOWED_ORIGIN", "http://localhost:3000"),
		APIBaseURL:        strings.TrimRight(getEnvOrDefault("DJANGO_API_BASE_URL", "http://65.0.249.245:8000"), "/"),
		PipelineURL:       strings.TrimRight(getEnvOrDefault("MCQ_PIPELINE_URL", "http://localhost:8001"), "/"),
		RedisURL:          getEnvOrDefault("REDIS_URL", ""),
		QueueName:         getEnvOrDefault("QUEUE_NAME", "mcq:jobs"),
		WorkerConcurrency: getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		ProcessingTimeout: getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 600000), // 10 minutes
		DatabaseURL:       getEnvOrDefault("DATABASE_URL", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}

	if c.APIBaseURL == "" {
		return fmt.Errorf("DJANGO_API_BASE_URL is required")
	}

	if c.PipelineURL == "" {
		return fmt.Errorf("MCQ_PIPELINE_URL is required")
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	return nil
}

// AsyncEnabled reports whether the queue-backed job mode is configured
func (c *Config) AsyncEnabled() bool {
	return c.RedisURL != ""
}

// RunHistoryEnabled reports whether the local run-history store is configured
func (c *Config) RunHistoryEnabled() bool {
	return c.DatabaseURL != ""
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
