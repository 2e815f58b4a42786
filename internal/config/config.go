// Package config provides configuration management for the points leaderboard.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Indexer   IndexerConfig
	Redis     RedisConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
	Tracing   TracingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// IndexerConfig holds GraphQL indexer configuration
type IndexerConfig struct {
	Endpoint           string
	AdminSecret        string
	Timeout            time.Duration
	MaxAttempts        int  // 1 disables retries
	ExactTierCounts    bool // tier-filtered totals from an aggregate query
	BreakerMaxFailures int
	BreakerTimeout     time.Duration
}

// RedisConfig holds Redis configuration for the client query cache
type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Enabled reports whether a Redis host was configured
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

// Addr returns host:port
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

// CacheConfig holds the client query cache windows
type CacheConfig struct {
	StaleTime time.Duration
	GCTime    time.Duration
}

// RateLimitConfig holds per-client rate limiting configuration
type RateLimitConfig struct {
	RPS        int
	Burst      int
	TrustProxy bool // Set when a reverse proxy fills X-Forwarded-For
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	Enabled     bool
	Endpoint    string
	Environment string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "3000"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Indexer: IndexerConfig{
			Endpoint:           getEnv("GRAPHQL_ENDPOINT", "http://localhost:8080/v1/graphql"),
			AdminSecret:        getEnv("GRAPHQL_ADMIN_SECRET", ""),
			Timeout:            getEnvAsDuration("INDEXER_TIMEOUT", 10*time.Second),
			MaxAttempts:        getEnvAsInt("INDEXER_MAX_ATTEMPTS", 1),
			ExactTierCounts:    getEnvAsBool("INDEXER_EXACT_TIER_COUNTS", false),
			BreakerMaxFailures: getEnvAsInt("CB_MAX_FAILURES", 10),
			BreakerTimeout:     getEnvAsDuration("CB_TIMEOUT", 30*time.Second),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", ""),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Cache: CacheConfig{
			StaleTime: getEnvAsDuration("CACHE_STALE_TIME", 30*time.Second),
			GCTime:    getEnvAsDuration("CACHE_GC_TIME", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			RPS:        getEnvAsInt("RATE_LIMIT_RPS", 20),
			Burst:      getEnvAsInt("RATE_LIMIT_BURST", 40),
			TrustProxy: getEnvAsBool("RATE_LIMIT_TRUST_PROXY", false),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Tracing: TracingConfig{
			Enabled:     getEnvAsBool("TRACING_ENABLED", false),
			Endpoint:    getEnv("TRACING_ENDPOINT", "http://localhost:14268/api/traces"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
	}

	if config.Indexer.MaxAttempts < 1 {
		config.Indexer.MaxAttempts = 1
	}

	return config, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
