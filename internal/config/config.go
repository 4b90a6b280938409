// Package config loads process configuration from the environment.
//
// Values are read from environment variables, optionally seeded from a .env
// file. Unset variables fall back to defaults suitable for local
// development with the in-memory store.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/therealutkarshpriyadarshi/pipeline/internal/storage"
)

// Storage drivers
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Flag sources
const (
	FlagSourceEnv   = "env"
	FlagSourceRedis = "redis"
)

// Config holds all configuration of the server and CLI
type Config struct {
	// Application settings
	Port      string
	Env       string
	LogLevel  string
	LogFormat string // text or json

	// Storage
	StorageDriver  string
	Database       storage.Config
	MigrationsPath string

	// Redis and NATS, both optional
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string

	FlagSource  string
	CatalogPath string

	// Execution
	MaxConcurrency     int
	ProgressTimeout    time.Duration
	StepTimeout        time.Duration
	TelemetryQueueSize int
	DeadLetterSize     int
	SchedulerEnabled   bool
	SchedulerOverlap   bool

	// API
	JWTSecret      string
	RateLimitRPS   float64
	RateLimitBurst int
}

// Load reads configuration from the environment after loading the given
// .env files. Missing files are ignored; with no paths ./.env is tried.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", f, err)
		}
	}

	db := storage.DefaultConfig()
	db.Host = getEnv("DB_HOST", db.Host)
	db.Port = getEnv("DB_PORT", db.Port)
	db.User = getEnv("DB_USER", db.User)
	db.Password = getEnv("DB_PASSWORD", db.Password)
	db.DBName = getEnv("DB_NAME", db.DBName)
	db.SSLMode = getEnv("DB_SSLMODE", db.SSLMode)

	var errs []error
	cfg := &Config{
		Port:      getEnv("PORT", "8080"),
		Env:       getEnv("ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		StorageDriver:  getEnv("STORAGE_DRIVER", StorageMemory),
		Database:       *db,
		MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getInt("REDIS_DB", 0, &errs),
		NATSURL:       getEnv("NATS_URL", ""),

		FlagSource:  getEnv("FLAG_SOURCE", FlagSourceEnv),
		CatalogPath: getEnv("CATALOG_PATH", ""),

		MaxConcurrency:     getInt("EXECUTOR_MAX_CONCURRENCY", 5, &errs),
		ProgressTimeout:    getDuration("EXECUTOR_PROGRESS_TIMEOUT", 10*time.Second, &errs),
		StepTimeout:        getDuration("HTTP_STEP_TIMEOUT", 5*time.Minute, &errs),
		TelemetryQueueSize: getInt("TELEMETRY_QUEUE_SIZE", 1000, &errs),
		DeadLetterSize:     getInt("TELEMETRY_DEAD_LETTER_SIZE", 10000, &errs),
		SchedulerEnabled:   getBool("SCHEDULER_ENABLED", true, &errs),
		SchedulerOverlap:   getBool("SCHEDULER_ALLOW_OVERLAP", false, &errs),

		JWTSecret:      getEnv("JWT_SECRET", ""),
		RateLimitRPS:   getFloat("RATE_LIMIT_RPS", 50, &errs),
		RateLimitBurst: getInt("RATE_LIMIT_BURST", 100, &errs),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges and cross-field requirements
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.StorageDriver {
	case StorageMemory:
	case StoragePostgres:
		if c.Database.Host == "" || c.Database.DBName == "" || c.Database.User == "" {
			return fmt.Errorf("DB_HOST, DB_NAME and DB_USER are required when using postgres")
		}
	default:
		return fmt.Errorf("STORAGE_DRIVER must be 'postgres' or 'memory'")
	}

	switch c.FlagSource {
	case FlagSourceEnv:
	case FlagSourceRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when FLAG_SOURCE is redis")
		}
	default:
		return fmt.Errorf("FLAG_SOURCE must be 'env' or 'redis'")
	}

	if c.RedisDB < 0 || c.RedisDB > 15 {
		return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
	}
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("EXECUTOR_MAX_CONCURRENCY must be a positive number")
	}
	if c.TelemetryQueueSize < 1 {
		return fmt.Errorf("TELEMETRY_QUEUE_SIZE must be a positive number")
	}
	if c.ProgressTimeout <= 0 || c.StepTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive durations")
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		return fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive")
	}
	if c.JWTSecret != "" && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be 'text' or 'json'")
	}
	return nil
}

// IsProduction reports whether ENV is production
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	if level, err := logrus.ParseLevel(c.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int, errs *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return n
}

func getFloat(key string, defaultValue float64, errs *[]error) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return f
}

func getBool(key string, defaultValue bool, errs *[]error) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return b
}

func getDuration(key string, defaultValue time.Duration, errs *[]error) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return defaultValue
	}
	return d
}
