package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server Server
	Store  Store
	Worker Worker
	Redis  Redis
	Otel   Otel
}

// Server holds HTTP server settings.
type Server struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	CORSOrigins  []string
	RateLimit    float64
	RateBurst    int
}

// Store holds the session database location.
type Store struct {
	Path string
}

// Worker holds settings for the external agent worker process and its
// conversation log database.
type Worker struct {
	Bin          string
	Agent        string
	LogDBPath    string
	PollInterval time.Duration
	PathPrefixes []string
	TrustedTools []string
}

// Redis holds optional event-relay settings. The relay is disabled when Addr
// is empty.
type Redis struct {
	Addr     string
	Password string //nolint:gosec // G117: Redis connection config
	DB       int
}

// Otel holds optional OTLP metrics settings. Metrics are a no-op when
// Endpoint is empty.
type Otel struct {
	Endpoint string
	Insecure bool
}

// Load reads configuration from environment variables. Defaults are safe for
// local single-user use.
func Load() (*Config, error) {
	readTimeout, err := getEnvDuration("SKIFF_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	writeTimeout, err := getEnvDuration("SKIFF_SERVER_WRITE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateLimit, err := getEnvFloat("SKIFF_SERVER_RATE_LIMIT", 50)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	rateBurst, err := getEnvInt("SKIFF_SERVER_RATE_BURST", 100)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	pollInterval, err := getEnvDuration("SKIFF_WORKER_POLL_INTERVAL", 750*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	redisDB, err := getEnvInt("SKIFF_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	otelInsecure, err := getEnvBool("SKIFF_OTEL_INSECURE", false)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	home, _ := os.UserHomeDir()

	cfg := &Config{
		Server: Server{
			Addr:         getEnv("SKIFF_SERVER_ADDR", ":8090"),
			ReadTimeout:  readTimeout,
			WriteTimeout: writeTimeout,
			CORSOrigins:  getEnvList("SKIFF_CORS_ORIGINS", []string{"http://localhost:5173"}),
			RateLimit:    rateLimit,
			RateBurst:    rateBurst,
		},
		Store: Store{
			Path: getEnv("SKIFF_DB_PATH", filepath.Join(home, ".skiff", "skiff.db")),
		},
		Worker: Worker{
			Bin:          getEnv("SKIFF_WORKER_BIN", "pilot"),
			Agent:        getEnv("SKIFF_WORKER_AGENT", ""),
			LogDBPath:    getEnv("SKIFF_WORKER_LOG_DB", filepath.Join(home, ".pilot", "conversations.db")),
			PollInterval: pollInterval,
			PathPrefixes: getEnvList("SKIFF_WORKER_PATH_PREFIXES", defaultPathPrefixes(home)),
			TrustedTools: getEnvList("SKIFF_TRUSTED_TOOLS", []string{"read_file", "list_directory", "grep", "glob"}),
		},
		Redis: Redis{
			Addr:     getEnv("SKIFF_REDIS_ADDR", ""),
			Password: getEnv("SKIFF_REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Otel: Otel{
			Endpoint: getEnv("SKIFF_OTEL_ENDPOINT", ""),
			Insecure: otelInsecure,
		},
	}

	err = cfg.validate()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	return cfg, nil
}

// defaultPathPrefixes returns the common tool-install locations prepended to
// the worker's PATH so it finds user-installed tooling regardless of how the
// daemon itself was launched.
func defaultPathPrefixes(home string) []string {
	return []string{
		filepath.Join(home, ".local", "bin"),
		filepath.Join(home, "bin"),
		"/usr/local/bin",
		"/opt/homebrew/bin",
	}
}

// validate checks required fields and value bounds.
func (c *Config) validate() error {
	if c.Worker.Bin == "" {
		return errors.New("SKIFF_WORKER_BIN must not be empty")
	}
	if c.Worker.LogDBPath == "" {
		return errors.New("SKIFF_WORKER_LOG_DB must not be empty")
	}
	if c.Store.Path == "" {
		return errors.New("SKIFF_DB_PATH must not be empty")
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("SKIFF_WORKER_POLL_INTERVAL must be positive, got %s", c.Worker.PollInterval)
	}
	if c.Server.ReadTimeout <= 0 {
		return fmt.Errorf("SKIFF_SERVER_READ_TIMEOUT must be positive, got %s", c.Server.ReadTimeout)
	}
	if c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("SKIFF_SERVER_WRITE_TIMEOUT must be positive, got %s", c.Server.WriteTimeout)
	}
	if c.Server.RateLimit <= 0 {
		return fmt.Errorf("SKIFF_SERVER_RATE_LIMIT must be positive, got %g", c.Server.RateLimit)
	}
	if c.Server.RateBurst < 1 {
		return fmt.Errorf("SKIFF_SERVER_RATE_BURST must be >= 1, got %d", c.Server.RateBurst)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as int: %w", key, v, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as float: %w", key, v, err)
	}
	return f, nil
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parsing %s=%q as bool: %w", key, v, err)
	}
	return b, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parsing %s=%q as duration: %w", key, v, err)
	}
	return d, nil
}

func getEnvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
