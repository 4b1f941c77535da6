// Package config provides configuration management for the outbound pool
// service. It loads configuration from environment variables with sensible
// defaults, optionally layered over a YAML file, and validates the result so
// the service starts safely.
//
// Precedence, lowest first: built-in defaults, the YAML file named by
// POOL_CONFIG_FILE, environment variables.
//
// Environment Variables:
//
// Application Settings:
//   - ADMIN_PORT: Admin server port (default: 8090)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FORMAT: console or json (default: console)
//   - POOL_CONFIG_FILE: Optional YAML file with pool settings
//
// Connection Pool:
//   - POOL_HTTP_MAX_SOCKETS / POOL_HTTPS_MAX_SOCKETS: Connections per host (default: 50)
//   - POOL_HTTP_MAX_FREE_SOCKETS / POOL_HTTPS_MAX_FREE_SOCKETS: Idle connections per host (default: 10)
//   - POOL_TIMEOUT: Per-attempt timeout (default: 30s)
//   - POOL_KEEP_ALIVE: Reuse connections (default: true)
//   - POOL_KEEP_ALIVE_INTERVAL: TCP keep-alive probe interval (default: 30s)
//   - POOL_IDLE_TIMEOUT: Idle connection lifetime (default: 90s)
//
// Retry:
//   - RETRY_MAX_RETRIES (default: 3), RETRY_BASE_DELAY (default: 1s),
//     RETRY_MAX_DELAY (default: 30s), RETRY_BACKOFF_MULTIPLIER (default: 2),
//     RETRY_JITTER (default: true)
//
// Circuit Breaker:
//   - CB_FAILURE_THRESHOLD (default: 5), CB_SUCCESS_THRESHOLD (default: 2),
//     CB_BASE_TIMEOUT (default: 60s), CB_RESET_TIMEOUT_MULTIPLIER (default: 1.5),
//     CB_MAX_RESET_TIMEOUT (default: 300s)
//
// Batching and Deduplication:
//   - BATCH_ENABLED (default: false), BATCH_MAX_SIZE (default: 10),
//     BATCH_TIMEOUT (default: 50ms), BATCH_MAX_CONCURRENT (default: 5)
//   - DEDUP_ENABLED (default: true)
//
// Rate Limiting:
//   - RATE_LIMIT_ENABLED (default: false), RATE_LIMIT_RPS (default: 50),
//     RATE_LIMIT_BURST (default: 50)
//
// Probes:
//   - PROBE_TARGETS: Comma-separated URLs probed on a schedule
//   - PROBE_SCHEDULE: Cron expression for probes (default: @every 1m)
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//		log.Fatalf("Failed to load configuration: %v", err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid configuration: %v", err)
//	}
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"outbound-pool/internal/pool"
)

// Config holds all configuration values for the outbound pool service.
type Config struct {
	// Application settings
	AdminPort  string // Admin server port number
	LogLevel   string // Logging level (debug, info, warn, error)
	LogFormat  string // Log encoding (console, json)
	ConfigFile string // Optional YAML overlay path

	// Pool settings, passed to pool.New as-is
	Pool pool.Config

	// Scheduled probes
	ProbeTargets  []string // URLs probed through the pool
	ProbeSchedule string   // Cron expression
}

// fileConfig is the YAML document layout
type fileConfig struct {
	Pool   *pool.Config `yaml:"pool"`
	Probes struct {
		Targets  []string `yaml:"targets"`
		Schedule string   `yaml:"schedule"`
	} `yaml:"probes"`
}

// Load creates a new Config with values from the optional YAML file and
// environment variables. It does not validate; call Validate on the result.
func Load() (*Config, error) {
	cfg := &Config{
		AdminPort:     getEnv("ADMIN_PORT", "8090"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFormat:     getEnv("LOG_FORMAT", "console"),
		ConfigFile:    getEnv("POOL_CONFIG_FILE", ""),
		Pool:          pool.DefaultConfig(),
		ProbeSchedule: "@every 1m",
	}

	if cfg.ConfigFile != "" {
		if err := cfg.loadFile(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// loadFile overlays settings from a YAML file onto cfg
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	file := fileConfig{Pool: &c.Pool}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if len(file.Probes.Targets) > 0 {
		c.ProbeTargets = file.Probes.Targets
	}
	if file.Probes.Schedule != "" {
		c.ProbeSchedule = file.Probes.Schedule
	}
	return nil
}

// applyEnv overrides values that have an environment variable set
func (c *Config) applyEnv() {
	p := &c.Pool

	p.Transport.HTTP.MaxSockets = getIntEnv("POOL_HTTP_MAX_SOCKETS", p.Transport.HTTP.MaxSockets)
	p.Transport.HTTP.MaxFreeSockets = getIntEnv("POOL_HTTP_MAX_FREE_SOCKETS", p.Transport.HTTP.MaxFreeSockets)
	p.Transport.HTTPS.MaxSockets = getIntEnv("POOL_HTTPS_MAX_SOCKETS", p.Transport.HTTPS.MaxSockets)
	p.Transport.HTTPS.MaxFreeSockets = getIntEnv("POOL_HTTPS_MAX_FREE_SOCKETS", p.Transport.HTTPS.MaxFreeSockets)
	p.Timeout = getDurationEnv("POOL_TIMEOUT", p.Timeout)

	// keep-alive and idle settings apply to both schemes
	for _, sc := range []*pool.SchemeConfig{&p.Transport.HTTP, &p.Transport.HTTPS} {
		sc.KeepAlive = getBoolEnv("POOL_KEEP_ALIVE", sc.KeepAlive)
		sc.KeepAliveInterval = getDurationEnv("POOL_KEEP_ALIVE_INTERVAL", sc.KeepAliveInterval)
		sc.IdleTimeout = getDurationEnv("POOL_IDLE_TIMEOUT", sc.IdleTimeout)
	}

	p.Retry.MaxRetries = getIntEnv("RETRY_MAX_RETRIES", p.Retry.MaxRetries)
	p.Retry.BaseDelay = getDurationEnv("RETRY_BASE_DELAY", p.Retry.BaseDelay)
	p.Retry.MaxDelay = getDurationEnv("RETRY_MAX_DELAY", p.Retry.MaxDelay)
	p.Retry.BackoffMultiplier = getFloatEnv("RETRY_BACKOFF_MULTIPLIER", p.Retry.BackoffMultiplier)
	p.Retry.Jitter = getBoolEnv("RETRY_JITTER", p.Retry.Jitter)

	p.CircuitBreaker.FailureThreshold = getIntEnv("CB_FAILURE_THRESHOLD", p.CircuitBreaker.FailureThreshold)
	p.CircuitBreaker.SuccessThreshold = getIntEnv("CB_SUCCESS_THRESHOLD", p.CircuitBreaker.SuccessThreshold)
	p.CircuitBreaker.BaseTimeout = getDurationEnv("CB_BASE_TIMEOUT", p.CircuitBreaker.BaseTimeout)
	p.CircuitBreaker.ResetTimeoutMultiplier = getFloatEnv("CB_RESET_TIMEOUT_MULTIPLIER", p.CircuitBreaker.ResetTimeoutMultiplier)
	p.CircuitBreaker.MaxResetTimeout = getDurationEnv("CB_MAX_RESET_TIMEOUT", p.CircuitBreaker.MaxResetTimeout)

	p.Batch.Enabled = getBoolEnv("BATCH_ENABLED", p.Batch.Enabled)
	p.Batch.MaxBatchSize = getIntEnv("BATCH_MAX_SIZE", p.Batch.MaxBatchSize)
	p.Batch.BatchTimeout = getDurationEnv("BATCH_TIMEOUT", p.Batch.BatchTimeout)
	p.Batch.MaxConcurrent = getIntEnv("BATCH_MAX_CONCURRENT", p.Batch.MaxConcurrent)

	p.Dedup.Enabled = getBoolEnv("DEDUP_ENABLED", p.Dedup.Enabled)

	p.RateLimit.Enabled = getBoolEnv("RATE_LIMIT_ENABLED", p.RateLimit.Enabled)
	p.RateLimit.RequestsPerSecond = getFloatEnv("RATE_LIMIT_RPS", p.RateLimit.RequestsPerSecond)
	p.RateLimit.BurstSize = getIntEnv("RATE_LIMIT_BURST", p.RateLimit.BurstSize)

	if targets := getListEnv("PROBE_TARGETS"); len(targets) > 0 {
		c.ProbeTargets = targets
	}
	c.ProbeSchedule = getEnv("PROBE_SCHEDULE", c.ProbeSchedule)
}

// getEnv retrieves an environment variable value or returns a default value if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getBoolEnv accepts the strconv.ParseBool forms ("true", "1", "f", ...).
// Unset or unparsable values return defaultValue.
func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDurationEnv accepts Go durations ("250ms", "1m") or a bare number of milliseconds
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks that every value is usable. It returns the first problem found.
func (c *Config) Validate() error {
	if port, err := strconv.Atoi(c.AdminPort); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("ADMIN_PORT must be a valid port number between 1 and 65535")
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be 'console' or 'json'")
	}

	p := c.Pool
	if p.Transport.HTTP.MaxSockets < 1 || p.Transport.HTTPS.MaxSockets < 1 {
		return fmt.Errorf("POOL_HTTP_MAX_SOCKETS and POOL_HTTPS_MAX_SOCKETS must be positive")
	}
	if p.Transport.HTTP.MaxFreeSockets < 0 || p.Transport.HTTPS.MaxFreeSockets < 0 {
		return fmt.Errorf("max free sockets must not be negative")
	}
	if p.Timeout <= 0 {
		return fmt.Errorf("POOL_TIMEOUT must be a positive duration")
	}

	if p.Retry.MaxRetries < 0 {
		return fmt.Errorf("RETRY_MAX_RETRIES must not be negative")
	}
	if p.Retry.BaseDelay < 0 || p.Retry.MaxDelay < p.Retry.BaseDelay {
		return fmt.Errorf("RETRY_MAX_DELAY must be at least RETRY_BASE_DELAY")
	}
	if p.Retry.BackoffMultiplier < 1 {
		return fmt.Errorf("RETRY_BACKOFF_MULTIPLIER must be at least 1")
	}

	if p.CircuitBreaker.FailureThreshold < 1 || p.CircuitBreaker.SuccessThreshold < 1 {
		return fmt.Errorf("CB_FAILURE_THRESHOLD and CB_SUCCESS_THRESHOLD must be positive")
	}
	if p.CircuitBreaker.BaseTimeout <= 0 {
		return fmt.Errorf("CB_BASE_TIMEOUT must be a positive duration")
	}
	if p.CircuitBreaker.ResetTimeoutMultiplier < 1 {
		return fmt.Errorf("CB_RESET_TIMEOUT_MULTIPLIER must be at least 1")
	}
	if p.CircuitBreaker.MaxResetTimeout < p.CircuitBreaker.BaseTimeout {
		return fmt.Errorf("CB_MAX_RESET_TIMEOUT must be at least CB_BASE_TIMEOUT")
	}

	if p.Batch.Enabled {
		if p.Batch.MaxBatchSize < 1 || p.Batch.MaxConcurrent < 1 {
			return fmt.Errorf("BATCH_MAX_SIZE and BATCH_MAX_CONCURRENT must be positive")
		}
		if p.Batch.BatchTimeout <= 0 {
			return fmt.Errorf("BATCH_TIMEOUT must be a positive duration")
		}
	}

	if err := c.Pool.RateLimit.Validate(); err != nil {
		return fmt.Errorf("invalid rate limit configuration: %w", err)
	}

	if len(c.ProbeTargets) > 0 {
		if _, err := cron.ParseStandard(c.ProbeSchedule); err != nil {
			return fmt.Errorf("PROBE_SCHEDULE must be a valid cron expression: %w", err)
		}
		for _, target := range c.ProbeTargets {
			if _, _, err := pool.HostKey(target); err != nil {
				return fmt.Errorf("PROBE_TARGETS contains an invalid URL %q: %w", target, err)
			}
		}
	}

	return nil
}
