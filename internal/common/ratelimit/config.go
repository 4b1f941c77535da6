// Package ratelimit paces outbound requests per upstream host with token buckets.
// State is process-local; nothing is shared between instances.
package ratelimit

import (
	"fmt"
	"time"
)

// Config represents rate limiter configuration
type Config struct {
	Enabled           bool    `json:"enabled" yaml:"enabled"`
	RequestsPerSecond float64 `json:"requests_per_second" yaml:"requests_per_second"`
	BurstSize         int     `json:"burst_size" yaml:"burst_size"`

	// MaxKeys bounds how many host limiters are kept; idle ones are evicted first
	MaxKeys       int           `json:"max_keys,omitempty" yaml:"max_keys,omitempty"`
	CleanupPeriod time.Duration `json:"cleanup_period,omitempty" yaml:"cleanup_period,omitempty"`
}

// DefaultConfig returns a disabled limiter with sane rates for when it is turned on
func DefaultConfig() Config {
	return Config{
		Enabled:           false,
		RequestsPerSecond: 50,
		BurstSize:         50,
		MaxKeys:           10000,
		CleanupPeriod:     5 * time.Minute,
	}
}

// Validate checks the configuration and fills defaults for unset cleanup settings
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive, got %v", c.RequestsPerSecond)
	}
	if c.BurstSize <= 0 {
		c.BurstSize = int(c.RequestsPerSecond)
		if c.BurstSize < 1 {
			c.BurstSize = 1
		}
	}
	if c.MaxKeys <= 0 {
		c.MaxKeys = 10000
	}
	if c.CleanupPeriod <= 0 {
		c.CleanupPeriod = 5 * time.Minute
	}
	return nil
}
