package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter keeps one token bucket per key
type HostLimiter struct {
	mu       sync.Mutex
	config   Config
	limiters map[string]*limiterEntry

	lastCleanup time.Time
	now         func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// New creates a per-key limiter
func New(config Config) (*HostLimiter, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &HostLimiter{
		config:      config,
		limiters:    make(map[string]*limiterEntry),
		lastCleanup: time.Now(),
		now:         time.Now,
	}, nil
}

// Enabled reports whether limiting is active
func (l *HostLimiter) Enabled() bool {
	return l.config.Enabled
}

// WaitForKey blocks until key has a token or ctx ends
func (l *HostLimiter) WaitForKey(ctx context.Context, key string) error {
	if !l.config.Enabled {
		return nil
	}
	return l.limiterFor(key).Wait(ctx)
}

func (l *HostLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastCleanup) > l.config.CleanupPeriod {
		l.cleanup(now)
	}

	entry, exists := l.limiters[key]
	if !exists {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(l.config.RequestsPerSecond), l.config.BurstSize),
		}
		l.limiters[key] = entry

		if len(l.limiters) > l.config.MaxKeys {
			l.evictOldest(key)
		}
	}
	entry.lastUsed = now

	return entry.limiter
}

// cleanup drops limiters idle for longer than CleanupPeriod
func (l *HostLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-l.config.CleanupPeriod)
	for key, entry := range l.limiters {
		if entry.lastUsed.Before(cutoff) {
			delete(l.limiters, key)
		}
	}
	l.lastCleanup = now
}

func (l *HostLimiter) evictOldest(keep string) {
	var oldestKey string
	var oldest time.Time
	for key, entry := range l.limiters {
		if key == keep {
			continue
		}
		if oldestKey == "" || entry.lastUsed.Before(oldest) {
			oldestKey, oldest = key, entry.lastUsed
		}
	}
	if oldestKey != "" {
		delete(l.limiters, oldestKey)
	}
}

// Stats describes limiter state
type Stats struct {
	Enabled           bool    `json:"enabled"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	BurstSize         int     `json:"burst_size"`
	ActiveKeys        int     `json:"active_keys"`
	MaxKeys           int     `json:"max_keys"`
}

// Stats returns limiter statistics
func (l *HostLimiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	return Stats{
		Enabled:           l.config.Enabled,
		RequestsPerSecond: l.config.RequestsPerSecond,
		BurstSize:         l.config.BurstSize,
		ActiveKeys:        len(l.limiters),
		MaxKeys:           l.config.MaxKeys,
	}
}
