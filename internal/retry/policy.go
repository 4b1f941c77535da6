// Package retry decides whether a failed outbound attempt is retried and how long
// to wait before the next one.
package retry

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	stderrors "errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"outbound-pool/internal/common/errors"
)

// Config holds retry and backoff settings.
type Config struct {
	// MaxRetries is the number of retries after the initial attempt
	MaxRetries int `yaml:"max_retries"`
	// BaseDelay is the delay before the first retry
	BaseDelay time.Duration `yaml:"base_delay"`
	// MaxDelay caps every computed delay, including retry-after hints
	MaxDelay time.Duration `yaml:"max_delay"`
	// BackoffMultiplier grows the delay per attempt (2.0 doubles it)
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	// Jitter perturbs each delay by up to JitterFactor of its value in either direction
	Jitter       bool    `yaml:"jitter"`
	JitterFactor float64 `yaml:"jitter_factor"`
}

// DefaultConfig returns the default retry configuration.
//
//   - MaxRetries: 3
//   - BaseDelay: 1 second
//   - MaxDelay: 30 seconds
//   - BackoffMultiplier: 2.0
//   - Jitter: on, ±10%
func DefaultConfig() Config {
	return Config{
		MaxRetries:        3,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		JitterFactor:      0.1,
	}
}

// Policy applies a Config. It holds no per-request state and is safe for concurrent use.
type Policy struct {
	config Config
	random func() float64
}

// Option configures a Policy
type Option func(*Policy)

// WithRandom replaces the jitter source. fn must return values in [0, 1).
func WithRandom(fn func() float64) Option {
	return func(p *Policy) {
		p.random = fn
	}
}

// NewPolicy creates a retry policy
func NewPolicy(config Config, opts ...Option) *Policy {
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 1
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = config.BaseDelay
	}
	if config.JitterFactor < 0 {
		config.JitterFactor = 0
	}

	p := &Policy{config: config, random: cryptoFloat64}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the policy configuration
func (p *Policy) Config() Config {
	return p.config
}

// MaxRetries returns the configured retry limit
func (p *Policy) MaxRetries() int {
	return p.config.MaxRetries
}

// ShouldRetry reports whether err, produced by attempt (0-based), deserves another try.
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	return p.ShouldRetryWithLimit(err, attempt, p.config.MaxRetries)
}

// ShouldRetryWithLimit is ShouldRetry with a per-request retry limit.
func (p *Policy) ShouldRetryWithLimit(err error, attempt, maxRetries int) bool {
	if err == nil || attempt >= maxRetries {
		return false
	}
	return IsRetryable(err)
}

// NextDelay returns how long to wait before retrying after attempt failed with err.
// The result is always within [0, MaxDelay].
func (p *Policy) NextDelay(attempt int, err error) time.Duration {
	if hint := RetryAfterHint(err); hint > 0 {
		if hint > p.config.MaxDelay {
			return p.config.MaxDelay
		}
		return hint
	}

	if attempt < 0 {
		attempt = 0
	}

	delay := float64(p.config.BaseDelay) * math.Pow(p.config.BackoffMultiplier, float64(attempt))
	maxDelay := float64(p.config.MaxDelay)
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay > maxDelay {
		delay = maxDelay
	}

	if p.config.Jitter && p.config.JitterFactor > 0 {
		spread := delay * p.config.JitterFactor
		delay += (p.random()*2 - 1) * spread
	}

	switch {
	case delay < 0:
		return 0
	case delay > maxDelay:
		return p.config.MaxDelay
	}
	return time.Duration(delay)
}

// IsRetryable classifies an error without regard to attempt counts.
//
// An explicit mark on an AppError wins. Otherwise network failures, timeouts,
// HTTP 429 and 5xx are transient; everything else, including caller
// cancellation, is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if appErr, ok := errors.As(err); ok {
		if retryable, marked := appErr.Retryable(); marked {
			return retryable
		}
		switch appErr.Type {
		case errors.ErrTypeNetwork, errors.ErrTypeTimeout:
			return true
		case errors.ErrTypeHTTPStatus:
			return IsRetryableStatus(appErr.StatusCode)
		case errors.ErrTypeCircuitOpen, errors.ErrTypePoolClosing,
			errors.ErrTypeDedupWait, errors.ErrTypeRetryExhausted,
			errors.ErrTypeValidation, errors.ErrTypeConfig:
			return false
		}
		if appErr.Cause == nil {
			return false
		}
		err = appErr.Cause
	}

	if stderrors.Is(err, context.Canceled) {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if stderrors.Is(err, syscall.ECONNREFUSED) ||
		stderrors.Is(err, syscall.ECONNRESET) ||
		stderrors.Is(err, syscall.ETIMEDOUT) ||
		stderrors.Is(err, syscall.ENETUNREACH) ||
		stderrors.Is(err, syscall.EPIPE) {
		return true
	}

	var dnsErr *net.DNSError
	if stderrors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	return stderrors.As(err, &opErr)
}

// IsRetryableStatus reports whether an HTTP status is transient
func IsRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || (code >= 500 && code <= 599)
}

// RetryAfterHint returns the retry-after duration carried by err, if any
func RetryAfterHint(err error) time.Duration {
	appErr, ok := errors.As(err)
	if !ok {
		return 0
	}
	return appErr.RetryAfter
}

// maxRetryAfterSeconds is the largest delta-seconds value representable as a Duration
const maxRetryAfterSeconds = math.MaxInt64 / int64(time.Second)

// ParseRetryAfter parses a Retry-After header value given as delta-seconds or an
// HTTP-date. It returns 0 for empty, malformed or past values.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}

	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil || stderrors.Is(err, strconv.ErrRange) {
		if seconds <= 0 {
			return 0
		}
		if seconds > maxRetryAfterSeconds {
			seconds = maxRetryAfterSeconds
		}
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(value); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// cryptoFloat64 returns a uniformly distributed value in [0, 1)
func cryptoFloat64() float64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return float64(time.Now().UnixNano()%1000) / 1000
	}
	return float64(binary.BigEndian.Uint64(b[:])>>11) / (1 << 53)
}
