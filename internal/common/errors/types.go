// Package errors defines the structured error taxonomy surfaced by the outbound pool.
package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeNetwork covers transport-level failures: reset, refused, DNS
	ErrTypeNetwork ErrorType = "network"
	// ErrTypeTimeout is a per-request timeout expiry
	ErrTypeTimeout ErrorType = "timeout"
	// ErrTypeCircuitOpen is returned when a breaker rejects a request
	ErrTypeCircuitOpen ErrorType = "circuit_open"
	// ErrTypeRetryExhausted wraps the last error once retries are used up
	ErrTypeRetryExhausted ErrorType = "retry_exhausted"
	// ErrTypeDedupWait is returned to callers that refuse to wait on a shared result
	ErrTypeDedupWait ErrorType = "dedup_wait"
	// ErrTypePoolClosing is returned for work interrupted or refused by shutdown
	ErrTypePoolClosing ErrorType = "pool_closing"
	// ErrTypeHTTPStatus is a non-2xx upstream response
	ErrTypeHTTPStatus ErrorType = "http_status"
	ErrTypeValidation ErrorType = "validation"
	ErrTypeConfig     ErrorType = "config"
	ErrTypeInternal   ErrorType = "internal"
	ErrTypeRateLimit  ErrorType = "rate_limit"
)

// AppError represents a structured application error
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	StatusCode int                    `json:"status_code,omitempty"`
	RetryAfter time.Duration          `json:"retry_after,omitempty"`
	Cause      error                  `json:"-"`
	Context    map[string]interface{} `json:"context,omitempty"`

	retryable *bool
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		contextParts := make([]string, 0, len(keys))
		for _, k := range keys {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// WithRetryable marks the error explicitly retryable or non-retryable,
// overriding classification by type.
func (e *AppError) WithRetryable(retryable bool) *AppError {
	e.retryable = &retryable
	return e
}

// Retryable reports the explicit retry mark. ok is false when none was set.
func (e *AppError) Retryable() (retryable, ok bool) {
	if e.retryable == nil {
		return false, false
	}
	return *e.retryable, true
}

// NetworkError creates a new network error
func NetworkError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeNetwork,
		Message: msg,
		Cause:   cause,
	}
}

// TimeoutError creates a new timeout error
func TimeoutError(operation string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeTimeout,
		Message: fmt.Sprintf("timeout during %s", operation),
		Cause:   cause,
	}
}

// CircuitOpenError is returned when the breaker for hostKey rejects a request
func CircuitOpenError(hostKey string, nextAttemptAt time.Time) *AppError {
	err := &AppError{
		Type:    ErrTypeCircuitOpen,
		Message: fmt.Sprintf("circuit open for %s", hostKey),
	}
	err.WithContext("host_key", hostKey)
	if !nextAttemptAt.IsZero() {
		err.WithContext("next_attempt_at", nextAttemptAt.UTC().Format(time.RFC3339Nano))
	}
	return err.WithRetryable(false)
}

// RetryExhaustedError wraps the last failure after attempts were used up
func RetryExhaustedError(attempts int, elapsed time.Duration, last error) *AppError {
	err := &AppError{
		Type:    ErrTypeRetryExhausted,
		Message: fmt.Sprintf("gave up after %d attempts", attempts),
		Cause:   last,
	}
	err.WithContext("attempts", attempts)
	err.WithContext("elapsed", elapsed.String())
	if t := GetType(last); t != "" {
		err.WithContext("last_error_type", string(t))
	}
	return err.WithRetryable(false)
}

// DeduplicatedWaitError is returned to a duplicate caller that opted out of waiting
func DeduplicatedWaitError(key string) *AppError {
	return (&AppError{
		Type:    ErrTypeDedupWait,
		Message: "identical request already in flight",
	}).WithContext("dedup_key", key).WithRetryable(false)
}

// PoolClosingError is returned for work refused or interrupted by shutdown
func PoolClosingError(cause error) *AppError {
	return (&AppError{
		Type:    ErrTypePoolClosing,
		Message: "connection pool is closing",
		Cause:   cause,
	}).WithRetryable(false)
}

// HTTPStatusError creates an error for a non-2xx upstream response
func HTTPStatusError(statusCode int, status string, retryAfter time.Duration) *AppError {
	msg := status
	if msg == "" {
		msg = fmt.Sprintf("unexpected status %d", statusCode)
	}
	return &AppError{
		Type:       ErrTypeHTTPStatus,
		Message:    msg,
		StatusCode: statusCode,
		RetryAfter: retryAfter,
	}
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// RateLimitError creates a new rate limit error
func RateLimitError(resource string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeRateLimit,
		Message: fmt.Sprintf("rate limit wait failed for %s", resource),
		Cause:   cause,
	}
}

// As finds the first AppError in err's chain
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsType checks if an error, or anything it wraps, is an AppError of errType
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		appErr, ok := As(err)
		if !ok {
			return false
		}
		if appErr.Type == errType {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// GetType returns the outermost AppError type, ErrTypeInternal for foreign errors
// and "" for nil.
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}
	appErr, ok := As(err)
	if !ok {
		return ErrTypeInternal
	}
	return appErr.Type
}
