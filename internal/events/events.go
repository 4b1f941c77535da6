// Package events defines the lifecycle events emitted by the outbound pool and
// the Sink interface that consumes them.
package events

import (
	"time"
)

// Type tags an Event
type Type string

const (
	RequestStart           Type = "request:start"
	RequestSuccess         Type = "request:success"
	RequestRetry           Type = "request:retry"
	RequestFailed          Type = "request:failed"
	RequestCircuitRejected Type = "request:circuit_rejected"
	RequestDeduplicated    Type = "request:deduplicated"
	CircuitOpen            Type = "circuit_breaker:open"
	CircuitHalfOpen        Type = "circuit_breaker:half_open"
	CircuitClosed          Type = "circuit_breaker:closed"
	BatchStart             Type = "batch:start"
	BatchComplete          Type = "batch:complete"
)

// Event is a single lifecycle notification. Which fields are set depends on Type.
type Event struct {
	Type Type      `json:"type"`
	Time time.Time `json:"time"`

	RequestID  string        `json:"request_id,omitempty"`
	Method     string        `json:"method,omitempty"`
	URL        string        `json:"url,omitempty"`
	HostKey    string        `json:"host_key,omitempty"`
	Attempt    int           `json:"attempt,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Delay      time.Duration `json:"delay,omitempty"`
	Err        error         `json:"-"`
	ErrorType  string        `json:"error_type,omitempty"`

	// request:deduplicated
	DedupKey string `json:"dedup_key,omitempty"`

	// circuit_breaker:*
	FromState     string        `json:"from_state,omitempty"`
	ToState       string        `json:"to_state,omitempty"`
	ReopenTimeout time.Duration `json:"reopen_timeout,omitempty"`
	NextAttemptAt *time.Time    `json:"next_attempt_at,omitempty"`

	// batch:*
	BatchID   string `json:"batch_id,omitempty"`
	BatchSize int    `json:"batch_size,omitempty"`
}

// Sink consumes events. Emit is called synchronously on the request path and
// must not block.
type Sink interface {
	Emit(Event)
}

// Nop discards events
type Nop struct{}

// Emit does nothing
func (Nop) Emit(Event) {}

// Multi fans an event out to several sinks in order
type Multi []Sink

// Emit forwards e to every sink
func (m Multi) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}
