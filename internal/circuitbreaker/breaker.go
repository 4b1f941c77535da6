// Package circuitbreaker isolates failing upstream hosts. Each host key gets its own
// breaker that fails fast while open and admits a limited number of trial requests
// once the reopen timeout has elapsed.
package circuitbreaker

import (
	"sync"
	"time"

	"outbound-pool/internal/common/errors"
)

// State represents the current state of the circuit breaker
type State int

const (
	// StateClosed lets every request through
	StateClosed State = iota
	// StateOpen rejects requests until the reopen timeout elapses
	StateOpen
	// StateHalfOpen admits a limited number of trial requests
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Clock provides time for breaker decisions
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

// Now returns time.Now()
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Config holds the configuration for a circuit breaker
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker
	FailureThreshold int `yaml:"failure_threshold"`
	// SuccessThreshold is the number of half-open successes needed to close it
	SuccessThreshold int `yaml:"success_threshold"`
	// BaseTimeout is the first open period
	BaseTimeout time.Duration `yaml:"base_timeout"`
	// ResetTimeoutMultiplier grows the open period on every reopening
	ResetTimeoutMultiplier float64 `yaml:"reset_timeout_multiplier"`
	// MaxResetTimeout caps the open period
	MaxResetTimeout time.Duration `yaml:"max_reset_timeout"`
	// HalfOpenMaxTrials is the number of concurrent trial requests while half-open
	HalfOpenMaxTrials int `yaml:"half_open_max_trials"`
}

// DefaultConfig returns the default breaker configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold:       5,
		SuccessThreshold:       2,
		BaseTimeout:            60 * time.Second,
		ResetTimeoutMultiplier: 1.5,
		MaxResetTimeout:        300 * time.Second,
		HalfOpenMaxTrials:      1,
	}
}

func (c Config) normalized() Config {
	if c.FailureThreshold < 1 {
		c.FailureThreshold = 1
	}
	if c.SuccessThreshold < 1 {
		c.SuccessThreshold = 1
	}
	if c.HalfOpenMaxTrials < 1 {
		c.HalfOpenMaxTrials = 1
	}
	if c.ResetTimeoutMultiplier < 1 {
		c.ResetTimeoutMultiplier = 1
	}
	if c.MaxResetTimeout < c.BaseTimeout {
		c.MaxResetTimeout = c.BaseTimeout
	}
	return c
}

// Transition describes one state change
type Transition struct {
	Name     string
	From, To State
	Snapshot Snapshot
}

// Breaker implements the circuit breaker pattern for a single host key
type Breaker struct {
	name   string
	config Config
	clock  Clock

	mu              sync.Mutex
	state           State
	failures        int
	successes       int
	trials          int
	lastFailure     time.Time
	lastLatency     time.Duration
	lastStateChange time.Time
	openedAt        time.Time
	nextAttemptAt   time.Time
	currentTimeout  time.Duration
	reopening       bool

	// notifyMu keeps hook calls in the order transitions happened
	notifyMu      sync.Mutex
	onStateChange func(Transition)
}

// New creates a closed breaker
func New(name string, config Config, clock Clock) *Breaker {
	if clock == nil {
		clock = SystemClock{}
	}
	config = config.normalized()
	return &Breaker{
		name:            name,
		config:          config,
		clock:           clock,
		state:           StateClosed,
		currentTimeout:  config.BaseTimeout,
		lastStateChange: clock.Now(),
	}
}

// OnStateChange sets a callback invoked after every state change.
// The callback must not call back into the same breaker.
func (b *Breaker) OnStateChange(fn func(Transition)) {
	b.notifyMu.Lock()
	defer b.notifyMu.Unlock()
	b.onStateChange = fn
}

// Allow returns nil when a request may proceed, or a circuit_open error.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	now := b.clock.Now()

	var transitions []Transition
	var err error

	switch b.state {
	case StateOpen:
		if now.Before(b.nextAttemptAt) {
			err = errors.CircuitOpenError(b.name, b.nextAttemptAt)
			break
		}
		b.trials = 1
		transitions = b.setState(StateHalfOpen, now, transitions)
	case StateHalfOpen:
		if b.trials >= b.config.HalfOpenMaxTrials {
			err = errors.CircuitOpenError(b.name, time.Time{}).
				WithContext("reason", "half-open trial slots exhausted")
			break
		}
		b.trials++
	}

	b.unlockAndNotify(transitions)
	return err
}

// Record feeds the outcome of a request that Allow admitted, or of a straggler
// that was admitted before the breaker opened.
func (b *Breaker) Record(success bool, latency time.Duration) {
	b.mu.Lock()
	now := b.clock.Now()
	b.lastLatency = latency

	var transitions []Transition

	switch b.state {
	case StateClosed:
		if success {
			b.failures = 0
			break
		}
		b.failures++
		b.lastFailure = now
		if b.failures >= b.config.FailureThreshold {
			transitions = b.open(now, transitions)
		}

	case StateHalfOpen:
		if b.trials > 0 {
			b.trials--
		}
		if !success {
			b.lastFailure = now
			transitions = b.open(now, transitions)
			break
		}
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			transitions = b.close(now, transitions)
		}

	case StateOpen:
		if !success {
			b.lastFailure = now
			break
		}
		// a straggler succeeded: the host answers again
		b.trials = 0
		b.successes = 1
		transitions = b.setState(StateHalfOpen, now, transitions)
		if b.successes >= b.config.SuccessThreshold {
			transitions = b.close(now, transitions)
		}
	}

	b.unlockAndNotify(transitions)
}

// Release frees a half-open trial slot for a request that ended without a
// usable outcome, such as a caller cancellation.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateHalfOpen && b.trials > 0 {
		b.trials--
	}
}

// State returns the current state of the circuit breaker
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker closed
func (b *Breaker) Reset() {
	b.mu.Lock()
	var transitions []Transition
	transitions = b.close(b.clock.Now(), transitions)
	b.unlockAndNotify(transitions)
}

// Snapshot is a point-in-time view of a breaker
type Snapshot struct {
	HostKey              string        `json:"host_key"`
	State                string        `json:"state"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	ConsecutiveSuccesses int           `json:"consecutive_successes"`
	TrialsInFlight       int           `json:"trials_in_flight"`
	CurrentTimeout       time.Duration `json:"current_timeout"`
	LastLatency          time.Duration `json:"last_latency"`
	LastStateChange      time.Time     `json:"last_state_change"`
	LastFailure          *time.Time    `json:"last_failure,omitempty"`
	OpenedAt             *time.Time    `json:"opened_at,omitempty"`
	NextAttemptAt        *time.Time    `json:"next_attempt_at,omitempty"`
}

// Snapshot returns the current state
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Breaker) snapshotLocked() Snapshot {
	snap := Snapshot{
		HostKey:              b.name,
		State:                b.state.String(),
		ConsecutiveFailures:  b.failures,
		ConsecutiveSuccesses: b.successes,
		TrialsInFlight:       b.trials,
		CurrentTimeout:       b.currentTimeout,
		LastLatency:          b.lastLatency,
		LastStateChange:      b.lastStateChange,
	}
	if !b.lastFailure.IsZero() {
		t := b.lastFailure
		snap.LastFailure = &t
	}
	if b.state == StateOpen {
		opened, next := b.openedAt, b.nextAttemptAt
		snap.OpenedAt = &opened
		snap.NextAttemptAt = &next
	}
	return snap
}

func (b *Breaker) open(now time.Time, transitions []Transition) []Transition {
	if b.reopening {
		grown := time.Duration(float64(b.currentTimeout) * b.config.ResetTimeoutMultiplier)
		if grown > b.config.MaxResetTimeout || grown < b.currentTimeout {
			grown = b.config.MaxResetTimeout
		}
		b.currentTimeout = grown
	}
	b.reopening = true
	b.openedAt = now
	b.nextAttemptAt = now.Add(b.currentTimeout)
	b.successes = 0
	b.trials = 0
	return b.setState(StateOpen, now, transitions)
}

func (b *Breaker) close(now time.Time, transitions []Transition) []Transition {
	b.failures = 0
	b.successes = 0
	b.trials = 0
	b.reopening = false
	b.currentTimeout = b.config.BaseTimeout
	b.openedAt = time.Time{}
	b.nextAttemptAt = time.Time{}
	return b.setState(StateClosed, now, transitions)
}

func (b *Breaker) setState(to State, now time.Time, transitions []Transition) []Transition {
	from := b.state
	if from == to {
		return transitions
	}
	b.state = to
	b.lastStateChange = now
	if to != StateOpen {
		b.failures = 0
	}
	return append(transitions, Transition{Name: b.name, From: from, To: to, Snapshot: b.snapshotLocked()})
}

// unlockAndNotify releases mu and reports transitions while holding notifyMu,
// so concurrent callers deliver hooks in the order the state changed.
func (b *Breaker) unlockAndNotify(transitions []Transition) {
	if len(transitions) == 0 {
		b.mu.Unlock()
		return
	}
	b.notifyMu.Lock()
	b.mu.Unlock()
	defer b.notifyMu.Unlock()

	if b.onStateChange == nil {
		return
	}
	for _, t := range transitions {
		b.onStateChange(t)
	}
}
