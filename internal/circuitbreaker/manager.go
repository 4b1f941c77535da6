package circuitbreaker

import (
	"sort"
	"sync"
	"time"

	"outbound-pool/internal/common/logging"
)

// Registry owns one breaker per host key. Breakers are created lazily on first
// use and live as long as the registry.
type Registry struct {
	config   Config
	clock    Clock
	logger   logging.Logger
	breakers map[string]*Breaker
	mu       sync.RWMutex

	onStateChange func(Transition)
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithClock sets the time source shared by all breakers
func WithClock(clock Clock) RegistryOption {
	return func(r *Registry) {
		r.clock = clock
	}
}

// WithLogger sets the logger used for state change logging
func WithLogger(logger logging.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithStateChangeHook registers a callback for every breaker transition
func WithStateChangeHook(fn func(Transition)) RegistryOption {
	return func(r *Registry) {
		r.onStateChange = fn
	}
}

// NewRegistry creates a breaker registry
func NewRegistry(config Config, opts ...RegistryOption) *Registry {
	r := &Registry{
		config:   config,
		clock:    SystemClock{},
		breakers: make(map[string]*Breaker),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.OrGlobal(r.logger)
	return r
}

// Guard decides whether a request to hostKey may reach the transport.
// It returns nil to allow or a circuit_open AppError to reject.
func (r *Registry) Guard(hostKey string) error {
	return r.getOrCreate(hostKey).Allow()
}

// RecordOutcome feeds a request result into the breaker for hostKey
func (r *Registry) RecordOutcome(hostKey string, success bool, latency time.Duration) {
	r.getOrCreate(hostKey).Record(success, latency)
}

// Release frees a trial slot taken by Guard when the request produced no outcome
func (r *Registry) Release(hostKey string) {
	if b, ok := r.Get(hostKey); ok {
		b.Release()
	}
}

func (r *Registry) getOrCreate(hostKey string) *Breaker {
	r.mu.RLock()
	breaker, exists := r.breakers[hostKey]
	r.mu.RUnlock()
	if exists {
		return breaker
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if breaker, exists := r.breakers[hostKey]; exists {
		return breaker
	}

	breaker = New(hostKey, r.config, r.clock)
	breaker.OnStateChange(r.handleStateChange)
	r.breakers[hostKey] = breaker
	return breaker
}

func (r *Registry) handleStateChange(t Transition) {
	fields := []logging.Field{
		logging.String("host_key", t.Name),
		logging.String("from_state", t.From.String()),
		logging.String("to_state", t.To.String()),
	}
	if t.To == StateOpen {
		fields = append(fields, logging.Duration("reopen_timeout", t.Snapshot.CurrentTimeout))
		r.logger.Warn("Circuit breaker opened", fields...)
	} else {
		r.logger.Info("Circuit breaker state change", fields...)
	}

	if r.onStateChange != nil {
		r.onStateChange(t)
	}
}

// Get retrieves an existing breaker
func (r *Registry) Get(hostKey string) (*Breaker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	breaker, exists := r.breakers[hostKey]
	return breaker, exists
}

func (r *Registry) all() []*Breaker {
	r.mu.RLock()
	defer r.mu.RUnlock()

	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	return breakers
}

// Snapshots returns every breaker's state ordered by host key
func (r *Registry) Snapshots() []Snapshot {
	breakers := r.all()
	snaps := make([]Snapshot, 0, len(breakers))
	for _, b := range breakers {
		snaps = append(snaps, b.Snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].HostKey < snaps[j].HostKey
	})
	return snaps
}

// OpenCount returns how many breakers are currently open
func (r *Registry) OpenCount() int {
	count := 0
	for _, b := range r.all() {
		if b.State() == StateOpen {
			count++
		}
	}
	return count
}

// Reset forces every breaker closed
func (r *Registry) Reset() {
	for _, b := range r.all() {
		b.Reset()
		r.logger.Info("Circuit breaker reset", logging.String("host_key", b.name))
	}
}

// ResetHost forces the breaker for hostKey closed. It reports whether one existed.
func (r *Registry) ResetHost(hostKey string) bool {
	b, ok := r.Get(hostKey)
	if !ok {
		return false
	}
	b.Reset()
	r.logger.Info("Circuit breaker reset", logging.String("host_key", hostKey))
	return true
}

// Remove drops the breaker for hostKey
func (r *Registry) Remove(hostKey string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.breakers[hostKey]; exists {
		delete(r.breakers, hostKey)
		return true
	}
	return false
}
