// Package pool is the entry point for resilient outbound HTTP. A Manager owns
// pooled transports and composes deduplication, batching, circuit breaking,
// rate limiting and retries around every request.
package pool

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"outbound-pool/internal/batch"
	"outbound-pool/internal/circuitbreaker"
	"outbound-pool/internal/common/errors"
	"outbound-pool/internal/common/logging"
	"outbound-pool/internal/common/ratelimit"
	"outbound-pool/internal/dedup"
	"outbound-pool/internal/events"
	"outbound-pool/internal/retry"
)

// Config holds everything a Manager needs
type Config struct {
	Transport TransportConfig `yaml:"transport"`
	// Timeout bounds each attempt unless the request overrides it
	Timeout        time.Duration         `yaml:"timeout"`
	Retry          retry.Config          `yaml:"retry"`
	CircuitBreaker circuitbreaker.Config `yaml:"circuit_breaker"`
	Dedup          dedup.Config          `yaml:"dedup"`
	Batch          batch.Config          `yaml:"batch"`
	RateLimit      ratelimit.Config      `yaml:"rate_limit"`
	// WarnUtilization is the socket utilization at which health turns to warning
	WarnUtilization float64 `yaml:"warn_utilization"`
}

// DefaultConfig returns the default manager configuration
func DefaultConfig() Config {
	return Config{
		Transport:       DefaultTransportConfig(),
		Timeout:         30 * time.Second,
		Retry:           retry.DefaultConfig(),
		CircuitBreaker:  circuitbreaker.DefaultConfig(),
		Dedup:           dedup.DefaultConfig(),
		Batch:           batch.DefaultConfig(),
		RateLimit:       ratelimit.DefaultConfig(),
		WarnUtilization: 0.8,
	}
}

// Option configures a Manager
type Option func(*Manager)

// WithSink sets the event consumer
func WithSink(sink events.Sink) Option {
	return func(m *Manager) {
		m.sink = sink
	}
}

// WithLogger sets the logger
func WithLogger(logger logging.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock sets the time source used by circuit breakers
func WithClock(clock circuitbreaker.Clock) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// WithRetryOptions passes options to the retry policy, e.g. a fixed jitter source
func WithRetryOptions(opts ...retry.Option) Option {
	return func(m *Manager) {
		m.retryOpts = append(m.retryOpts, opts...)
	}
}

// WithTracerProvider sets the OpenTelemetry provider; the global one is used otherwise
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(m *Manager) {
		m.tracer = tp.Tracer(tracerName)
	}
}

const tracerName = "outbound-pool"

// call is one Execute invocation travelling through the gates
type call struct {
	id      string
	req     *Request
	method  string
	hostKey string
	scheme  string
}

// Manager issues outbound requests. Create one with New and release it with Close.
type Manager struct {
	config    Config
	logger    logging.Logger
	sink      events.Sink
	tracer    trace.Tracer
	clock     circuitbreaker.Clock
	retryOpts []retry.Option

	transports map[string]*http.Transport
	clients    map[string]*http.Client

	breakers *circuitbreaker.Registry
	policy   *retry.Policy
	dedup    *dedup.Deduplicator[*Response]
	batcher  *batch.Scheduler[*call, *Response]
	limiter  *ratelimit.HostLimiter
	stats    statsCollector

	rootCtx    context.Context
	rootCancel context.CancelFunc

	mu        sync.Mutex
	closing   bool
	inflight  sync.WaitGroup
	closeOnce sync.Once
	released  atomic.Int32
}

// New builds a Manager from config
func New(config Config, opts ...Option) (*Manager, error) {
	limiter, err := ratelimit.New(config.RateLimit)
	if err != nil {
		return nil, errors.ConfigError("invalid rate limit configuration").WithContext("reason", err.Error())
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.WarnUtilization <= 0 {
		config.WarnUtilization = DefaultConfig().WarnUtilization
	}

	m := &Manager{
		config:  config,
		limiter: limiter,
		clock:   circuitbreaker.SystemClock{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.OrGlobal(m.logger).WithFields(logging.String("component", "outbound-pool"))
	if m.sink == nil {
		m.sink = events.Nop{}
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer(tracerName)
	}

	m.rootCtx, m.rootCancel = context.WithCancel(context.Background())

	m.transports = map[string]*http.Transport{
		"http":  newTransport(config.Transport.HTTP),
		"https": newTransport(config.Transport.HTTPS),
	}
	m.clients = make(map[string]*http.Client, len(m.transports))
	for scheme, t := range m.transports {
		m.clients[scheme] = &http.Client{Transport: t}
	}

	m.policy = retry.NewPolicy(config.Retry, m.retryOpts...)
	m.breakers = circuitbreaker.NewRegistry(config.CircuitBreaker,
		circuitbreaker.WithClock(m.clock),
		circuitbreaker.WithLogger(m.logger),
		circuitbreaker.WithStateChangeHook(m.onCircuitTransition),
	)
	m.dedup = dedup.New[*Response](config.Dedup)
	m.batcher = batch.New[*call, *Response](config.Batch, m.send, batch.Hooks{
		OnBatchStart: func(id string, size int) {
			m.stats.batched.Add(int64(size))
			m.emit(events.Event{Type: events.BatchStart, BatchID: id, BatchSize: size})
		},
		OnBatchComplete: func(id string, size int, d time.Duration) {
			m.emit(events.Event{Type: events.BatchComplete, BatchID: id, BatchSize: size, Duration: d})
		},
	}, m.logger)

	return m, nil
}

// Execute sends req through the dedup, batch, breaker, rate-limit and retry
// layers. For non-2xx responses both the response and an http_status error are
// returned.
func (m *Manager) Execute(ctx context.Context, req *Request) (*Response, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	hostKey, scheme, err := HostKey(req.URL)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.closing {
		m.mu.Unlock()
		return nil, errors.PoolClosingError(nil)
	}
	m.inflight.Add(1)
	m.mu.Unlock()
	defer m.inflight.Done()

	c := &call{
		id:      uuid.NewString(),
		req:     req,
		method:  req.method(),
		hostKey: hostKey,
		scheme:  scheme,
	}

	ctx = logging.ContextWithRequestID(ctx, c.id)
	ctx = logging.ContextWithHostKey(ctx, hostKey)
	ctx, span := m.tracer.Start(ctx, "outbound.execute", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", c.method),
			attribute.String("url.full", req.URL),
			attribute.String("outbound.host_key", hostKey),
			attribute.String("outbound.request_id", c.id),
		))
	defer span.End()

	m.stats.total.Add(1)

	var resp *Response
	if m.dedupEligible(c) {
		key := dedup.Key(c.method, req.URL, req.Body, req.IdempotencyKey)
		var joined bool
		resp, joined, err = m.dedup.Coordinate(ctx, key, req.NoWaitOnDuplicate, func(sharedCtx context.Context) (*Response, error) {
			return m.dispatch(sharedCtx, c)
		})
		if joined {
			m.stats.deduplicated.Add(1)
			m.emit(events.Event{Type: events.RequestDeduplicated, RequestID: c.id, Method: c.method,
				URL: req.URL, HostKey: hostKey, DedupKey: key})
		}
		span.SetAttributes(attribute.Bool("outbound.deduplicated", joined))
	} else {
		resp, err = m.dispatch(ctx, c)
	}

	if resp != nil {
		span.SetAttributes(
			attribute.Int("http.response.status_code", resp.StatusCode),
			attribute.Int("outbound.attempts", resp.Attempts),
		)
	}
	if err != nil {
		m.stats.failed.Add(1)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(errors.GetType(err)))
		return resp, err
	}

	m.stats.successful.Add(1)
	span.SetStatus(codes.Ok, "")
	return resp, nil
}

func (m *Manager) dedupEligible(c *call) bool {
	if !m.config.Dedup.Enabled {
		return false
	}
	if c.req.Dedupable != nil {
		return *c.req.Dedupable
	}
	return m.dedup.Eligible(c.method)
}

func (m *Manager) batchEligible(c *call) bool {
	if !m.config.Batch.Enabled {
		return false
	}
	if c.req.Batchable != nil {
		return *c.req.Batchable
	}
	return m.batcher.Eligible(c.method)
}

func (m *Manager) dispatch(ctx context.Context, c *call) (*Response, error) {
	if m.batchEligible(c) {
		return m.batcher.Submit(ctx, c)
	}
	return m.send(ctx, c)
}

// send runs the guarded attempt loop for one execution
func (m *Manager) send(parent context.Context, c *call) (*Response, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	stop := context.AfterFunc(m.rootCtx, cancel)
	defer stop()

	maxRetries := m.policy.MaxRetries()
	if c.req.MaxRetries != nil {
		maxRetries = *c.req.MaxRetries
	}

	rc := retry.NewContext(nil)
	m.emit(events.Event{Type: events.RequestStart, RequestID: c.id, Method: c.method, URL: c.req.URL, HostKey: c.hostKey})

	for {
		if m.limiter.Enabled() {
			if err := m.limiter.WaitForKey(ctx, c.hostKey); err != nil {
				return nil, m.fail(c, rc, m.interrupted(parent, errors.RateLimitError(c.hostKey, err)))
			}
		}

		if err := m.breakers.Guard(c.hostKey); err != nil {
			m.stats.rejections.Add(1)
			m.emit(events.Event{Type: events.RequestCircuitRejected, RequestID: c.id, Method: c.method,
				URL: c.req.URL, HostKey: c.hostKey, Attempt: rc.Attempt, Err: err})
			return nil, m.fail(c, rc, err)
		}

		resp, err := m.attempt(ctx, parent, c)
		if err == nil {
			m.breakers.RecordOutcome(c.hostKey, true, resp.Duration)
			m.stats.observeLatency(resp.Duration)
			resp.Attempts = rc.Attempts()
			m.emit(events.Event{Type: events.RequestSuccess, RequestID: c.id, Method: c.method, URL: c.req.URL,
				HostKey: c.hostKey, Attempt: rc.Attempt, StatusCode: resp.StatusCode, Duration: rc.Elapsed()})
			return resp, nil
		}

		m.recordFailure(c, resp, err)
		rc.Fail(err)
		if resp != nil {
			resp.Attempts = rc.Attempts()
		}

		if errors.IsType(err, errors.ErrTypePoolClosing) || parent.Err() != nil {
			return resp, m.fail(c, rc, err)
		}

		if !m.policy.ShouldRetryWithLimit(err, rc.Attempt, maxRetries) {
			if retry.IsRetryable(err) {
				err = retry.Exhausted(rc)
			}
			return resp, m.fail(c, rc, err)
		}

		delay := m.policy.NextDelay(rc.Attempt, err)
		m.stats.retried.Add(1)
		m.emit(events.Event{Type: events.RequestRetry, RequestID: c.id, Method: c.method, URL: c.req.URL,
			HostKey: c.hostKey, Attempt: rc.Attempt + 1, Delay: delay, Err: err, ErrorType: string(errors.GetType(err))})

		if err := m.sleep(ctx, delay); err != nil {
			return resp, m.fail(c, rc, m.interrupted(parent, err))
		}
		rc.Next()
	}
}

// attempt performs a single transport round trip bounded by the request timeout
func (m *Manager) attempt(ctx, parent context.Context, c *call) (*Response, error) {
	timeout := m.config.Timeout
	if c.req.Timeout > 0 {
		timeout = c.req.Timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, c.method, c.req.URL, c.req.bodyReader())
	if err != nil {
		return nil, errors.ValidationError("failed to build request").WithContext("reason", err.Error()).WithRetryable(false)
	}
	for key, values := range c.req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	m.stats.active.Add(1)
	defer m.stats.active.Add(-1)

	start := time.Now()
	res, err := m.clients[c.scheme].Do(httpReq)
	if err != nil {
		return nil, m.classify(parent, attemptCtx, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, m.classify(parent, attemptCtx, err)
	}

	resp := &Response{
		StatusCode: res.StatusCode,
		Header:     res.Header,
		Body:       body,
		Duration:   time.Since(start),
		HostKey:    c.hostKey,
	}
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return resp, nil
	}

	retryAfter := retry.ParseRetryAfter(res.Header.Get("Retry-After"), time.Now())
	return resp, errors.HTTPStatusError(res.StatusCode, res.Status, retryAfter)
}

// classify maps a transport error to the taxonomy
func (m *Manager) classify(parent, attemptCtx context.Context, err error) error {
	if m.rootCtx.Err() != nil {
		return errors.PoolClosingError(err)
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	if stderrors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return errors.TimeoutError("request", err)
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.TimeoutError("request", err)
	}
	return errors.NetworkError("request failed", err)
}

// interrupted reports why a wait ended early
func (m *Manager) interrupted(parent context.Context, err error) error {
	if m.rootCtx.Err() != nil {
		return errors.PoolClosingError(err)
	}
	if parent.Err() != nil {
		return parent.Err()
	}
	return err
}

// recordFailure feeds a failed attempt into the breaker. Client errors other
// than 429 mean the host is up; cancellations carry no signal either way.
func (m *Manager) recordFailure(c *call, resp *Response, err error) {
	var latency time.Duration
	if resp != nil {
		latency = resp.Duration
	}

	switch errors.GetType(err) {
	case errors.ErrTypeNetwork, errors.ErrTypeTimeout:
		m.breakers.RecordOutcome(c.hostKey, false, latency)
	case errors.ErrTypeHTTPStatus:
		m.breakers.RecordOutcome(c.hostKey, !retry.IsRetryableStatus(resp.StatusCode), latency)
	default:
		m.breakers.Release(c.hostKey)
	}
}

func (m *Manager) fail(c *call, rc *retry.Context, err error) error {
	if appErr, ok := errors.As(err); ok {
		appErr.WithContext("host_key", c.hostKey).
			WithContext("request_id", c.id).
			WithContext("attempts", rc.Attempts()).
			WithContext("elapsed", rc.Elapsed().String())
	}
	m.emit(events.Event{Type: events.RequestFailed, RequestID: c.id, Method: c.method, URL: c.req.URL,
		HostKey: c.hostKey, Attempt: rc.Attempt, Duration: rc.Elapsed(), Err: err,
		ErrorType: string(errors.GetType(err))})
	return err
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) onCircuitTransition(t circuitbreaker.Transition) {
	e := events.Event{
		HostKey:       t.Name,
		FromState:     t.From.String(),
		ToState:       t.To.String(),
		ReopenTimeout: t.Snapshot.CurrentTimeout,
		NextAttemptAt: t.Snapshot.NextAttemptAt,
	}
	switch t.To {
	case circuitbreaker.StateOpen:
		e.Type = events.CircuitOpen
	case circuitbreaker.StateHalfOpen:
		e.Type = events.CircuitHalfOpen
	default:
		e.Type = events.CircuitClosed
	}
	m.emit(e)
}

func (m *Manager) emit(e events.Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if e.Err != nil && e.ErrorType == "" {
		e.ErrorType = string(errors.GetType(e.Err))
	}
	m.sink.Emit(e)
}

// GetMetrics returns a snapshot of pool statistics
func (m *Manager) GetMetrics() Stats {
	return Stats{
		TotalRequests:        m.stats.total.Load(),
		SuccessfulRequests:   m.stats.successful.Load(),
		FailedRequests:       m.stats.failed.Load(),
		RetriedRequests:      m.stats.retried.Load(),
		DeduplicatedRequests: m.stats.deduplicated.Load(),
		BatchedRequests:      m.stats.batched.Load(),
		CircuitRejections:    m.stats.rejections.Load(),
		AverageResponseTime:  m.stats.averageLatency(),
		ActiveRequests:       m.stats.active.Load(),
		DedupInFlight:        m.dedup.InFlight(),
		BatchQueueLength:     m.batcher.QueueLength(),
		Circuits:             m.breakers.Snapshots(),
		RateLimit:            m.limiter.Stats(),
		CapturedAt:           time.Now(),
	}
}

// ResetMetrics zeroes request counters. Breaker state is untouched.
func (m *Manager) ResetMetrics() {
	m.stats.reset()
}

// Circuits exposes the breaker registry for inspection and manual resets
func (m *Manager) Circuits() *circuitbreaker.Registry {
	return m.breakers
}

// HealthCheck reports socket utilization and open circuits
func (m *Manager) HealthCheck() Health {
	capacity := m.config.Transport.Capacity()
	active := m.stats.active.Load()
	open := m.breakers.OpenCount()

	var utilization float64
	if capacity > 0 {
		utilization = float64(active) / float64(capacity)
	}

	m.mu.Lock()
	closing := m.closing
	m.mu.Unlock()

	status := HealthStatusHealthy
	if utilization >= m.config.WarnUtilization || open > 0 || closing {
		status = HealthStatusWarning
	}

	return Health{
		Status:         status,
		Utilization:    utilization,
		OpenCircuits:   open,
		ActiveRequests: active,
		Capacity:       capacity,
		Closing:        closing,
	}
}

// Close stops accepting requests, rejects queued batch entries, interrupts
// in-flight attempts and backoff waits, waits for executions to unwind (bounded
// by ctx) and releases idle connections. Calling it again is a no-op.
func (m *Manager) Close(ctx context.Context) error {
	var err error
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closing = true
		m.mu.Unlock()

		m.logger.Info("Closing connection pool")

		m.batcher.Close()
		m.rootCancel()

		done := make(chan struct{})
		go func() {
			m.inflight.Wait()
			m.batcher.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
			m.logger.Warn("Connection pool closed before in-flight requests finished")
		}

		for _, t := range m.transports {
			t.CloseIdleConnections()
		}
		m.released.Add(1)

		m.logger.Info("Connection pool closed")
	})
	return err
}
