package pool

import (
	"sync"
	"sync/atomic"
	"time"

	"outbound-pool/internal/circuitbreaker"
	"outbound-pool/internal/common/ratelimit"
)

// Stats is a snapshot of pool activity. Request counters are per Execute call;
// AverageResponseTime covers successful upstream executions.
type Stats struct {
	TotalRequests        int64                     `json:"total_requests"`
	SuccessfulRequests   int64                     `json:"successful_requests"`
	FailedRequests       int64                     `json:"failed_requests"`
	RetriedRequests      int64                     `json:"retried_requests"`
	DeduplicatedRequests int64                     `json:"deduplicated_requests"`
	BatchedRequests      int64                     `json:"batched_requests"`
	CircuitRejections    int64                     `json:"circuit_rejections"`
	AverageResponseTime  time.Duration             `json:"average_response_time"`
	ActiveRequests       int64                     `json:"active_requests"`
	DedupInFlight        int                       `json:"dedup_in_flight"`
	BatchQueueLength     int                       `json:"batch_queue_length"`
	Circuits             []circuitbreaker.Snapshot `json:"circuits"`
	RateLimit            ratelimit.Stats           `json:"rate_limit"`
	CapturedAt           time.Time                 `json:"captured_at"`
}

// Health summarizes whether the pool is under pressure
type Health struct {
	Status         string  `json:"status"`
	Utilization    float64 `json:"utilization"`
	OpenCircuits   int     `json:"open_circuits"`
	ActiveRequests int64   `json:"active_requests"`
	Capacity       int     `json:"capacity"`
	Closing        bool    `json:"closing"`
}

const (
	HealthStatusHealthy = "healthy"
	HealthStatusWarning = "warning"
)

type statsCollector struct {
	total        atomic.Int64
	successful   atomic.Int64
	failed       atomic.Int64
	retried      atomic.Int64
	deduplicated atomic.Int64
	batched      atomic.Int64
	rejections   atomic.Int64
	active       atomic.Int64

	mu           sync.Mutex
	latencySum   time.Duration
	latencyCount int64
}

func (s *statsCollector) observeLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencySum += d
	s.latencyCount++
}

func (s *statsCollector) averageLatency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latencyCount == 0 {
		return 0
	}
	return s.latencySum / time.Duration(s.latencyCount)
}

// reset zeroes counters; active is a gauge and is left alone
func (s *statsCollector) reset() {
	s.total.Store(0)
	s.successful.Store(0)
	s.failed.Store(0)
	s.retried.Store(0)
	s.deduplicated.Store(0)
	s.batched.Store(0)
	s.rejections.Store(0)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencySum = 0
	s.latencyCount = 0
}
