// Package promsink exports outbound pool events as Prometheus metrics.
package promsink

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"outbound-pool/internal/events"
)

const namespace = "outbound_pool"

// Sink translates events into counters, histograms and gauges
type Sink struct {
	requestsTotal     *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	retriesTotal      *prometheus.CounterVec
	rejectionsTotal   *prometheus.CounterVec
	deduplicatedTotal prometheus.Counter
	circuitState      *prometheus.GaugeVec
	circuitOpenings   *prometheus.CounterVec
	batchesTotal      prometheus.Counter
	batchSize         prometheus.Histogram
	batchDuration     prometheus.Histogram
}

// New registers the pool metrics with reg. Use prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Sink {
	factory := promauto.With(reg)

	return &Sink{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Completed outbound requests by host and outcome",
		}, []string{"host", "outcome"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Outbound request duration including retries",
			Buckets:   prometheus.DefBuckets,
		}, []string{"host"}),
		retriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Scheduled retries by host",
		}, []string{"host"}),
		rejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_rejections_total",
			Help:      "Requests rejected by an open circuit",
		}, []string{"host"}),
		deduplicatedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deduplicated_total",
			Help:      "Requests that shared an in-flight execution",
		}),
		circuitState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_state",
			Help:      "Circuit state by host (0=closed, 1=open, 2=half_open)",
		}, []string{"host"}),
		circuitOpenings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_openings_total",
			Help:      "Times a circuit opened",
		}, []string{"host"}),
		batchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Flushed batches",
		}),
		batchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Requests per flushed batch",
			Buckets:   prometheus.LinearBuckets(1, 2, 10),
		}),
		batchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Time to dispatch a whole batch",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

// Emit implements events.Sink
func (s *Sink) Emit(e events.Event) {
	switch e.Type {
	case events.RequestSuccess:
		s.requestsTotal.WithLabelValues(e.HostKey, "success").Inc()
		s.requestDuration.WithLabelValues(e.HostKey).Observe(e.Duration.Seconds())
	case events.RequestFailed:
		s.requestsTotal.WithLabelValues(e.HostKey, "failed").Inc()
		s.requestDuration.WithLabelValues(e.HostKey).Observe(e.Duration.Seconds())
	case events.RequestRetry:
		s.retriesTotal.WithLabelValues(e.HostKey).Inc()
	case events.RequestCircuitRejected:
		s.rejectionsTotal.WithLabelValues(e.HostKey).Inc()
	case events.RequestDeduplicated:
		s.deduplicatedTotal.Inc()
	case events.CircuitOpen:
		s.circuitState.WithLabelValues(e.HostKey).Set(1)
		s.circuitOpenings.WithLabelValues(e.HostKey).Inc()
	case events.CircuitHalfOpen:
		s.circuitState.WithLabelValues(e.HostKey).Set(2)
	case events.CircuitClosed:
		s.circuitState.WithLabelValues(e.HostKey).Set(0)
	case events.BatchStart:
		s.batchesTotal.Inc()
		s.batchSize.Observe(float64(e.BatchSize))
	case events.BatchComplete:
		s.batchDuration.Observe(e.Duration.Seconds())
	}
}
