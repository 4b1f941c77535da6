// Package handlers serves the admin endpoints of the outbound pool: health,
// statistics and circuit breaker inspection.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"outbound-pool/internal/circuitbreaker"
	"outbound-pool/internal/common/logging"
	"outbound-pool/internal/pool"
)

// Pool is the part of the pool manager the admin surface reads
type Pool interface {
	GetMetrics() pool.Stats
	ResetMetrics()
	HealthCheck() pool.Health
}

// Circuits is the part of the breaker registry the admin surface manages
type Circuits interface {
	Snapshots() []circuitbreaker.Snapshot
	Reset()
	ResetHost(hostKey string) bool
	Remove(hostKey string) bool
}

type Handlers struct {
	pool     Pool
	circuits Circuits
	logger   logging.Logger
	started  time.Time
}

func New(p Pool, circuits Circuits, logger logging.Logger) *Handlers {
	return &Handlers{
		pool:     p,
		circuits: circuits,
		logger:   logging.OrGlobal(logger).WithFields(logging.String("component", "admin")),
		started:  time.Now(),
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", err)
	}
}
