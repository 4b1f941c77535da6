package handlers

import (
	"net/http"
	"time"

	"outbound-pool/internal/common/logging"
	"outbound-pool/internal/pool"
)

// HealthResponse is the body of GET /health
type HealthResponse struct {
	pool.Health
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

// HealthCheck reports pool health. A closing pool answers 503 so load
// balancers stop routing to it; warnings still answer 200.
// @Summary Pool health
// @Description Socket utilization, open circuits and shutdown state
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse "Healthy or warning"
// @Failure 503 {object} HealthResponse "Pool is closing"
// @Router /health [get]
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := h.pool.HealthCheck()

	status := http.StatusOK
	if health.Closing {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, HealthResponse{
		Health:    health,
		Timestamp: time.Now(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
	})
}

// GetStats returns the pool statistics snapshot
// @Summary Pool statistics
// @Description Request counters, latency, queue depth and breaker snapshots
// @Tags stats
// @Produce json
// @Success 200 {object} pool.Stats
// @Router /stats [get]
func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.pool.GetMetrics())
}

// ResetStats zeroes the request counters
// @Summary Reset pool statistics
// @Description Zeroes request counters; breaker state is kept
// @Tags stats
// @Success 204 "Counters reset"
// @Router /stats/reset [post]
func (h *Handlers) ResetStats(w http.ResponseWriter, r *http.Request) {
	before := h.pool.GetMetrics()
	h.pool.ResetMetrics()
	h.logger.Info("Pool statistics reset",
		logging.String("remote_addr", r.RemoteAddr),
		logging.Int64("total_requests", before.TotalRequests),
		logging.Int64("failed_requests", before.FailedRequests),
	)
	w.WriteHeader(http.StatusNoContent)
}
