package handlers

import (
	"net/http"

	"outbound-pool/internal/common/logging"
)

// GetCircuits lists every breaker ordered by host key
// @Summary List circuit breakers
// @Description One snapshot per upstream host key
// @Tags circuits
// @Produce json
// @Success 200 {array} circuitbreaker.Snapshot
// @Router /circuits [get]
func (h *Handlers) GetCircuits(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.circuits.Snapshots())
}

// ResetCircuits forces breakers closed. With ?host=<host key> only that
// breaker is reset; an unknown host answers 404.
// @Summary Reset circuit breakers
// @Description Forces all breakers, or the one for host, back to closed
// @Tags circuits
// @Param host query string false "Host key, e.g. https://api.example.com"
// @Success 204 "Breakers reset"
// @Failure 404 {string} string "Circuit breaker not found"
// @Router /circuits/reset [post]
func (h *Handlers) ResetCircuits(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("host")
	if host == "" {
		h.circuits.Reset()
		h.logger.Warn("All circuit breakers reset by operator")
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if !h.circuits.ResetHost(host) {
		http.Error(w, "Circuit breaker not found", http.StatusNotFound)
		return
	}
	h.logger.Warn("Circuit breaker reset by operator", logging.String("host_key", host))
	w.WriteHeader(http.StatusNoContent)
}

// RemoveCircuit forgets the breaker for a host key. The next request to that
// host starts from a fresh closed breaker.
// @Summary Remove a circuit breaker
// @Description Drops the breaker for host; it is recreated on the next request
// @Tags circuits
// @Param host query string true "Host key, e.g. https://api.example.com"
// @Success 204 "Breaker removed"
// @Failure 400 {string} string "host is required"
// @Failure 404 {string} string "Circuit breaker not found"
// @Router /circuits [delete]
func (h *Handlers) RemoveCircuit(w http.ResponseWriter, r *http.Request) {
	host := r.URL.Query().Get("host")
	if host == "" {
		http.Error(w, "host is required", http.StatusBadRequest)
		return
	}

	if !h.circuits.Remove(host) {
		http.Error(w, "Circuit breaker not found", http.StatusNotFound)
		return
	}
	h.logger.Warn("Circuit breaker removed by operator", logging.String("host_key", host))
	w.WriteHeader(http.StatusNoContent)
}
