// Package http is the ops HTTP surface of the service: cached resource
// reads, manual refreshes, monitoring views, probes and metrics.
package http

import (
	"net/http"
	"time"

	"techpulse/internal/handler/http/respond"
	"techpulse/internal/usecase/health"
)

// Liveness answers 200 while the process is serving requests.
func (h *handlers) Liveness(w http.ResponseWriter, _ *http.Request) {
	respond.NoStore(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness answers 200 once the initial refresh has completed.
func (h *handlers) Readiness(w http.ResponseWriter, _ *http.Request) {
	if !h.core.Ready() {
		respond.NoStore(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	respond.NoStore(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HealthStatus serves the latest health snapshot. Unhealthy answers 503;
// healthy and degraded answer 200. Before the first check it answers 503
// with status "pending".
func (h *handlers) HealthStatus(w http.ResponseWriter, _ *http.Request) {
	snap, ok := h.core.GetHealthStatus()
	if !ok {
		respond.NoStore(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "pending",
			"message": "no health check has run yet",
		})
		return
	}

	code := http.StatusOK
	if snap.Overall == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("X-Health-Checked-At", snap.Timestamp.UTC().Format(time.RFC3339))
	respond.NoStore(w, code, snap)
}
