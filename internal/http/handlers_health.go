package httpx

import (
	"context"
	"net/http"
)

// HealthChecker reports whether a backing store is usable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthHandlers serves readiness/liveness checks.
type HealthHandlers struct {
	Cache HealthChecker // Optional
}

// Health returns 200 while the durable cache answers and 503 otherwise. The synchronizer keeps
// working without the cache, so the body names the failing dependency.
// GET|HEAD /healthz.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	status, body := http.StatusOK, map[string]string{"status": "ok"}
	if h != nil && h.Cache != nil {
		if err := h.Cache.Health(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			body = map[string]string{"status": "degraded", "cache": err.Error()}
		}
	}
	if r.Method == http.MethodHead {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(status)
		return
	}
	WriteJSON(w, status, body)
}
