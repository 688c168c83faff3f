package handlers

import "net/http"

// Healthz is a liveness probe.
// It returns 200 OK if the server is running.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	h.respondJson(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Readyz is a readiness probe. It pings the database and reports how many
// jobs are waiting or running.
func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := h.store.Ping(ctx); err != nil {
		h.httpError(w, "Database unavailable", http.StatusServiceUnavailable)
		return
	}

	depth, err := h.store.Count(ctx)
	if err != nil {
		h.httpError(w, "Queue unavailable", http.StatusServiceUnavailable)
		return
	}
	h.respondJson(w, http.StatusOK, map[string]interface{}{"status": "ready", "queueDepth": depth})
}
