package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/phonemart/api/internal/platform/httpx"
)

var startTime = time.Now()

// HealthHandlers serves liveness and readiness probes.
type HealthHandlers struct {
	ready func(ctx context.Context) error
}

// HealthOption customises the health handlers.
type HealthOption func(*HealthHandlers)

// WithReadinessCheck installs a probe run on every /readyz request, typically
// a datastore ping.
func WithReadinessCheck(check func(ctx context.Context) error) HealthOption {
	return func(h *HealthHandlers) {
		h.ready = check
	}
}

// NewHealthHandlers constructs the health probe handlers.
func NewHealthHandlers(opts ...HealthOption) *HealthHandlers {
	h := &HealthHandlers{}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Healthz reports process liveness.
func (h *HealthHandlers) Healthz(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime":    time.Since(startTime).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readyz reports whether downstream dependencies answer.
func (h *HealthHandlers) Readyz(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(r.Context()); err != nil {
			httpx.WriteJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unavailable",
				"error":  err.Error(),
			})
			return
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
