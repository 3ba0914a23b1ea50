package handlers

import (
	"context"
	"net/http"
	"time"
)

// Check probes one backing dependency.
type Check func(ctx context.Context) error

type HealthHandler struct {
	providers []string
	checks    map[string]Check
}

func NewHealthHandler(providers []string, checks map[string]Check) *HealthHandler {
	return &HealthHandler{providers: providers, checks: checks}
}

// Health reports configured providers and pings optional stores. A failing
// store degrades the status but the proxy still serves chat.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	deps := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			deps[name] = err.Error()
			status = "degraded"
			continue
		}
		deps[name] = "ok"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       status,
		"providers":    h.providers,
		"dependencies": deps,
	})
}
