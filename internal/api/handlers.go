package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// Handlers holds the HTTP handler dependencies for the minimal operability
// surface: a liveness probe and a snapshot of what the engine is currently
// doing, for operators polling from outside the process.
type Handlers struct {
	provider StatusProvider
	logger   *slog.Logger
}

func NewHandlers(provider StatusProvider, logger *slog.Logger) *Handlers {
	return &Handlers{provider: provider, logger: logger.With("component", "api-handlers")}
}

// HandleHealth always reports ok once the process is serving HTTP at all;
// it is a liveness check, not a readiness check (use /status for that).
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleStatus reports the currently running market window and the
// coordinator's latest decision state.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status := h.provider.Status()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		h.logger.Error("failed to encode status", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
