package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type HealthHandler struct {
	db      Pinger
	members func() int
	logger  *slog.Logger
}

// NewHealthHandler reports liveness. db may be nil when the server runs on
// the in-memory store; members may be nil as well.
func NewHealthHandler(db Pinger, members func() int, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{db: db, members: members, logger: logger}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.db.PingContext(ctx); err != nil {
			h.logger.Error("health check: database ping failed", slog.Any("error", err))
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	env := jsonResponse{"status": status}
	if h.members != nil {
		env["connections"] = h.members()
	}
	if err := writeJSON(w, code, env, nil); err != nil {
		h.logger.Error("failed to write health response", slog.Any("error", err))
	}
}
