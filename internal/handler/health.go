package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type connectivity interface {
	IsConnected() bool
}

type HealthHandler struct {
	db       pinger
	realtime connectivity
}

func NewHealthHandler(db pinger, realtime connectivity) *HealthHandler {
	return &HealthHandler{db: db, realtime: realtime}
}

func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"version":   "1.0.0",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// Readiness fails only on the database. A disconnected realtime channel is
// reported as degraded since polling still settles payments.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	dbStatus := "ok"
	realtimeStatus := "ok"
	httpStatus := http.StatusOK

	if err := h.db.Ping(r.Context()); err != nil {
		slog.Warn("readiness check failed: database unreachable", "error", err)
		dbStatus = "down"
		httpStatus = http.StatusServiceUnavailable
	}

	if h.realtime != nil && !h.realtime.IsConnected() {
		realtimeStatus = "degraded"
	}

	overallStatus := "ok"
	switch {
	case httpStatus != http.StatusOK:
		overallStatus = "down"
	case realtimeStatus != "ok":
		overallStatus = "degraded"
	}

	RespondJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks": map[string]string{
			"database": dbStatus,
			"realtime": realtimeStatus,
		},
	})
}
