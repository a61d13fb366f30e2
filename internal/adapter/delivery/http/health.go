package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/httplog/v2"
	"github.com/go-chi/render"
)

const (
	serviceName = "tinylink"

	statusOK = "ok"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type healthHandler struct {
	store       pinger
	pingTimeout time.Duration
	version     string
	startedAt   time.Time
	nowFunc     func() time.Time
}

func newHealthHandler(store pinger, pingTimeout time.Duration, version string) *healthHandler {
	return &healthHandler{
		store:       store,
		pingTimeout: pingTimeout,
		version:     version,
		startedAt:   time.Now(),
		nowFunc:     time.Now,
	}
}

func (h *healthHandler) liveness(w http.ResponseWriter, r *http.Request) {
	render.Status(r, http.StatusOK)
	render.JSON(w, r, livenessResponse{
		Status:  statusOK,
		Service: serviceName,
		Version: h.version,
	})
}

// health always answers 200; a failing store only shows up in db_status.
func (h *healthHandler) health(w http.ResponseWriter, r *http.Request) {
	start := h.nowFunc()

	dbStatus := statusOK

	ctx, cancel := context.WithTimeout(r.Context(), h.pingTimeout)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		httplog.LogEntrySetField(r.Context(), "err", slog.AnyValue(err))
		dbStatus = statusError
	}

	now := h.nowFunc()
	uptime := now.Sub(h.startedAt)

	render.Status(r, http.StatusOK)
	render.JSON(w, r, healthResponse{
		APIStatus:      statusOK,
		DBStatus:       dbStatus,
		UptimeMS:       uptime.Milliseconds(),
		UptimeHuman:    uptime.Truncate(time.Second).String(),
		ResponseTimeMS: now.Sub(start).Milliseconds(),
		CheckedAt:      now.UTC(),
	})
}
