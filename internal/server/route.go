// Package server wires the HTTP query API: routing, middleware and
// JSON response handling.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/vk-rv/adpulse/internal/adpulse"
)

// Backend is all services and associated parameters required to construct a Handler.
type Backend struct {
	Now            func() time.Time
	MetricsService adpulse.MetricsService
	Reg            *prometheus.Registry
	Logger         *slog.Logger
}

// Handler is a collection of all the service handlers.
type Handler struct {
	*http.ServeMux
}

// NewHandler initialize dependencies and returns router with attached routes.
func NewHandler(b *Backend) *Handler {
	mux := http.NewServeMux()

	recoverMw := newRecoverMw(b.Reg, b.Logger.With(
		slog.String("middleware", "recover"),
	))

	prometheusMw := newPrometheusMW(b.Reg, b.Now)

	chain := func(handler http.HandlerFunc) http.HandlerFunc {
		handler = recoverMw.recover(handler)
		handler = prometheusMw.recordLatency(handler)
		return handler
	}

	metricsHandler := newMetricsHandler(b.MetricsService, b.Logger.With(
		slog.String("handler", "metrics"),
	))
	mux.HandleFunc("GET /metrics/summary", chain(metricsHandler.getSummary))
	mux.HandleFunc("GET /metrics/realtime", chain(metricsHandler.getRealtime))

	mux.HandleFunc("GET /{$}", chain(func(w http.ResponseWriter, r *http.Request) {
		respondData(w, b.Logger, map[string]string{"status": "ok"})
	}))

	return &Handler{mux}
}
