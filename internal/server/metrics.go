package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/vk-rv/adpulse/internal/adpulse"
)

// metricsHandler serves the summary and realtime read endpoints.
type metricsHandler struct {
	svc    adpulse.MetricsService
	logger *slog.Logger
}

// newMetricsHandler is a constructor of metricsHandler.
func newMetricsHandler(svc adpulse.MetricsService, logger *slog.Logger) *metricsHandler {
	return &metricsHandler{svc: svc, logger: logger}
}

// getSummary returns per-day per-campaign metrics, optionally filtered
// by date range and campaign.
func (h *metricsHandler) getSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := &adpulse.SummaryRequest{
		StartDate:  q.Get("start_date"),
		EndDate:    q.Get("end_date"),
		CampaignID: q.Get("campaign_id"),
	}

	rows, err := h.svc.Summary(r.Context(), req)
	if err != nil {
		h.respondServiceError(w, r, "summary", err)
		return
	}
	if rows == nil {
		rows = []adpulse.SummaryRow{}
	}

	respondData(w, h.logger, rows)
}

// getRealtime returns per-minute metrics over a trailing window.
func (h *metricsHandler) getRealtime(w http.ResponseWriter, r *http.Request) {
	windowMinutes := 0
	if raw := r.URL.Query().Get("window_minutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondError(w, h.logger, http.StatusBadRequest, "window_minutes: must be an integer")
			return
		}
		windowMinutes = n
	}

	rows, err := h.svc.Realtime(r.Context(), windowMinutes)
	if err != nil {
		h.respondServiceError(w, r, "realtime", err)
		return
	}
	if rows == nil {
		rows = []adpulse.RealtimeRow{}
	}

	respondData(w, h.logger, rows)
}

// respondServiceError maps service failures onto the JSON envelope:
// validation failures are the caller's fault, everything else is a 500.
func (h *metricsHandler) respondServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var verr *adpulse.ValidationError
	if errors.As(err, &verr) {
		respondError(w, h.logger, http.StatusBadRequest, verr.Error())
		return
	}

	h.logger.Error(op+" metrics",
		slog.Any("error", err),
		slog.String("url", r.URL.String()))
	respondError(w, h.logger, http.StatusInternalServerError, "failed to fetch metrics")
}
