// Package metrics provides the implementation of the MetricsService
// interface serving the summary and realtime read endpoints.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vk-rv/adpulse/internal/adpulse"
)

// DefaultRealtimeWindowMinutes is the trailing window served when the
// caller does not specify one.
const DefaultRealtimeWindowMinutes = 5

// MetricsService translates read requests into analytics store queries.
type MetricsService struct {
	store  adpulse.MetricsStore
	logger *slog.Logger
}

// NewMetricsService is a constructor of MetricsService.
func NewMetricsService(store adpulse.MetricsStore, logger *slog.Logger) *MetricsService {
	return &MetricsService{store: store, logger: logger}
}

// Summary returns the per-day per-campaign summary report. Filters are
// optional and combine independently.
func (s *MetricsService) Summary(ctx context.Context, req *adpulse.SummaryRequest) ([]adpulse.SummaryRow, error) {
	criteria := &adpulse.SummaryCriteria{CampaignID: req.CampaignID}

	if req.StartDate != "" {
		t, err := parseQueryTime(req.StartDate)
		if err != nil {
			return nil, &adpulse.ValidationError{Reason: fmt.Sprintf("start_date: %v", err)}
		}
		criteria.StartDate = &t
	}
	if req.EndDate != "" {
		t, err := parseQueryTime(req.EndDate)
		if err != nil {
			return nil, &adpulse.ValidationError{Reason: fmt.Sprintf("end_date: %v", err)}
		}
		criteria.EndDate = &t
	}

	return s.store.SummarizeDaily(ctx, criteria)
}

// Realtime returns the trailing per-minute report. Non-positive windows
// fall back to the default.
func (s *MetricsService) Realtime(ctx context.Context, windowMinutes int) ([]adpulse.RealtimeRow, error) {
	if windowMinutes <= 0 {
		windowMinutes = DefaultRealtimeWindowMinutes
	}
	return s.store.RealtimeMetrics(ctx, &adpulse.RealtimeCriteria{WindowMinutes: windowMinutes})
}

// parseQueryTime accepts a calendar date or a second-precision timestamp,
// both interpreted as UTC.
func parseQueryTime(s string) (time.Time, error) {
	if t, err := time.ParseInLocation(adpulse.TimeLayout, s, time.UTC); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(adpulse.DayLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("expected %q or %q", adpulse.DayLayout, adpulse.TimeLayout)
	}
	return t, nil
}
