// Package mock provides hand-written test doubles for the domain interfaces.
package mock

import (
	"context"
	"time"

	"github.com/vk-rv/adpulse/internal/adpulse"
)

// MetricsStore is a mock implementation of adpulse.MetricsStore.
type MetricsStore struct {
	InsertMetricsFn       func(ctx context.Context, metrics []adpulse.RawMetric) error
	SummarizeDailyFn      func(ctx context.Context, c *adpulse.SummaryCriteria) ([]adpulse.SummaryRow, error)
	RealtimeMetricsFn     func(ctx context.Context, c *adpulse.RealtimeCriteria) ([]adpulse.RealtimeRow, error)
	AggregateWindowFn     func(ctx context.Context, c *adpulse.AggregateCriteria) ([]adpulse.HourlyMetric, error)
	InsertHourlyMetricsFn func(ctx context.Context, metrics []adpulse.HourlyMetric) error
	DeleteMetricsBeforeFn func(ctx context.Context, cutoff time.Time) error
}

func (m *MetricsStore) InsertMetrics(ctx context.Context, metrics []adpulse.RawMetric) error {
	return m.InsertMetricsFn(ctx, metrics)
}

func (m *MetricsStore) SummarizeDaily(
	ctx context.Context,
	c *adpulse.SummaryCriteria,
) ([]adpulse.SummaryRow, error) {
	return m.SummarizeDailyFn(ctx, c)
}

func (m *MetricsStore) RealtimeMetrics(
	ctx context.Context,
	c *adpulse.RealtimeCriteria,
) ([]adpulse.RealtimeRow, error) {
	return m.RealtimeMetricsFn(ctx, c)
}

func (m *MetricsStore) AggregateWindow(
	ctx context.Context,
	c *adpulse.AggregateCriteria,
) ([]adpulse.HourlyMetric, error) {
	return m.AggregateWindowFn(ctx, c)
}

func (m *MetricsStore) InsertHourlyMetrics(ctx context.Context, metrics []adpulse.HourlyMetric) error {
	return m.InsertHourlyMetricsFn(ctx, metrics)
}

func (m *MetricsStore) DeleteMetricsBefore(ctx context.Context, cutoff time.Time) error {
	return m.DeleteMetricsBeforeFn(ctx, cutoff)
}
