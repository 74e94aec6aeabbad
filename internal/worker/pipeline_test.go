package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk-rv/adpulse/internal/adpulse"
	"github.com/vk-rv/adpulse/internal/mock"
	"github.com/vk-rv/adpulse/internal/worker"
)

func newTestPipeline(store *mock.MetricsStore, now func() time.Time) *worker.Pipeline {
	return worker.NewPipeline(store, now, prometheus.NewRegistry(), slog.New(slog.DiscardHandler))
}

func TestProcessAggregate(t *testing.T) {
	t.Parallel()

	hour := time.Date(2024, 3, 10, 11, 0, 0, 0, time.UTC)
	aggregated := []adpulse.HourlyMetric{
		{
			Hour:             hour,
			CampaignID:       "campaign_1",
			TotalImpressions: 3000,
			TotalClicks:      80,
			TotalConversions: 8,
			TotalSpend:       59.2,
			AvgCTR:           2.5,
			AvgCPC:           0.74,
		},
		{
			Hour:             hour,
			CampaignID:       "campaign_2",
			TotalImpressions: 1500,
			TotalClicks:      30,
			TotalConversions: 1,
			TotalSpend:       21.0,
			AvgCTR:           2.0,
			AvgCPC:           0.7,
		},
	}

	var gotCriteria *adpulse.AggregateCriteria
	var inserted []adpulse.HourlyMetric
	store := &mock.MetricsStore{
		AggregateWindowFn: func(_ context.Context, c *adpulse.AggregateCriteria) ([]adpulse.HourlyMetric, error) {
			gotCriteria = c
			return aggregated, nil
		},
		InsertHourlyMetricsFn: func(_ context.Context, metrics []adpulse.HourlyMetric) error {
			inserted = metrics
			return nil
		},
	}
	p := newTestPipeline(store, time.Now)

	job := adpulse.NewAggregateJob(
		time.Date(2024, 3, 10, 11, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
	)
	result, err := p.Process(t.Context(), job)

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, "processed metrics from 2024-03-10 11:00:00 to 2024-03-10 12:00:00", result.Message)
	assert.Equal(t, 2, result.RecordsProcessed)

	require.NotNil(t, gotCriteria)
	assert.Equal(t, time.Date(2024, 3, 10, 11, 0, 0, 0, time.UTC), gotCriteria.From)
	assert.Equal(t, time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC), gotCriteria.To)
	assert.Equal(t, aggregated, inserted)
}

func TestProcessAggregate_EmptyWindow(t *testing.T) {
	t.Parallel()

	store := &mock.MetricsStore{
		AggregateWindowFn: func(_ context.Context, _ *adpulse.AggregateCriteria) ([]adpulse.HourlyMetric, error) {
			return nil, nil
		},
		InsertHourlyMetricsFn: func(_ context.Context, metrics []adpulse.HourlyMetric) error {
			assert.Empty(t, metrics)
			return nil
		},
	}
	p := newTestPipeline(store, time.Now)

	job := adpulse.NewAggregateJob(
		time.Date(2024, 3, 10, 11, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
	)
	result, err := p.Process(t.Context(), job)

	require.NoError(t, err, "a window without raw rows is a no-op success")
	assert.Equal(t, 0, result.RecordsProcessed)
}

func TestProcessAggregate_StoreError(t *testing.T) {
	t.Parallel()

	storeErr := errors.New("clickhouse: connection refused")
	store := &mock.MetricsStore{
		AggregateWindowFn: func(_ context.Context, _ *adpulse.AggregateCriteria) ([]adpulse.HourlyMetric, error) {
			return nil, storeErr
		},
	}
	p := newTestPipeline(store, time.Now)

	job := adpulse.NewAggregateJob(
		time.Date(2024, 3, 10, 11, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
	)
	result, err := p.Process(t.Context(), job)

	require.Error(t, err)
	assert.ErrorIs(t, err, storeErr)
	assert.Nil(t, result)
}

func TestProcessAggregate_InvalidWindow(t *testing.T) {
	t.Parallel()

	store := &mock.MetricsStore{
		AggregateWindowFn: func(_ context.Context, _ *adpulse.AggregateCriteria) ([]adpulse.HourlyMetric, error) {
			t.Fatal("store should not be touched for an invalid window")
			return nil, nil
		},
	}
	p := newTestPipeline(store, time.Now)

	job := &adpulse.Job{
		Kind: adpulse.JobKindAggregate,
		Aggregate: &adpulse.AggregatePayload{
			StartTime: "2024-03-10 12:00:00",
			EndTime:   "2024-03-10 11:00:00",
		},
	}
	_, err := p.Process(t.Context(), job)

	var verr *adpulse.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestProcessRetain(t *testing.T) {
	t.Parallel()

	now := func() time.Time {
		return time.Date(2024, 3, 10, 12, 30, 45, 999999999, time.UTC)
	}

	var gotCutoff time.Time
	store := &mock.MetricsStore{
		DeleteMetricsBeforeFn: func(_ context.Context, cutoff time.Time) error {
			gotCutoff = cutoff
			return nil
		},
	}
	p := newTestPipeline(store, now)

	result, err := p.Process(t.Context(), adpulse.NewRetainJob(90))

	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 12, 11, 12, 30, 45, 0, time.UTC), gotCutoff, "cutoff is now minus 90 days at second precision")
	assert.Equal(t, "cleaned up data older than 2023-12-11 12:30:45", result.Message)
	assert.Equal(t, 0, result.RecordsProcessed)
}

func TestProcessRetain_RejectsNonPositiveHorizon(t *testing.T) {
	t.Parallel()

	store := &mock.MetricsStore{
		DeleteMetricsBeforeFn: func(_ context.Context, _ time.Time) error {
			t.Fatal("no delete may be issued for an invalid horizon")
			return nil
		},
	}
	p := newTestPipeline(store, time.Now)

	_, err := p.Process(t.Context(), adpulse.NewRetainJob(0))

	var verr *adpulse.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "daysToKeep must be positive")
}

func TestProcess_UnknownKind(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(&mock.MetricsStore{}, time.Now)

	_, err := p.Process(t.Context(), &adpulse.Job{Kind: "compact"})

	var verr *adpulse.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Reason, "unknown job kind")
}
