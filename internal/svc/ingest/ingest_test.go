package ingest_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk-rv/adpulse/internal/adpulse"
	"github.com/vk-rv/adpulse/internal/mock"
	"github.com/vk-rv/adpulse/internal/svc/ingest"
)

func TestProcess(t *testing.T) {
	t.Parallel()

	metric := adpulse.RawMetric{
		Timestamp:   time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
		CampaignID:  "campaign_1",
		AdID:        "ad_1",
		Impressions: 4200,
		Clicks:      84,
		Conversions: 6,
		Spend:       63.4,
	}
	value, err := json.Marshal(metric)
	require.NoError(t, err)

	var inserted []adpulse.RawMetric
	store := &mock.MetricsStore{
		InsertMetricsFn: func(_ context.Context, metrics []adpulse.RawMetric) error {
			inserted = metrics
			return nil
		},
	}
	svc := ingest.NewIngestService(store, slog.New(slog.DiscardHandler))

	err = svc.Process(t.Context(), adpulse.Record{Topic: adpulse.MetricsTopic, Value: value})

	require.NoError(t, err)
	require.Len(t, inserted, 1)
	assert.Equal(t, metric, inserted[0])
}

func TestProcess_MalformedRecordIsSkipped(t *testing.T) {
	t.Parallel()

	store := &mock.MetricsStore{
		InsertMetricsFn: func(_ context.Context, _ []adpulse.RawMetric) error {
			t.Fatal("store should not be called for malformed records")
			return nil
		},
	}
	svc := ingest.NewIngestService(store, slog.New(slog.DiscardHandler))

	err := svc.Process(t.Context(), adpulse.Record{Topic: adpulse.MetricsTopic, Value: []byte("{not json")})

	assert.NoError(t, err, "malformed records are dropped, not redelivered")
}

func TestProcess_StoreErrorIsReturned(t *testing.T) {
	t.Parallel()

	storeErr := errors.New("clickhouse: connection refused")
	store := &mock.MetricsStore{
		InsertMetricsFn: func(_ context.Context, _ []adpulse.RawMetric) error {
			return storeErr
		},
	}
	svc := ingest.NewIngestService(store, slog.New(slog.DiscardHandler))

	err := svc.Process(t.Context(), adpulse.Record{Topic: adpulse.MetricsTopic, Value: []byte("{}")})

	require.Error(t, err)
	assert.ErrorIs(t, err, storeErr)
}
