package generator_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk-rv/adpulse/internal/adpulse"
	"github.com/vk-rv/adpulse/internal/generator"
	"github.com/vk-rv/adpulse/internal/mock"
)

func newTestGenerator(sink generator.Sink) *generator.Generator {
	rnd := rand.New(rand.NewPCG(1, 2))
	now := func() time.Time { return time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC) }
	return generator.New(sink, time.Minute, now, rnd, slog.New(slog.DiscardHandler))
}

func TestBatch(t *testing.T) {
	t.Parallel()

	g := newTestGenerator(nil)
	timestamp := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	metrics := g.Batch(timestamp)

	require.Len(t, metrics, 25, "5 campaigns with 5 ads each")

	campaigns := make(map[string]int)
	for _, m := range metrics {
		assert.Equal(t, timestamp, m.Timestamp)
		campaigns[m.CampaignID]++

		assert.GreaterOrEqual(t, m.Impressions, uint32(1000))
		assert.Less(t, m.Impressions, uint32(10000))
		assert.LessOrEqual(t, float64(m.Clicks), float64(m.Impressions)*0.05)
		assert.LessOrEqual(t, float64(m.Conversions), float64(m.Clicks)*0.10)
		assert.LessOrEqual(t, m.Spend, float64(m.Clicks)*2.0)
		assert.Contains(t, m.AdID, m.CampaignID)
	}

	require.Len(t, campaigns, 5)
	for campaignID, count := range campaigns {
		assert.Equal(t, 5, count, "campaign %s should have 5 ads", campaignID)
	}
}

func TestRun_EmitsInitialBatch(t *testing.T) {
	t.Parallel()

	batches := make(chan []adpulse.RawMetric, 1)
	sink := generator.SinkFunc(func(_ context.Context, metrics []adpulse.RawMetric) error {
		select {
		case batches <- metrics:
		default:
		}
		return nil
	})
	g := generator.New(sink, time.Hour, time.Now, nil, slog.New(slog.DiscardHandler))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	select {
	case batch := <-batches:
		assert.Len(t, batch, 25, "initial batch should be emitted before the first tick")
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for initial batch")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestProducerSink(t *testing.T) {
	t.Parallel()

	var produced []adpulse.Record
	producer := &mock.Producer{
		ProduceFn: func(_ context.Context, rs ...adpulse.Record) error {
			produced = append(produced, rs...)
			return nil
		},
	}
	sink := generator.NewProducerSink(producer)

	metric := adpulse.RawMetric{
		Timestamp:   time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
		CampaignID:  "campaign_3",
		AdID:        "campaign_3_ad_0",
		Impressions: 2000,
		Clicks:      40,
		Conversions: 2,
		Spend:       31.5,
	}
	require.NoError(t, sink.Write(t.Context(), []adpulse.RawMetric{metric}))

	require.Len(t, produced, 1)
	assert.Equal(t, adpulse.MetricsTopic, produced[0].Topic)
	assert.Equal(t, []byte("campaign_3"), produced[0].OrderingKey)

	var decoded adpulse.RawMetric
	require.NoError(t, json.Unmarshal(produced[0].Value, &decoded))
	assert.Equal(t, metric, decoded)
}

func TestStoreSink(t *testing.T) {
	t.Parallel()

	var inserted []adpulse.RawMetric
	store := &mock.MetricsStore{
		InsertMetricsFn: func(_ context.Context, metrics []adpulse.RawMetric) error {
			inserted = metrics
			return nil
		},
	}
	sink := generator.NewStoreSink(store)

	g := newTestGenerator(sink)
	batch := g.Batch(time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC))
	require.NoError(t, sink.Write(t.Context(), batch))

	assert.Equal(t, batch, inserted)
}
