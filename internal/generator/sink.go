package generator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vk-rv/adpulse/internal/adpulse"
)

// NewStoreSink returns a Sink that inserts batches directly into the
// analytics store.
func NewStoreSink(store adpulse.MetricsStore) Sink {
	return SinkFunc(func(ctx context.Context, metrics []adpulse.RawMetric) error {
		return store.InsertMetrics(ctx, metrics)
	})
}

// NewProducerSink returns a Sink that publishes each row as one record on
// the ingest topic, keyed by campaign so rows of one campaign stay ordered.
func NewProducerSink(producer adpulse.Producer) Sink {
	return SinkFunc(func(ctx context.Context, metrics []adpulse.RawMetric) error {
		records := make([]adpulse.Record, 0, len(metrics))
		for i := range metrics {
			value, err := json.Marshal(&metrics[i])
			if err != nil {
				return fmt.Errorf("marshal metric: %w", err)
			}
			records = append(records, adpulse.Record{
				Topic:       adpulse.MetricsTopic,
				OrderingKey: []byte(metrics[i].CampaignID),
				Value:       value,
			})
		}
		return producer.Produce(ctx, records...)
	})
}
