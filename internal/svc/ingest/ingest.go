// Package ingest decodes raw metric records from the ingest topic and
// writes them into the analytics store.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/vk-rv/adpulse/internal/adpulse"
)

// IngestService turns transport records into analytics store rows.
// Implements the adpulse.Processor interface.
type IngestService struct {
	store  adpulse.MetricsStore
	logger *slog.Logger
}

// NewIngestService is a constructor of IngestService.
func NewIngestService(store adpulse.MetricsStore, logger *slog.Logger) *IngestService {
	return &IngestService{store: store, logger: logger}
}

// Process decodes one raw metric record and inserts it into the store.
// A record that cannot be decoded is logged and skipped, a store failure
// is returned so the record is redelivered.
func (s *IngestService) Process(ctx context.Context, record adpulse.Record) error {
	var metric adpulse.RawMetric
	if err := json.Unmarshal(record.Value, &metric); err != nil {
		s.logger.Error("skipping malformed metric record",
			slog.Any("error", err),
			slog.String("topic", string(record.Topic)),
			slog.Int("partition", int(record.Partition)))
		return nil
	}

	if err := s.store.InsertMetrics(ctx, []adpulse.RawMetric{metric}); err != nil {
		return fmt.Errorf("ingest: insert metrics: %w", err)
	}
	return nil
}
