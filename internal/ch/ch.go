package ch

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/vk-rv/adpulse/internal/adpulse"
	"github.com/vk-rv/adpulse/internal/svcotel"
	"go.opentelemetry.io/otel/trace"
)

// ClickhouseStore encapsulates clickhouse connection.
type ClickhouseStore struct {
	conn   driver.Conn
	tracer trace.Tracer
}

// NewClickhouseStore creates a new ClickhouseStore.
func NewClickhouseStore(conn driver.Conn, tracerProvider svcotel.TracerProvider) *ClickhouseStore {
	return &ClickhouseStore{conn: conn, tracer: tracerProvider.Tracer("clickhouse")}
}

// Close closes the connection to Clickhouse.
func (s *ClickhouseStore) Close() error {
	return s.conn.Close()
}

// InsertMetrics bulk-inserts raw metric rows. The insert is all-or-nothing:
// the batch either lands in one part or fails entirely.
func (s *ClickhouseStore) InsertMetrics(ctx context.Context, metrics []adpulse.RawMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "ClickhouseStore.InsertMetrics")
	defer span.End()

	batch, err := s.conn.PrepareBatch(ctx,
		`INSERT INTO ad_metrics (timestamp, campaign_id, ad_id, impressions, clicks, conversions, spend)`)
	if err != nil {
		return fmt.Errorf("clickhouse: prepare raw metrics batch: %w", err)
	}

	for i := range metrics {
		m := &metrics[i]
		if err := batch.Append(
			m.Timestamp,
			m.CampaignID,
			m.AdID,
			m.Impressions,
			m.Clicks,
			m.Conversions,
			m.Spend,
		); err != nil {
			return fmt.Errorf("clickhouse: append raw metric: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("clickhouse: send raw metrics batch: %w", err)
	}

	return nil
}

// SummarizeDaily groups raw rows by (date, campaign), every filter optional
// and independently combinable, ordered by date descending.
func (s *ClickhouseStore) SummarizeDaily(
	ctx context.Context,
	c *adpulse.SummaryCriteria,
) ([]adpulse.SummaryRow, error) {
	ctx, span := s.tracer.Start(ctx, "ClickhouseStore.SummarizeDaily")
	defer span.End()

	query := `SELECT date,
					 campaign_id,
					 sum(impressions) AS total_impressions,
					 sum(clicks) AS total_clicks,
					 sum(conversions) AS total_conversions,
					 sum(spend) AS total_spend,
					 round(ifNull(avg(ctr), 0) * 100, 2) AS avg_ctr,
					 round(ifNull(avg(cpc), 0), 2) AS avg_cpc
			  FROM ad_metrics
			  WHERE 1 = 1`

	var args []any
	if c.StartDate != nil {
		query += ` AND timestamp >= toDateTime(?, 'UTC')`
		args = append(args, *c.StartDate)
	}
	if c.EndDate != nil {
		query += ` AND timestamp <= toDateTime(?, 'UTC')`
		args = append(args, *c.EndDate)
	}
	if c.CampaignID != "" {
		query += ` AND campaign_id = ?`
		args = append(args, c.CampaignID)
	}

	query += `
			  GROUP BY date, campaign_id
			  ORDER BY date DESC`

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: summarize daily: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	var res []adpulse.SummaryRow
	for rows.Next() {
		var (
			r    adpulse.SummaryRow
			date time.Time
		)
		if err := rows.Scan(
			&date,
			&r.CampaignID,
			&r.TotalImpressions,
			&r.TotalClicks,
			&r.TotalConversions,
			&r.TotalSpend,
			&r.AvgCTR,
			&r.AvgCPC,
		); err != nil {
			return nil, fmt.Errorf("clickhouse: summarize daily, scan result: %w", err)
		}
		r.Date = adpulse.Day(date)
		res = append(res, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clickhouse: summarize daily, rows.Err: %w", err)
	}

	return res, nil
}

// RealtimeMetrics groups raw rows of the trailing window by minute,
// ordered by minute descending.
func (s *ClickhouseStore) RealtimeMetrics(
	ctx context.Context,
	c *adpulse.RealtimeCriteria,
) ([]adpulse.RealtimeRow, error) {
	ctx, span := s.tracer.Start(ctx, "ClickhouseStore.RealtimeMetrics")
	defer span.End()

	const query = `SELECT toStartOfMinute(timestamp) AS minute,
						  sum(impressions) AS impressions,
						  sum(clicks) AS clicks,
						  sum(conversions) AS conversions,
						  sum(spend) AS spend,
						  round(ifNull(avg(ctr), 0) * 100, 2) AS avg_ctr
				   FROM ad_metrics
				   WHERE timestamp >= now() - INTERVAL ? MINUTE
				   GROUP BY minute
				   ORDER BY minute DESC`

	rows, err := s.conn.Query(ctx, query, uint32(c.WindowMinutes))
	if err != nil {
		return nil, fmt.Errorf("clickhouse: realtime metrics: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	var res []adpulse.RealtimeRow
	for rows.Next() {
		var (
			r      adpulse.RealtimeRow
			minute time.Time
		)
		if err := rows.Scan(
			&minute,
			&r.Impressions,
			&r.Clicks,
			&r.Conversions,
			&r.Spend,
			&r.AvgCTR,
		); err != nil {
			return nil, fmt.Errorf("clickhouse: realtime metrics, scan result: %w", err)
		}
		r.Minute = adpulse.Minute(minute)
		res = append(res, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clickhouse: realtime metrics, rows.Err: %w", err)
	}

	return res, nil
}

// AggregateWindow folds raw rows of the half-open window [From, To) into
// per-campaign hourly buckets without writing them.
func (s *ClickhouseStore) AggregateWindow(
	ctx context.Context,
	c *adpulse.AggregateCriteria,
) ([]adpulse.HourlyMetric, error) {
	ctx, span := s.tracer.Start(ctx, "ClickhouseStore.AggregateWindow")
	defer span.End()

	const query = `SELECT toStartOfHour(timestamp) AS hour,
						  campaign_id,
						  sum(impressions) AS total_impressions,
						  sum(clicks) AS total_clicks,
						  sum(conversions) AS total_conversions,
						  sum(spend) AS total_spend,
						  round(ifNull(avg(ctr), 0) * 100, 2) AS avg_ctr,
						  round(ifNull(avg(cpc), 0), 2) AS avg_cpc
				   FROM ad_metrics
				   WHERE timestamp >= toDateTime(?, 'UTC')
				   AND timestamp < toDateTime(?, 'UTC')
				   GROUP BY hour, campaign_id`

	rows, err := s.conn.Query(ctx, query, c.From, c.To)
	if err != nil {
		return nil, fmt.Errorf("clickhouse: aggregate window: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	var res []adpulse.HourlyMetric
	for rows.Next() {
		m := adpulse.HourlyMetric{}
		if err := rows.Scan(
			&m.Hour,
			&m.CampaignID,
			&m.TotalImpressions,
			&m.TotalClicks,
			&m.TotalConversions,
			&m.TotalSpend,
			&m.AvgCTR,
			&m.AvgCPC,
		); err != nil {
			return nil, fmt.Errorf("clickhouse: aggregate window, scan result: %w", err)
		}
		res = append(res, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("clickhouse: aggregate window, rows.Err: %w", err)
	}

	return res, nil
}

// InsertHourlyMetrics bulk-inserts hourly aggregate rows. The relation is a
// ReplacingMergeTree keyed by (hour, campaign_id), so rows written for the
// same bucket supersede earlier ones.
func (s *ClickhouseStore) InsertHourlyMetrics(ctx context.Context, metrics []adpulse.HourlyMetric) error {
	if len(metrics) == 0 {
		return nil
	}

	ctx, span := s.tracer.Start(ctx, "ClickhouseStore.InsertHourlyMetrics")
	defer span.End()

	batch, err := s.conn.PrepareBatch(ctx,
		`INSERT INTO hourly_metrics (hour, campaign_id, total_impressions, total_clicks,
			total_conversions, total_spend, avg_ctr, avg_cpc, computed_at)`)
	if err != nil {
		return fmt.Errorf("clickhouse: prepare hourly metrics batch: %w", err)
	}

	computedAt := time.Now().UTC()
	for i := range metrics {
		m := &metrics[i]
		if err := batch.Append(
			m.Hour,
			m.CampaignID,
			m.TotalImpressions,
			m.TotalClicks,
			m.TotalConversions,
			m.TotalSpend,
			m.AvgCTR,
			m.AvgCPC,
			computedAt,
		); err != nil {
			return fmt.Errorf("clickhouse: append hourly metric: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("clickhouse: send hourly metrics batch: %w", err)
	}

	return nil
}

// DeleteMetricsBefore deletes raw rows with timestamp strictly before the
// cutoff. A row exactly at the cutoff is retained. Hourly aggregates are
// never pruned here.
func (s *ClickhouseStore) DeleteMetricsBefore(ctx context.Context, cutoff time.Time) error {
	ctx, span := s.tracer.Start(ctx, "ClickhouseStore.DeleteMetricsBefore")
	defer span.End()

	const query = `ALTER TABLE ad_metrics DELETE WHERE timestamp < toDateTime(?, 'UTC')`

	if err := s.conn.Exec(ctx, query, cutoff); err != nil {
		return fmt.Errorf("clickhouse: delete metrics before cutoff: %w", err)
	}

	return nil
}
