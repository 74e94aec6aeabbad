// Package adpulse contains the domain types of the ad-metrics pipeline:
// raw and aggregated metric rows, scheduled jobs and the interfaces of
// the analytics store and the job queue.
package adpulse

import (
	"context"
	"time"
)

// TimeLayout is the wire format for timestamps in job payloads and query
// parameters, second precision, always UTC.
const TimeLayout = "2006-01-02 15:04:05"

// DayLayout is the wire format for calendar dates in summary responses.
const DayLayout = "2006-01-02"

// RawMetric is one ad/campaign observation of impressions, clicks,
// conversions and spend at a point in time.
//
// CTR (clicks/impressions) and CPC (spend/clicks) are derived by the store
// and are not part of the row; rows with a zero denominator carry NULL in
// the derived columns and are excluded from averages.
type RawMetric struct {
	Timestamp   time.Time `json:"timestamp"`
	CampaignID  string    `json:"campaign_id"`
	AdID        string    `json:"ad_id"`
	Impressions uint32    `json:"impressions"`
	Clicks      uint32    `json:"clicks"`
	Conversions uint32    `json:"conversions"`
	Spend       float64   `json:"spend"`
}

// HourlyMetric is the per-campaign summary of raw rows within one hour
// bucket. AvgCTR is a percentage, AvgCPC an absolute value, both rounded
// to two decimals by the store.
type HourlyMetric struct {
	Hour             time.Time `json:"hour"`
	CampaignID       string    `json:"campaign_id"`
	TotalImpressions uint64    `json:"total_impressions"`
	TotalClicks      uint64    `json:"total_clicks"`
	TotalConversions uint64    `json:"total_conversions"`
	TotalSpend       float64   `json:"total_spend"`
	AvgCTR           float64   `json:"avg_ctr"`
	AvgCPC           float64   `json:"avg_cpc"`
}

// Day is a calendar date that marshals as YYYY-MM-DD.
type Day time.Time

// MarshalJSON implements json.Marshaler.
func (d Day) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(d).Format(DayLayout) + `"`), nil
}

// Time returns the underlying time.Time.
func (d Day) Time() time.Time { return time.Time(d) }

// SummaryRow is one (date, campaign) group of the summary report.
type SummaryRow struct {
	Date             Day     `json:"date"`
	CampaignID       string  `json:"campaign_id"`
	TotalImpressions uint64  `json:"total_impressions"`
	TotalClicks      uint64  `json:"total_clicks"`
	TotalConversions uint64  `json:"total_conversions"`
	TotalSpend       float64 `json:"total_spend"`
	AvgCTR           float64 `json:"avg_ctr"`
	AvgCPC           float64 `json:"avg_cpc"`
}

// Minute is a minute bucket that marshals with second precision.
type Minute time.Time

// MarshalJSON implements json.Marshaler.
func (m Minute) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Time(m).Format(TimeLayout) + `"`), nil
}

// RealtimeRow is one minute bucket of the trailing realtime report.
type RealtimeRow struct {
	Minute      Minute  `json:"minute"`
	Impressions uint64  `json:"impressions"`
	Clicks      uint64  `json:"clicks"`
	Conversions uint64  `json:"conversions"`
	Spend       float64 `json:"spend"`
	AvgCTR      float64 `json:"avg_ctr"`
}

// SummaryCriteria filters the summary report. Every field is optional and
// the filters combine independently.
type SummaryCriteria struct {
	StartDate  *time.Time
	EndDate    *time.Time
	CampaignID string
}

// RealtimeCriteria bounds the realtime report to a trailing window.
type RealtimeCriteria struct {
	WindowMinutes int
}

// AggregateCriteria is a half-open [From, To) window of raw rows to fold
// into hourly buckets.
type AggregateCriteria struct {
	From time.Time
	To   time.Time
}

// MetricsStore is the columnar analytics store holding raw metric rows and
// derived hourly aggregates.
type MetricsStore interface {
	// InsertMetrics bulk-inserts raw metric rows.
	InsertMetrics(ctx context.Context, metrics []RawMetric) error
	// SummarizeDaily groups raw rows by (date, campaign), ordered by date
	// descending.
	SummarizeDaily(ctx context.Context, c *SummaryCriteria) ([]SummaryRow, error)
	// RealtimeMetrics groups raw rows of the trailing window by minute,
	// ordered by minute descending.
	RealtimeMetrics(ctx context.Context, c *RealtimeCriteria) ([]RealtimeRow, error)
	// AggregateWindow folds raw rows of a half-open window into
	// per-campaign hourly buckets without writing them.
	AggregateWindow(ctx context.Context, c *AggregateCriteria) ([]HourlyMetric, error)
	// InsertHourlyMetrics bulk-inserts hourly aggregate rows. The relation
	// is keyed by (hour, campaign), so a re-run of the same window
	// replaces rows instead of accumulating duplicates.
	InsertHourlyMetrics(ctx context.Context, metrics []HourlyMetric) error
	// DeleteMetricsBefore deletes raw rows with timestamp strictly before
	// the cutoff. Hourly aggregates are left untouched.
	DeleteMetricsBefore(ctx context.Context, cutoff time.Time) error
}

// MetricsService serves the read endpoints of the query API.
type MetricsService interface {
	// Summary returns the per-day per-campaign summary report.
	Summary(ctx context.Context, req *SummaryRequest) ([]SummaryRow, error)
	// Realtime returns the trailing per-minute report.
	Realtime(ctx context.Context, windowMinutes int) ([]RealtimeRow, error)
}

// SummaryRequest carries the raw, optional filters of the summary endpoint.
type SummaryRequest struct {
	StartDate  string
	EndDate    string
	CampaignID string
}
