// Package worker executes scheduled pipeline jobs claimed from the queue.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/vk-rv/adpulse/internal/adpulse"
)

// Pipeline runs aggregation and retention jobs against the metrics store.
// Implements adpulse.JobProcessor.
type Pipeline struct {
	store   adpulse.MetricsStore
	now     func() time.Time
	logger  *slog.Logger
	metrics *pipelineMetrics
}

// pipelineMetrics holds Prometheus metrics for the pipeline.
type pipelineMetrics struct {
	jobsTotal   *prometheus.CounterVec
	jobDuration *prometheus.HistogramVec
}

// NewPipeline is a constructor of Pipeline.
func NewPipeline(
	store adpulse.MetricsStore,
	now func() time.Time,
	reg prometheus.Registerer,
	logger *slog.Logger,
) *Pipeline {
	return &Pipeline{
		store:  store,
		now:    now,
		logger: logger,
		metrics: &pipelineMetrics{
			jobsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
				Name: "pipeline_jobs_total",
				Help: "Total number of pipeline jobs processed.",
			}, []string{"kind", "status"}),
			jobDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
				Name:    "pipeline_job_duration_seconds",
				Help:    "Duration of pipeline jobs in seconds.",
				Buckets: prometheus.DefBuckets,
			}, []string{"kind"}),
		},
	}
}

// Process runs one job invocation. A returned error aborts the job without
// partial commit; the bulk insert is all-or-nothing at the store level and
// no compensating rollback exists here.
func (p *Pipeline) Process(ctx context.Context, job *adpulse.Job) (*adpulse.JobResult, error) {
	start := p.now()

	var (
		result *adpulse.JobResult
		err    error
	)
	switch job.Kind {
	case adpulse.JobKindAggregate:
		result, err = p.aggregate(ctx, job.Aggregate)
	case adpulse.JobKindRetain:
		result, err = p.retain(ctx, job.Retain)
	default:
		err = &adpulse.ValidationError{Reason: fmt.Sprintf("unknown job kind %q", job.Kind)}
	}

	p.metrics.jobDuration.WithLabelValues(string(job.Kind)).Observe(time.Since(start).Seconds())
	status := "completed"
	if err != nil {
		status = "failed"
	}
	p.metrics.jobsTotal.WithLabelValues(string(job.Kind), status).Inc()

	return result, err
}

// aggregate folds the raw rows of the job window into hourly buckets and
// bulk-inserts them. An empty window is a no-op success.
func (p *Pipeline) aggregate(ctx context.Context, payload *adpulse.AggregatePayload) (*adpulse.JobResult, error) {
	if payload == nil {
		return nil, &adpulse.ValidationError{Reason: "aggregate job without aggregate payload"}
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	from, to, err := payload.Window()
	if err != nil {
		return nil, err
	}

	rows, err := p.store.AggregateWindow(ctx, &adpulse.AggregateCriteria{From: from, To: to})
	if err != nil {
		return nil, fmt.Errorf("aggregate window [%s, %s): %w", payload.StartTime, payload.EndTime, err)
	}

	if err := p.store.InsertHourlyMetrics(ctx, rows); err != nil {
		return nil, fmt.Errorf("store hourly metrics for [%s, %s): %w", payload.StartTime, payload.EndTime, err)
	}

	p.logger.Debug("aggregation window processed",
		slog.String("from", payload.StartTime),
		slog.String("to", payload.EndTime),
		slog.Int("rows", len(rows)))

	return &adpulse.JobResult{
		Message:          fmt.Sprintf("processed metrics from %s to %s", payload.StartTime, payload.EndTime),
		RecordsProcessed: len(rows),
	}, nil
}

// retain deletes raw rows older than the horizon. Hourly aggregates past
// the horizon are deliberately left in place: pruning them is a separate
// decision, not implied by raw-row retention.
func (p *Pipeline) retain(ctx context.Context, payload *adpulse.RetainPayload) (*adpulse.JobResult, error) {
	if payload == nil {
		return nil, &adpulse.ValidationError{Reason: "retain job without retain payload"}
	}
	if err := payload.Validate(); err != nil {
		return nil, err
	}

	cutoff := p.now().UTC().Add(-time.Duration(payload.DaysToKeep) * 24 * time.Hour).Truncate(time.Second)

	if err := p.store.DeleteMetricsBefore(ctx, cutoff); err != nil {
		return nil, fmt.Errorf("delete metrics before %s: %w", cutoff.Format(adpulse.TimeLayout), err)
	}

	return &adpulse.JobResult{
		Message: "cleaned up data older than " + cutoff.Format(adpulse.TimeLayout),
	}, nil
}
