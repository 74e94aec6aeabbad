// Package scheduler owns the two recurring schedules of the metrics
// pipeline: hourly aggregation and weekly retention. Each firing computes
// its parameters at fire time and enqueues a job instance; a missed firing
// is skipped, never replayed.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/vk-rv/adpulse/internal/adpulse"
	"github.com/vk-rv/adpulse/internal/stdlog"
)

const (
	// AggregationSpec fires at the top of every hour.
	AggregationSpec = "0 * * * *"
	// RetentionSpec fires every Sunday at midnight.
	RetentionSpec = "0 0 * * 0"
)

// DefaultRetentionDays is the retention horizon enqueued with retain jobs
// unless configured otherwise.
const DefaultRetentionDays = 90

// Scheduler enqueues recurring pipeline jobs and observes their outcomes.
type Scheduler struct {
	queue         adpulse.JobQueue
	cron          *cron.Cron
	now           func() time.Time
	logger        *slog.Logger
	retentionDays int
}

// New creates a scheduler over the given queue. retentionDays falls back to
// DefaultRetentionDays when zero.
func New(queue adpulse.JobQueue, now func() time.Time, retentionDays int, logger *slog.Logger) *Scheduler {
	if retentionDays == 0 {
		retentionDays = DefaultRetentionDays
	}
	return &Scheduler{
		queue: queue,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cron.PrintfLogger(stdlog.NewLogger(logger))),
		),
		now:           now,
		logger:        logger,
		retentionDays: retentionDays,
	}
}

// Start registers both recurrences and starts the cron loop. A misconfigured
// retention horizon fails here, before anything is scheduled.
func (s *Scheduler) Start() error {
	if err := (&adpulse.RetainPayload{DaysToKeep: s.retentionDays}).Validate(); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(AggregationSpec, func() {
		if err := s.EnqueueAggregation(context.Background()); err != nil {
			s.logger.Error("enqueue aggregation job", slog.Any("error", err))
		}
	}); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(RetentionSpec, func() {
		if err := s.EnqueueRetention(context.Background()); err != nil {
			s.logger.Error("enqueue retention job", slog.Any("error", err))
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		slog.Int("jobs", len(s.cron.Entries())),
		slog.Int("retention_days", s.retentionDays))

	return nil
}

// Stop halts schedule firings and waits for a firing already in progress.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

// EnqueueAggregation enqueues an aggregate job for the trailing hour. The
// window is wall-clock at fire time, [now-1h, now), second precision.
func (s *Scheduler) EnqueueAggregation(ctx context.Context) error {
	now := s.now().UTC().Truncate(time.Second)
	return s.queue.Enqueue(ctx, adpulse.NewAggregateJob(now.Add(-time.Hour), now))
}

// EnqueueRetention enqueues a retain job with the configured horizon.
func (s *Scheduler) EnqueueRetention(ctx context.Context) error {
	return s.queue.Enqueue(ctx, adpulse.NewRetainJob(s.retentionDays))
}

// OnCompleted logs a finished job. Observation only, no side effects.
func (s *Scheduler) OnCompleted(job *adpulse.Job, result *adpulse.JobResult) {
	s.logger.Info("job completed",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.String("message", result.Message),
		slog.Int("records_processed", result.RecordsProcessed))
}

// OnFailed logs a failed job. The job is not requeued here; retry policy
// belongs to the queue.
func (s *Scheduler) OnFailed(job *adpulse.Job, err error) {
	s.logger.Error("job failed",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)),
		slog.Any("error", err))
}
