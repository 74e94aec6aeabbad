package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/vk-rv/adpulse/internal/adpulse"
)

// Consumer claims jobs from the queue one at a time and runs them through
// the configured processor. Multiple consumers may run against the same
// queue; the atomic list move guarantees a job instance is claimed by
// exactly one of them.
type Consumer struct {
	cfg       *Config
	processor adpulse.JobProcessor
	events    adpulse.JobEvents
	mu        sync.Mutex
	running   bool
}

// NewConsumer returns a consumer that feeds claimed jobs to processor and
// reports terminal outcomes to events. events may be nil.
func NewConsumer(cfg Config, processor adpulse.JobProcessor, events adpulse.JobEvents) (*Consumer, error) {
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	if processor == nil {
		return nil, errors.New("redisq: processor is required")
	}
	return &Consumer{cfg: &cfg, processor: processor, events: events}, nil
}

// Run executes the consumer in a blocking manner until ctx is canceled.
// Returns adpulse.ErrConsumerAlreadyRunning when it has already been called.
// Cancellation is observed between jobs only: the in-flight job always runs
// to completion.
func (c *Consumer) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return adpulse.ErrConsumerAlreadyRunning
	}
	c.running = true
	c.mu.Unlock()

	c.cfg.Logger.Info("job consumer started", slog.String("queue", c.cfg.Name))

	for {
		if err := ctx.Err(); err != nil {
			c.cfg.Logger.Info("job consumer stopped")
			return nil
		}

		raw, err := c.cfg.Client.BLMove(ctx,
			c.cfg.queuedKey(), c.cfg.activeKey(),
			"RIGHT", "LEFT",
			c.cfg.ClaimTimeout,
		).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.cfg.Logger.Info("job consumer stopped")
				return nil
			}
			c.cfg.Logger.Error("claim job", slog.Any("error", err))
			continue
		}

		// The claimed job is never canceled mid-flight; shutdown waits
		// for it to finish.
		c.handle(context.WithoutCancel(ctx), raw)
	}
}

// Healthy returns an error if the Redis backend is unreachable.
func (c *Consumer) Healthy(ctx context.Context) error {
	if err := c.cfg.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redisq: health probe: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (c *Consumer) Close() error {
	return c.cfg.Client.Close()
}

// handle moves one claimed job through the running state to a terminal one.
func (c *Consumer) handle(ctx context.Context, raw string) {
	job := &adpulse.Job{}
	if err := json.Unmarshal([]byte(raw), job); err != nil {
		c.cfg.Logger.Error("decode claimed job", slog.Any("error", err))
		c.release(ctx, raw)
		return
	}

	job.Attempts++
	c.setState(ctx, job.ID, adpulse.JobStateRunning)

	result, err := c.process(ctx, job)
	if err != nil {
		c.release(ctx, raw)
		if job.Attempts < c.cfg.MaxAttempts && c.requeue(ctx, job) {
			return
		}
		c.setState(ctx, job.ID, adpulse.JobStateFailed)
		if c.events != nil {
			c.events.OnFailed(job, err)
		}
		return
	}

	c.release(ctx, raw)
	c.setState(ctx, job.ID, adpulse.JobStateCompleted)
	if c.events != nil {
		c.events.OnCompleted(job, result)
	}
}

// process revalidates and executes the job.
func (c *Consumer) process(ctx context.Context, job *adpulse.Job) (*adpulse.JobResult, error) {
	if err := job.Validate(); err != nil {
		return nil, err
	}
	return c.processor.Process(ctx, job)
}

// requeue puts a failed job back on the queued list for another attempt.
// Reports whether the requeue succeeded.
func (c *Consumer) requeue(ctx context.Context, job *adpulse.Job) bool {
	raw, err := json.Marshal(job)
	if err != nil {
		c.cfg.Logger.Error("marshal job for requeue",
			slog.String("job_id", job.ID), slog.Any("error", err))
		return false
	}
	pipe := c.cfg.Client.TxPipeline()
	pipe.LPush(ctx, c.cfg.queuedKey(), raw)
	pipe.Set(ctx, c.cfg.stateKey(job.ID), string(adpulse.JobStateQueued), stateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		c.cfg.Logger.Error("requeue job",
			slog.String("job_id", job.ID), slog.Any("error", err))
		return false
	}
	c.cfg.Logger.Info("job requeued",
		slog.String("job_id", job.ID),
		slog.Int("attempts", job.Attempts))
	return true
}

// release drops the claimed payload from the active list.
func (c *Consumer) release(ctx context.Context, raw string) {
	if err := c.cfg.Client.LRem(ctx, c.cfg.activeKey(), 1, raw).Err(); err != nil {
		c.cfg.Logger.Error("release claimed job", slog.Any("error", err))
	}
}

// setState records the lifecycle state of a job.
func (c *Consumer) setState(ctx context.Context, jobID string, state adpulse.JobState) {
	if err := c.cfg.Client.Set(ctx, c.cfg.stateKey(jobID), string(state), stateTTL).Err(); err != nil {
		c.cfg.Logger.Error("record job state",
			slog.String("job_id", jobID),
			slog.String("state", string(state)),
			slog.Any("error", err))
	}
}
