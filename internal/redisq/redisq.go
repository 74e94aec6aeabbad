// Package redisq provides a durable Redis-backed job queue for the
// scheduled metrics pipeline. Jobs are appended to a queued list, claimed
// atomically into an active list by a consumer and removed from it once
// they reach a terminal state, so a crashed worker leaves its job visible
// in the active list instead of losing it.
package redisq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/vk-rv/adpulse/internal/adpulse"
)

const (
	// DefaultName is the default queue key prefix.
	DefaultName = "adpulse:jobs"

	// DefaultClaimTimeout bounds a single blocking claim so the consumer
	// can observe context cancellation between jobs.
	DefaultClaimTimeout = 5 * time.Second

	// DefaultMaxAttempts is the queue default: one attempt, no retry and
	// no backoff. Failures are recorded and surfaced to the observer.
	DefaultMaxAttempts = 1

	// stateTTL bounds how long a terminal job state is kept around.
	stateTTL = 24 * time.Hour
)

// Config holds configuration for the queue and its consumer.
type Config struct {
	// Client is the shared Redis client. Required.
	Client redis.UniversalClient
	// Logger defaults to slog.Default.
	Logger *slog.Logger
	// Name is the queue key prefix, DefaultName when empty.
	Name string
	// MaxAttempts is the per-queue delivery limit, DefaultMaxAttempts
	// when zero.
	MaxAttempts int
	// ClaimTimeout is the blocking claim timeout, DefaultClaimTimeout
	// when zero.
	ClaimTimeout time.Duration
}

// finalize ensures the configuration is valid, applying defaults.
func (cfg *Config) finalize() error {
	if cfg.Client == nil {
		return errors.New("redisq: client is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.MaxAttempts < 0 {
		return fmt.Errorf("redisq: max attempts cannot be negative: %d", cfg.MaxAttempts)
	}
	if cfg.ClaimTimeout == 0 {
		cfg.ClaimTimeout = DefaultClaimTimeout
	}
	return nil
}

func (cfg *Config) queuedKey() string { return cfg.Name + ":queued" }
func (cfg *Config) activeKey() string { return cfg.Name + ":active" }
func (cfg *Config) stateKey(id string) string {
	return cfg.Name + ":state:" + id
}

// Queue is the producer side of the job queue. Implements adpulse.JobQueue.
type Queue struct {
	cfg *Config
}

// NewQueue returns a new Queue with the given config.
func NewQueue(cfg Config) (*Queue, error) {
	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return &Queue{cfg: &cfg}, nil
}

// Enqueue validates the job, assigns it an ID if it has none and appends it
// to the queued list. Invalid jobs never reach the queue.
func (q *Queue) Enqueue(ctx context.Context, job *adpulse.Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("redisq: enqueue: %w", err)
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("redisq: marshal job %s: %w", job.ID, err)
	}

	pipe := q.cfg.Client.TxPipeline()
	pipe.LPush(ctx, q.cfg.queuedKey(), raw)
	pipe.Set(ctx, q.cfg.stateKey(job.ID), string(adpulse.JobStateQueued), stateTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redisq: enqueue job %s: %w", job.ID, err)
	}

	q.cfg.Logger.Info("job enqueued",
		slog.String("job_id", job.ID),
		slog.String("kind", string(job.Kind)))

	return nil
}

// State reports the last recorded lifecycle state of a job.
func (q *Queue) State(ctx context.Context, jobID string) (adpulse.JobState, error) {
	s, err := q.cfg.Client.Get(ctx, q.cfg.stateKey(jobID)).Result()
	if err != nil {
		return "", fmt.Errorf("redisq: get state of job %s: %w", jobID, err)
	}
	return adpulse.JobState(s), nil
}

// Healthy returns an error if the Redis backend is unreachable.
func (q *Queue) Healthy(ctx context.Context) error {
	if err := q.cfg.Client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redisq: health probe: %w", err)
	}
	return nil
}

// Close closes the underlying client.
func (q *Queue) Close() error {
	return q.cfg.Client.Close()
}
