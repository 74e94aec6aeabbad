package redisq_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk-rv/adpulse/internal/adpulse"
	"github.com/vk-rv/adpulse/internal/redisq"
)

var testRedisInstance *redisq.RedisTestInstance

func TestMain(m *testing.M) {
	testRedisInstance = redisq.MustTestInstance()
	defer testRedisInstance.MustClose()

	m.Run()
}

// events collects terminal job outcomes on channels.
type events struct {
	completed chan *adpulse.Job
	failed    chan *adpulse.Job
}

func newEvents() *events {
	return &events{
		completed: make(chan *adpulse.Job, 8),
		failed:    make(chan *adpulse.Job, 8),
	}
}

func (e *events) OnCompleted(job *adpulse.Job, _ *adpulse.JobResult) { e.completed <- job }
func (e *events) OnFailed(job *adpulse.Job, _ error)                 { e.failed <- job }

func newAggregateJob() *adpulse.Job {
	return adpulse.NewAggregateJob(
		time.Date(2024, 3, 10, 11, 0, 0, 0, time.UTC),
		time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC),
	)
}

func TestEnqueue(t *testing.T) {
	t.Parallel()

	queue, err := redisq.NewQueue(testRedisInstance.NewConfig(t))
	require.NoError(t, err)

	job := newAggregateJob()
	require.NoError(t, queue.Enqueue(t.Context(), job))

	assert.NotEmpty(t, job.ID, "enqueue assigns an id")
	assert.False(t, job.EnqueuedAt.IsZero())

	state, err := queue.State(t.Context(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, adpulse.JobStateQueued, state)
}

func TestEnqueue_RejectsInvalidJob(t *testing.T) {
	t.Parallel()

	queue, err := redisq.NewQueue(testRedisInstance.NewConfig(t))
	require.NoError(t, err)

	err = queue.Enqueue(t.Context(), adpulse.NewRetainJob(-1))

	require.Error(t, err)
	var verr *adpulse.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestConsumer_CompletesJob(t *testing.T) {
	t.Parallel()

	cfg := testRedisInstance.NewConfig(t)
	queue, err := redisq.NewQueue(cfg)
	require.NoError(t, err)

	processed := make(chan *adpulse.Job, 1)
	processor := adpulse.JobProcessorFunc(func(_ context.Context, job *adpulse.Job) (*adpulse.JobResult, error) {
		processed <- job
		return &adpulse.JobResult{Message: "done", RecordsProcessed: 3}, nil
	})
	ev := newEvents()

	consumer, err := redisq.NewConsumer(cfg, processor, ev)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	job := newAggregateJob()
	require.NoError(t, queue.Enqueue(ctx, job))

	select {
	case got := <-processed:
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, 1, got.Attempts)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for job to be processed")
	}

	select {
	case got := <-ev.completed:
		assert.Equal(t, job.ID, got.ID)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for completion event")
	}

	state, err := queue.State(t.Context(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, adpulse.JobStateCompleted, state)

	cancel()
	require.NoError(t, <-done)
}

func TestConsumer_FailedJob(t *testing.T) {
	t.Parallel()

	cfg := testRedisInstance.NewConfig(t)
	queue, err := redisq.NewQueue(cfg)
	require.NoError(t, err)

	processor := adpulse.JobProcessorFunc(func(_ context.Context, _ *adpulse.Job) (*adpulse.JobResult, error) {
		return nil, errors.New("clickhouse: connection refused")
	})
	ev := newEvents()

	consumer, err := redisq.NewConsumer(cfg, processor, ev)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	job := newAggregateJob()
	require.NoError(t, queue.Enqueue(ctx, job))

	select {
	case got := <-ev.failed:
		assert.Equal(t, job.ID, got.ID)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for failure event")
	}

	state, err := queue.State(t.Context(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, adpulse.JobStateFailed, state)

	cancel()
	require.NoError(t, <-done)
}

func TestConsumer_RequeuesUntilMaxAttempts(t *testing.T) {
	t.Parallel()

	cfg := testRedisInstance.NewConfig(t)
	cfg.MaxAttempts = 2
	queue, err := redisq.NewQueue(cfg)
	require.NoError(t, err)

	var calls atomic.Int32
	processor := adpulse.JobProcessorFunc(func(_ context.Context, _ *adpulse.Job) (*adpulse.JobResult, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("transient store failure")
		}
		return &adpulse.JobResult{Message: "done"}, nil
	})
	ev := newEvents()

	consumer, err := redisq.NewConsumer(cfg, processor, ev)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	job := newAggregateJob()
	require.NoError(t, queue.Enqueue(ctx, job))

	select {
	case got := <-ev.completed:
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, 2, got.Attempts, "second attempt should succeed")
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for completion after requeue")
	}

	assert.Equal(t, int32(2), calls.Load())

	cancel()
	require.NoError(t, <-done)
}

func TestConsumer_RunTwice(t *testing.T) {
	t.Parallel()

	cfg := testRedisInstance.NewConfig(t)
	processor := adpulse.JobProcessorFunc(func(_ context.Context, _ *adpulse.Job) (*adpulse.JobResult, error) {
		return &adpulse.JobResult{}, nil
	})

	consumer, err := redisq.NewConsumer(cfg, processor, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	// Give the first Run a moment to take ownership.
	time.Sleep(50 * time.Millisecond)

	err = consumer.Run(ctx)
	assert.ErrorIs(t, err, adpulse.ErrConsumerAlreadyRunning)

	cancel()
	require.NoError(t, <-done)
}

func TestQueueHealthy(t *testing.T) {
	t.Parallel()

	queue, err := redisq.NewQueue(testRedisInstance.NewConfig(t))
	require.NoError(t, err)

	require.NoError(t, queue.Healthy(t.Context()))
}
