package mock

import (
	"context"

	"github.com/vk-rv/adpulse/internal/adpulse"
)

// JobQueue is a mock implementation of adpulse.JobQueue.
type JobQueue struct {
	EnqueueFn func(ctx context.Context, job *adpulse.Job) error
	HealthyFn func(ctx context.Context) error
	CloseFn   func() error
}

func (m *JobQueue) Enqueue(ctx context.Context, job *adpulse.Job) error {
	return m.EnqueueFn(ctx, job)
}

func (m *JobQueue) Healthy(ctx context.Context) error {
	if m.HealthyFn == nil {
		return nil
	}
	return m.HealthyFn(ctx)
}

func (m *JobQueue) Close() error {
	if m.CloseFn == nil {
		return nil
	}
	return m.CloseFn()
}

// Producer is a mock implementation of adpulse.Producer.
type Producer struct {
	ProduceFn func(ctx context.Context, rs ...adpulse.Record) error
	HealthyFn func(ctx context.Context) error
	CloseFn   func() error
}

func (m *Producer) Produce(ctx context.Context, rs ...adpulse.Record) error {
	return m.ProduceFn(ctx, rs...)
}

func (m *Producer) Healthy(ctx context.Context) error {
	if m.HealthyFn == nil {
		return nil
	}
	return m.HealthyFn(ctx)
}

func (m *Producer) Close() error {
	if m.CloseFn == nil {
		return nil
	}
	return m.CloseFn()
}
