package adpulse

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// JobKind discriminates the tagged job payload.
type JobKind string

const (
	// JobKindAggregate folds a window of raw rows into hourly aggregates.
	JobKindAggregate JobKind = "aggregate"
	// JobKindRetain deletes raw rows older than a retention horizon.
	JobKindRetain JobKind = "retain"
)

// JobState is the lifecycle state of a job instance.
type JobState string

const (
	JobStateQueued    JobState = "queued"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// ErrConsumerAlreadyRunning is returned by a consumer's Run if it has
// already been called.
var ErrConsumerAlreadyRunning = errors.New("consumer.Run: consumer already running")

// ValidationError reports a job payload that must be rejected before it is
// enqueued or executed.
type ValidationError struct {
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string { return "validation: " + e.Reason }

// AggregatePayload is the time window of an aggregate job. Boundaries are
// wall-clock at enqueue time, TimeLayout in UTC, and the window is
// half-open: [StartTime, EndTime).
type AggregatePayload struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

// Window parses the payload boundaries.
func (p *AggregatePayload) Window() (start, end time.Time, err error) {
	start, err = time.ParseInLocation(TimeLayout, p.StartTime, time.UTC)
	if err != nil {
		return start, end, fmt.Errorf("parse start time: %w", err)
	}
	end, err = time.ParseInLocation(TimeLayout, p.EndTime, time.UTC)
	if err != nil {
		return start, end, fmt.Errorf("parse end time: %w", err)
	}
	return start, end, nil
}

// Validate checks the window boundaries.
func (p *AggregatePayload) Validate() error {
	start, end, err := p.Window()
	if err != nil {
		return &ValidationError{Reason: err.Error()}
	}
	if !start.Before(end) {
		return &ValidationError{Reason: fmt.Sprintf("aggregate window start %q is not before end %q", p.StartTime, p.EndTime)}
	}
	return nil
}

// RetainPayload is the retention horizon of a retain job.
type RetainPayload struct {
	DaysToKeep int `json:"daysToKeep"`
}

// Validate rejects non-positive horizons before any delete is issued.
func (p *RetainPayload) Validate() error {
	if p.DaysToKeep <= 0 {
		return &ValidationError{Reason: fmt.Sprintf("daysToKeep must be positive, got %d", p.DaysToKeep)}
	}
	return nil
}

// Job is a unit of scheduled work: a kind plus exactly one matching payload.
type Job struct {
	ID         string            `json:"id"`
	Kind       JobKind           `json:"kind"`
	Aggregate  *AggregatePayload `json:"aggregate,omitempty"`
	Retain     *RetainPayload    `json:"retain,omitempty"`
	Attempts   int               `json:"attempts"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
}

// Validate checks that the kind matches the payload and that the payload
// itself is valid.
func (j *Job) Validate() error {
	switch j.Kind {
	case JobKindAggregate:
		if j.Aggregate == nil {
			return &ValidationError{Reason: "aggregate job without aggregate payload"}
		}
		if j.Retain != nil {
			return &ValidationError{Reason: "aggregate job with retain payload"}
		}
		return j.Aggregate.Validate()
	case JobKindRetain:
		if j.Retain == nil {
			return &ValidationError{Reason: "retain job without retain payload"}
		}
		if j.Aggregate != nil {
			return &ValidationError{Reason: "retain job with aggregate payload"}
		}
		return j.Retain.Validate()
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown job kind %q", j.Kind)}
	}
}

// NewAggregateJob builds an aggregate job for the half-open window
// [start, end), formatted to second precision in UTC.
func NewAggregateJob(start, end time.Time) *Job {
	return &Job{
		Kind: JobKindAggregate,
		Aggregate: &AggregatePayload{
			StartTime: start.UTC().Format(TimeLayout),
			EndTime:   end.UTC().Format(TimeLayout),
		},
	}
}

// NewRetainJob builds a retain job with the given horizon in days.
func NewRetainJob(daysToKeep int) *Job {
	return &Job{
		Kind:   JobKindRetain,
		Retain: &RetainPayload{DaysToKeep: daysToKeep},
	}
}

// JobResult is the success payload of a finished job.
type JobResult struct {
	Message          string `json:"message"`
	RecordsProcessed int    `json:"recordsProcessed"`
}

// JobQueue is the durable work queue jobs are enqueued to. Implementations
// must validate jobs before accepting them.
type JobQueue interface {
	// Enqueue validates the job, assigns it an ID if it has none and
	// appends it to the queue.
	Enqueue(ctx context.Context, job *Job) error
	// Healthy returns an error if the queue backend is unreachable.
	Healthy(ctx context.Context) error
	// Close releases the queue connection.
	Close() error
}

// JobProcessor executes one job invocation.
type JobProcessor interface {
	// Process runs the job and returns its result. A returned error marks
	// the job failed in the queue.
	Process(ctx context.Context, job *Job) (*JobResult, error)
}

// JobProcessorFunc is a function type that implements JobProcessor.
type JobProcessorFunc func(ctx context.Context, job *Job) (*JobResult, error)

// Process returns f(ctx, job).
func (f JobProcessorFunc) Process(ctx context.Context, job *Job) (*JobResult, error) {
	return f(ctx, job)
}

// JobEvents observes terminal job outcomes. Observation is the only effect:
// no observer may requeue a job.
type JobEvents interface {
	// OnCompleted is invoked after a job reached the completed state.
	OnCompleted(job *Job, result *JobResult)
	// OnFailed is invoked after a job reached the failed state.
	OnFailed(job *Job, err error)
}
