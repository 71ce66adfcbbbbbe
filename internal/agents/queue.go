package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cloudcurio/arbfinder/internal/store"
)

// DefaultMaxRetries bounds execution attempts per job. After this many
// failed executions the job lands in the terminal failed state.
const DefaultMaxRetries = 3

// DefaultRetryBackoff is the delay before the first retry; each further
// retry doubles it.
const DefaultRetryBackoff = 30 * time.Second

// Queue manages agent job lifecycle over the store. Dequeueing is
// exactly-once: the store claims jobs atomically, so concurrent workers
// never see the same job twice.
type Queue struct {
	store        store.Store
	maxRetries   int
	retryBackoff time.Duration
	// now is swapped in tests.
	now func() time.Time
}

// NewQueue creates a Queue with the standard retry policy.
func NewQueue(st store.Store) *Queue {
	return &Queue{
		store:        st,
		maxRetries:   DefaultMaxRetries,
		retryBackoff: DefaultRetryBackoff,
		now:          time.Now,
	}
}

// Enqueue creates a queued job and returns its ID. The agent type must
// be one of the known kinds.
func (q *Queue) Enqueue(ctx context.Context, jobType string, input json.RawMessage, priority store.JobPriority) (uuid.UUID, error) {
	if _, err := specFor(jobType); err != nil {
		return uuid.Nil, err
	}
	switch priority {
	case store.PriorityHigh, store.PriorityNormal, store.PriorityLow:
	default:
		priority = store.PriorityNormal
	}

	now := q.now().UTC()
	job := store.AgentJob{
		ID:        uuid.New(),
		Type:      jobType,
		Status:    store.JobQueued,
		Priority:  priority,
		Input:     input,
		RunAfter:  now,
		CreatedAt: now,
	}
	if err := q.store.CreateJob(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("failed to enqueue %s job: %w", jobType, err)
	}
	return job.ID, nil
}

// DequeueBatch claims up to n runnable jobs, ordered by priority then
// FIFO, marking each running and stamping StartedAt.
func (q *Queue) DequeueBatch(ctx context.Context, n int) ([]store.AgentJob, error) {
	jobs, err := q.store.DequeueJobs(ctx, n, q.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue jobs: %w", err)
	}
	for i := range jobs {
		started := q.now().UTC()
		updated, err := q.store.UpdateJob(ctx, jobs[i].ID, func(j *store.AgentJob) {
			j.StartedAt = &started
		})
		if err != nil {
			return nil, fmt.Errorf("failed to stamp job start: %w", err)
		}
		jobs[i] = *updated
	}
	return jobs, nil
}

// Get returns one job.
func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*store.AgentJob, error) {
	return q.store.GetJob(ctx, id)
}

// Complete records a successful execution and its output.
func (q *Queue) Complete(ctx context.Context, id uuid.UUID, output json.RawMessage) error {
	done := q.now().UTC()
	_, err := q.store.UpdateJob(ctx, id, func(j *store.AgentJob) {
		j.Status = store.JobCompleted
		j.Output = output
		j.Error = ""
		j.CompletedAt = &done
	})
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// Fail records a failed execution. The job returns to queued with a
// backoff delay while attempts remain; the retry that exhausts
// maxRetries leaves it in the terminal failed state, never to requeue.
func (q *Queue) Fail(ctx context.Context, id uuid.UUID, execErr error) (*store.AgentJob, error) {
	now := q.now().UTC()
	updated, err := q.store.UpdateJob(ctx, id, func(j *store.AgentJob) {
		j.Attempt++
		j.Error = execErr.Error()
		if j.Attempt >= q.maxRetries {
			j.Status = store.JobFailed
			j.CompletedAt = &now
			return
		}
		j.Status = store.JobQueued
		j.RunAfter = now.Add(q.backoffFor(j.Attempt))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record job failure: %w", err)
	}
	return updated, nil
}

// backoffFor doubles the retry delay per prior attempt.
func (q *Queue) backoffFor(attempt int) time.Duration {
	d := q.retryBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}
