package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudcurio/arbfinder/internal/store"
)

func testQueue(st store.Store) *Queue {
	q := NewQueue(st)
	q.retryBackoff = 0
	return q
}

func enqueue(t *testing.T, q *Queue, jobType string, priority store.JobPriority) store.AgentJob {
	t.Helper()
	input := json.RawMessage(`{"title":"RTX 3060 Ti 8GB","price":100}`)
	id, err := q.Enqueue(context.Background(), jobType, input, priority)
	require.NoError(t, err)
	job, err := q.Get(context.Background(), id)
	require.NoError(t, err)
	return *job
}

func TestQueue_EnqueueRejectsUnknownType(t *testing.T) {
	q := testQueue(store.NewMemory())
	_, err := q.Enqueue(context.Background(), "coffee_fetcher", nil, store.PriorityNormal)
	assert.ErrorContains(t, err, "unknown agent type")
}

func TestQueue_DequeuePriorityThenFIFO(t *testing.T) {
	ctx := context.Background()
	q := testQueue(store.NewMemory())

	base := time.Now().UTC()
	clock := base
	q.now = func() time.Time { clock = clock.Add(time.Second); return clock }

	low := enqueue(t, q, TypeListingWriter, store.PriorityLow)
	normalFirst := enqueue(t, q, TypeTitleEnhancer, store.PriorityNormal)
	normalSecond := enqueue(t, q, TypeTitleEnhancer, store.PriorityNormal)
	high := enqueue(t, q, TypePriceSpecialist, store.PriorityHigh)

	jobs, err := q.DequeueBatch(ctx, 3)
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, high.ID, jobs[0].ID)
	assert.Equal(t, normalFirst.ID, jobs[1].ID)
	assert.Equal(t, normalSecond.ID, jobs[2].ID)
	for _, j := range jobs {
		assert.Equal(t, store.JobRunning, j.Status)
		assert.NotNil(t, j.StartedAt)
	}

	rest, err := q.DequeueBatch(ctx, 3)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, low.ID, rest[0].ID)
}

func TestQueue_FailRetriesThenTerminates(t *testing.T) {
	ctx := context.Background()
	q := testQueue(store.NewMemory())
	job := enqueue(t, q, TypeTitleEnhancer, store.PriorityNormal)

	execErr := fmt.Errorf("model timeout")
	for attempt := 1; attempt < DefaultMaxRetries; attempt++ {
		claimed, err := q.DequeueBatch(ctx, 1)
		require.NoError(t, err)
		require.Len(t, claimed, 1)

		updated, err := q.Fail(ctx, job.ID, execErr)
		require.NoError(t, err)
		assert.Equal(t, store.JobQueued, updated.Status, "attempt %d should requeue", attempt)
		assert.Equal(t, attempt, updated.Attempt)
	}

	claimed, err := q.DequeueBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	final, err := q.Fail(ctx, job.ID, execErr)
	require.NoError(t, err)
	assert.Equal(t, store.JobFailed, final.Status)
	assert.Equal(t, DefaultMaxRetries, final.Attempt)
	assert.Equal(t, "model timeout", final.Error)
	assert.NotNil(t, final.CompletedAt)

	// Terminal failure is never re-dequeued.
	none, err := q.DequeueBatch(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestQueue_RetryBackoffDelaysRequeue(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	q := NewQueue(st)
	base := time.Now().UTC()
	q.now = func() time.Time { return base }

	job := enqueue(t, q, TypeTitleEnhancer, store.PriorityNormal)
	_, err := q.DequeueBatch(ctx, 1)
	require.NoError(t, err)
	_, err = q.Fail(ctx, job.ID, fmt.Errorf("transient"))
	require.NoError(t, err)

	// Not runnable until the backoff elapses.
	jobs, err := st.DequeueJobs(ctx, 1, base)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	jobs, err = st.DequeueJobs(ctx, 1, base.Add(DefaultRetryBackoff+time.Second))
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestValidateOutput(t *testing.T) {
	cases := []struct {
		name    string
		jobType string
		output  string
		wantErr bool
	}{
		{"valid title", TypeTitleEnhancer, `{"enhanced_title":"RTX 3060 Ti 8GB GPU","keywords":["rtx","3060"]}`, false},
		{"missing required field", TypeTitleEnhancer, `{"keywords":["rtx"]}`, true},
		{"valid price", TypePriceSpecialist, `{"suggested_price":249.99,"reasoning":"median sold 280","confidence":"high"}`, false},
		{"non-positive price", TypePriceSpecialist, `{"suggested_price":0,"reasoning":"x"}`, true},
		{"bad confidence enum", TypePriceSpecialist, `{"suggested_price":10,"reasoning":"x","confidence":"certain"}`, true},
		{"valid metadata", TypeMetadataEnricher, `{"brand":"NVIDIA","category":"graphics-card","attributes":{"memory":"8GB"}}`, false},
		{"not json", TypeTitleEnhancer, `not json at all`, true},
		{"unknown type", "coffee_fetcher", `{}`, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateOutput(tc.jobType, []byte(tc.output))
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

// scriptedEnricher fails a set number of times, then succeeds with a
// fixed payload.
type scriptedEnricher struct {
	failures int32
	calls    atomic.Int32
	payload  string
}

func (e *scriptedEnricher) Complete(ctx context.Context, prompt string) (string, error) {
	if e.calls.Add(1) <= e.failures {
		return "", fmt.Errorf("model unavailable")
	}
	return e.payload, nil
}

func TestRunner_SuccessPath(t *testing.T) {
	ctx := context.Background()
	q := testQueue(store.NewMemory())
	job := enqueue(t, q, TypeTitleEnhancer, store.PriorityNormal)

	enricher := &scriptedEnricher{payload: "```json\n{\"enhanced_title\":\"RTX 3060 Ti 8GB\"}\n```"}
	r := NewRunner(q, enricher, RunnerOptions{})

	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobCompleted, got.Status)
	// Markdown fences are stripped before the output is stored.
	assert.JSONEq(t, `{"enhanced_title":"RTX 3060 Ti 8GB"}`, string(got.Output))
	assert.NotNil(t, got.CompletedAt)
}

func TestRunner_RetriesExactlyMaxRetriesTimes(t *testing.T) {
	ctx := context.Background()
	q := testQueue(store.NewMemory())
	job := enqueue(t, q, TypeTitleEnhancer, store.PriorityNormal)

	enricher := &scriptedEnricher{failures: 1000, payload: `{}`}
	r := NewRunner(q, enricher, RunnerOptions{})

	// Drain until the queue is empty; each pass executes at most one
	// attempt of the job.
	for i := 0; i < DefaultMaxRetries+2; i++ {
		_, err := r.RunOnce(ctx)
		require.NoError(t, err)
	}

	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobFailed, got.Status)
	assert.Equal(t, DefaultMaxRetries, got.Attempt)
	assert.Equal(t, int32(DefaultMaxRetries), enricher.calls.Load())
}

// writeFailStore fails every UpdateJob past the allowed count, so the
// start stamp during dequeue succeeds but the outcome write does not.
type writeFailStore struct {
	store.Store
	allowed int32
	calls   atomic.Int32
}

func (s *writeFailStore) UpdateJob(ctx context.Context, id uuid.UUID, fn func(*store.AgentJob)) (*store.AgentJob, error) {
	if s.calls.Add(1) > s.allowed {
		return nil, fmt.Errorf("disk full")
	}
	return s.Store.UpdateJob(ctx, id, fn)
}

func TestRunner_SurfacesOutcomeWriteFailures(t *testing.T) {
	ctx := context.Background()
	st := &writeFailStore{Store: store.NewMemory(), allowed: 1}
	q := testQueue(st)
	enqueue(t, q, TypeTitleEnhancer, store.PriorityNormal)

	enricher := &scriptedEnricher{payload: `{"enhanced_title":"RTX 3060 Ti 8GB"}`}
	r := NewRunner(q, enricher, RunnerOptions{})

	n, err := r.RunOnce(ctx)
	assert.Equal(t, 1, n)
	require.Error(t, err)
	assert.ErrorContains(t, err, "disk full")
}

func TestRunner_InvalidOutputIsFailure(t *testing.T) {
	ctx := context.Background()
	q := testQueue(store.NewMemory())
	job := enqueue(t, q, TypeTitleEnhancer, store.PriorityNormal)

	// Valid JSON, wrong shape.
	enricher := &scriptedEnricher{payload: `{"keywords":["x"]}`}
	r := NewRunner(q, enricher, RunnerOptions{})

	_, err := r.RunOnce(ctx)
	require.NoError(t, err)

	got, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobQueued, got.Status)
	assert.Equal(t, 1, got.Attempt)
	assert.Contains(t, got.Error, "schema validation")
}
