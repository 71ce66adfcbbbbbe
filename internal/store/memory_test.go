package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testListing(url string, price float64) Listing {
	return Listing{
		Source:     "shopgoodwill",
		URL:        url,
		Title:      "RTX 3060 Ti 8GB",
		CompKey:    "rtx 3060 ti 8 gb",
		Price:      price,
		Currency:   "USD",
		Condition:  ConditionGood,
		ObservedAt: time.Now(),
	}
}

func TestMemory_UpsertListingDeduplicates(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.UpsertListing(ctx, testListing("https://example.com/item/1", 100)))
	require.NoError(t, m.UpsertListing(ctx, testListing("https://example.com/item/1", 80)))

	n, err := m.CountListings(ctx, "https://example.com/item/1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := m.GetListingByURL(ctx, "https://example.com/item/1")
	require.NoError(t, err)
	assert.Equal(t, 80.0, got.Price)
}

func TestMemory_GetListingNotFound(t *testing.T) {
	m := NewMemory()
	_, err := m.GetListingByURL(context.Background(), "https://example.com/missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemory_CompRoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	comp := Comp{CompKey: "rtx 3060 ti 8 gb", AvgPrice: 150, MedianPrice: 145, Count: 7, LastUpdated: time.Now()}
	require.NoError(t, m.UpsertComp(ctx, comp))

	got, err := m.GetComp(ctx, comp.CompKey)
	require.NoError(t, err)
	assert.Equal(t, comp.Count, got.Count)

	keys, err := m.ListCompKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"rtx 3060 ti 8 gb"}, keys)

	_, err = m.GetComp(ctx, "unknown key")
	assert.ErrorIs(t, err, ErrNotFound)
}

func newQueuedJob(jobType string, priority JobPriority, createdAt time.Time) AgentJob {
	return AgentJob{
		ID:        uuid.New(),
		Type:      jobType,
		Status:    JobQueued,
		Priority:  priority,
		RunAfter:  createdAt,
		CreatedAt: createdAt,
	}
}

func TestMemory_DequeuePriorityThenFIFO(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Now()

	lowFirst := newQueuedJob("title_enhancer", PriorityLow, base)
	normal := newQueuedJob("metadata_enricher", PriorityNormal, base.Add(time.Second))
	highLate := newQueuedJob("price_specialist", PriorityHigh, base.Add(3*time.Second))
	highEarly := newQueuedJob("price_specialist", PriorityHigh, base.Add(2*time.Second))
	for _, j := range []AgentJob{lowFirst, normal, highLate, highEarly} {
		require.NoError(t, m.CreateJob(ctx, j))
	}

	jobs, err := m.DequeueJobs(ctx, 3, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, highEarly.ID, jobs[0].ID)
	assert.Equal(t, highLate.ID, jobs[1].ID)
	assert.Equal(t, normal.ID, jobs[2].ID)
	for _, j := range jobs {
		assert.Equal(t, JobRunning, j.Status)
	}

	// The low-priority job is still queued.
	remaining, err := m.DequeueJobs(ctx, 10, base.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, lowFirst.ID, remaining[0].ID)
}

func TestMemory_DequeueRespectsRunAfter(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	j := newQueuedJob("title_enhancer", PriorityNormal, now)
	j.RunAfter = now.Add(time.Hour)
	require.NoError(t, m.CreateJob(ctx, j))

	jobs, err := m.DequeueJobs(ctx, 1, now)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	jobs, err = m.DequeueJobs(ctx, 1, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestMemory_DequeueExactlyOnceUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	const total = 50
	for i := 0; i < total; i++ {
		require.NoError(t, m.CreateJob(ctx, newQueuedJob("title_enhancer", PriorityNormal, now.Add(time.Duration(i)))))
	}

	var mu sync.Mutex
	seen := make(map[uuid.UUID]int)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				jobs, err := m.DequeueJobs(ctx, 3, now.Add(time.Minute))
				assert.NoError(t, err)
				if err != nil || len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, j := range jobs {
					seen[j.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, count := range seen {
		assert.Equal(t, 1, count, "job %s dequeued more than once", id)
	}
}

func TestMemory_ListJobs(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	base := time.Now()

	queued := newQueuedJob("title_enhancer", PriorityLow, base)
	high := newQueuedJob("price_specialist", PriorityHigh, base.Add(time.Second))
	done := newQueuedJob("metadata_enricher", PriorityNormal, base)
	done.Status = JobCompleted
	for _, j := range []AgentJob{queued, high, done} {
		require.NoError(t, m.CreateJob(ctx, j))
	}

	all, err := m.ListJobs(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, high.ID, all[0].ID)

	onlyQueued, err := m.ListJobs(ctx, JobQueued, 0)
	require.NoError(t, err)
	require.Len(t, onlyQueued, 2)

	limited, err := m.ListJobs(ctx, "", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMemory_UpdateJob(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	j := newQueuedJob("title_enhancer", PriorityNormal, time.Now())
	require.NoError(t, m.CreateJob(ctx, j))

	updated, err := m.UpdateJob(ctx, j.ID, func(job *AgentJob) {
		job.Status = JobFailed
		job.Error = "enrichment timed out"
		job.Attempt = 3
	})
	require.NoError(t, err)
	assert.Equal(t, JobFailed, updated.Status)

	got, err := m.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, got.Status)
	assert.Equal(t, 3, got.Attempt)

	_, err = m.UpdateJob(ctx, uuid.New(), func(job *AgentJob) {})
	assert.ErrorIs(t, err, ErrNotFound)
}
