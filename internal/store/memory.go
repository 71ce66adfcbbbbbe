package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is a mutex-guarded in-memory Store. It backs tests and the
// cache-only mode of the pipeline; copies are returned so callers can
// never mutate shared state outside the lock.
type Memory struct {
	mu       sync.Mutex
	listings map[string]Listing // keyed by URL
	comps    map[string]Comp
	jobs     map[uuid.UUID]*AgentJob
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		listings: make(map[string]Listing),
		comps:    make(map[string]Comp),
		jobs:     make(map[uuid.UUID]*AgentJob),
	}
}

// UpsertListing inserts or refreshes a listing keyed by URL.
func (m *Memory) UpsertListing(_ context.Context, l Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listings[l.URL] = l
	return nil
}

// GetListingByURL returns the listing for a URL.
func (m *Memory) GetListingByURL(_ context.Context, url string) (*Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listings[url]
	if !ok {
		return nil, ErrNotFound
	}
	cp := l
	return &cp, nil
}

// ListListings returns listings for a source, newest first.
func (m *Memory) ListListings(_ context.Context, source string, limit int) ([]Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Listing
	for _, l := range m.listings {
		if source == "" || l.Source == source {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ObservedAt.After(out[j].ObservedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountListings reports the number of rows stored for a URL.
func (m *Memory) CountListings(_ context.Context, url string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.listings[url]; ok {
		return 1, nil
	}
	return 0, nil
}

// UpsertComp inserts or replaces a comp aggregate.
func (m *Memory) UpsertComp(_ context.Context, c Comp) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.comps[c.CompKey] = c
	return nil
}

// GetComp returns the aggregate for a comp key.
func (m *Memory) GetComp(_ context.Context, compKey string) (*Comp, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.comps[compKey]
	if !ok {
		return nil, ErrNotFound
	}
	cp := c
	return &cp, nil
}

// ListCompKeys returns every canonical comp key, sorted.
func (m *Memory) ListCompKeys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.comps))
	for k := range m.comps {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// CreateJob persists a new agent job.
func (m *Memory) CreateJob(_ context.Context, j AgentJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := j
	m.jobs[j.ID] = &cp
	return nil
}

// GetJob returns a copy of the stored job.
func (m *Memory) GetJob(_ context.Context, id uuid.UUID) (*AgentJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *j
	return &cp, nil
}

// ListJobs returns jobs ordered by priority then FIFO.
func (m *Memory) ListJobs(_ context.Context, status JobStatus, limit int) ([]AgentJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AgentJob
	for _, j := range m.jobs {
		if status == "" || j.Status == status {
			out = append(out, *j)
		}
	}
	sortJobs(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DequeueJobs claims up to n runnable queued jobs, priority then FIFO.
// Claiming happens under the store lock, so a job is never handed to two
// workers.
func (m *Memory) DequeueJobs(_ context.Context, n int, now time.Time) ([]AgentJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var runnable []*AgentJob
	for _, j := range m.jobs {
		if j.Status == JobQueued && !j.RunAfter.After(now) {
			runnable = append(runnable, j)
		}
	}
	sort.Slice(runnable, func(i, k int) bool {
		ri, rk := PriorityRank(runnable[i].Priority), PriorityRank(runnable[k].Priority)
		if ri != rk {
			return ri < rk
		}
		return runnable[i].CreatedAt.Before(runnable[k].CreatedAt)
	})
	if n > 0 && len(runnable) > n {
		runnable = runnable[:n]
	}

	out := make([]AgentJob, 0, len(runnable))
	for _, j := range runnable {
		j.Status = JobRunning
		started := now
		j.StartedAt = &started
		out = append(out, *j)
	}
	return out, nil
}

// UpdateJob applies fn to the stored job under the store lock.
func (m *Memory) UpdateJob(_ context.Context, id uuid.UUID, fn func(j *AgentJob)) (*AgentJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	fn(j)
	cp := *j
	return &cp, nil
}

// Close is a no-op for the in-memory store.
func (m *Memory) Close() error { return nil }
