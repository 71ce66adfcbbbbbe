// Package store provides persistence for listings, comparable aggregates
// and agent jobs, with Postgres, SQLite and in-memory implementations.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Condition describes the physical state of a listed item.
type Condition string

// Condition values, ordered best to worst.
const (
	ConditionNew       Condition = "new"
	ConditionExcellent Condition = "excellent"
	ConditionGood      Condition = "good"
	ConditionFair      Condition = "fair"
	ConditionPoor      Condition = "poor"
	ConditionUnknown   Condition = "unknown"
)

// Listing is one observed live marketplace offer. URL is the global dedup
// key: re-observing the same URL refreshes price, condition and timestamp
// in place and never creates a second row.
type Listing struct {
	Source     string            `json:"source" validate:"required"`
	URL        string            `json:"url" validate:"required,url"`
	Title      string            `json:"title" validate:"required"`
	CompKey    string            `json:"comp_key"`
	Price      float64           `json:"price" validate:"gt=0"`
	Currency   string            `json:"currency" validate:"required,len=3"`
	Condition  Condition         `json:"condition"`
	ObservedAt time.Time         `json:"observed_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Comp is the aggregate of historical sold prices for one canonical comp key.
type Comp struct {
	CompKey     string    `json:"comp_key"`
	AvgPrice    float64   `json:"avg_price"`
	MedianPrice float64   `json:"median_price"`
	Count       int       `json:"count"`
	LastUpdated time.Time `json:"last_updated"`
}

// JobStatus is the lifecycle state of an agent job.
type JobStatus string

// Job states. Transitions are one-directional except the retry loop
// running -> queued, which increments Attempt.
const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// JobPriority orders dequeueing: high before normal before low,
// FIFO within a priority.
type JobPriority string

// Job priorities.
const (
	PriorityHigh   JobPriority = "high"
	PriorityNormal JobPriority = "normal"
	PriorityLow    JobPriority = "low"
)

// PriorityRank returns the sort rank for a priority (lower dequeues first).
func PriorityRank(p JobPriority) int {
	switch p {
	case PriorityHigh:
		return 0
	case PriorityNormal:
		return 1
	default:
		return 2
	}
}

// AgentJob is one unit of external AI enrichment work.
type AgentJob struct {
	ID          uuid.UUID       `json:"id"`
	Type        string          `json:"type"`
	Status      JobStatus       `json:"status"`
	Priority    JobPriority     `json:"priority"`
	Input       json.RawMessage `json:"input,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	Attempt     int             `json:"attempt"`
	RunAfter    time.Time       `json:"run_after"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// sortJobs orders jobs by priority rank then creation time (FIFO).
func sortJobs(jobs []AgentJob) {
	sort.Slice(jobs, func(i, k int) bool {
		ri, rk := PriorityRank(jobs[i].Priority), PriorityRank(jobs[k].Priority)
		if ri != rk {
			return ri < rk
		}
		return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
	})
}

// Store is the persistence boundary shared by the crawl scheduler, comp
// matcher and agent job queue.
type Store interface {
	// UpsertListing inserts or refreshes a listing keyed by URL.
	// The write is atomic: it either fully lands or does not happen.
	UpsertListing(ctx context.Context, l Listing) error
	// GetListingByURL returns ErrNotFound when the URL has not been seen.
	GetListingByURL(ctx context.Context, url string) (*Listing, error)
	// ListListings returns listings for a source, newest first. An empty
	// source returns all listings.
	ListListings(ctx context.Context, source string, limit int) ([]Listing, error)
	// CountListings reports the number of rows stored for a URL (0 or 1).
	CountListings(ctx context.Context, url string) (int, error)

	// UpsertComp inserts or replaces the aggregate for a comp key.
	UpsertComp(ctx context.Context, c Comp) error
	// GetComp returns ErrNotFound for an unknown key.
	GetComp(ctx context.Context, compKey string) (*Comp, error)
	// ListCompKeys returns every canonical comp key.
	ListCompKeys(ctx context.Context) ([]string, error)

	// CreateJob persists a new agent job.
	CreateJob(ctx context.Context, j AgentJob) error
	// GetJob returns ErrNotFound for an unknown job ID.
	GetJob(ctx context.Context, id uuid.UUID) (*AgentJob, error)
	// ListJobs returns jobs ordered by priority then FIFO. An empty
	// status returns jobs in every state.
	ListJobs(ctx context.Context, status JobStatus, limit int) ([]AgentJob, error)
	// DequeueJobs atomically claims up to n runnable queued jobs, marks
	// them running, and returns them ordered by priority then FIFO.
	// No job is ever claimed by two callers.
	DequeueJobs(ctx context.Context, n int, now time.Time) ([]AgentJob, error)
	// UpdateJob applies fn to the stored job under the store's write lock
	// or transaction, serializing state transitions for a single job.
	UpdateJob(ctx context.Context, id uuid.UUID, fn func(j *AgentJob)) (*AgentJob, error)

	// Close releases the underlying resources.
	Close() error
}
