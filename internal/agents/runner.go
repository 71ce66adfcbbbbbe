package agents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudcurio/arbfinder/internal/llm"
	"github.com/cloudcurio/arbfinder/internal/obs"
	"github.com/cloudcurio/arbfinder/internal/store"
)

// DefaultExecutionTimeout bounds one enrichment call.
const DefaultExecutionTimeout = 60 * time.Second

// DefaultBatchSize is how many jobs one poll claims.
const DefaultBatchSize = 8

// DefaultPollInterval is the idle wait between polls.
const DefaultPollInterval = 2 * time.Second

// DefaultTypeConcurrency caps concurrent executions per agent kind.
const DefaultTypeConcurrency = 2

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	ExecutionTimeout time.Duration
	BatchSize        int
	PollInterval     time.Duration
	// TypeConcurrency caps concurrent executions per agent kind;
	// unlisted kinds use DefaultTypeConcurrency.
	TypeConcurrency map[string]int
}

// Runner executes queued agent jobs: it polls the queue, runs each job
// against the enricher under a timeout, validates the output schema,
// and applies the retry policy on failure.
type Runner struct {
	queue    *Queue
	enricher Enricher
	opts     RunnerOptions

	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewRunner creates a Runner draining q against e.
func NewRunner(q *Queue, e Enricher, opts RunnerOptions) *Runner {
	if opts.ExecutionTimeout <= 0 {
		opts.ExecutionTimeout = DefaultExecutionTimeout
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Runner{
		queue:    q,
		enricher: e,
		opts:     opts,
		slots:    make(map[string]chan struct{}),
	}
}

// Start polls and executes jobs until the context is canceled.
func (r *Runner) Start(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce claims one batch and executes it to completion, returning how
// many jobs were processed. Jobs of different kinds run concurrently up
// to their per-kind caps. Enrichment failures feed the retry policy; a
// store write that fails to record an outcome is returned after the
// batch drains, since the affected job would otherwise sit in running
// forever.
func (r *Runner) RunOnce(ctx context.Context) (int, error) {
	jobs, err := r.queue.DequeueBatch(ctx, r.opts.BatchSize)
	if err != nil {
		return 0, err
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error
	for _, job := range jobs {
		job := job
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot := r.slotFor(job.Type)
			slot <- struct{}{}
			defer func() { <-slot }()
			if err := r.execute(ctx, job); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	return len(jobs), errors.Join(errs...)
}

// execute runs one job through the enricher and records the outcome. The
// returned error is a failure to persist the outcome, not a failure of
// the job itself.
func (r *Runner) execute(ctx context.Context, job store.AgentJob) error {
	start := time.Now()
	output, err := r.enrich(ctx, job)
	obs.RecordAgentJob(job.Type, start, err)

	if err != nil {
		if _, failErr := r.queue.Fail(ctx, job.ID, err); failErr != nil {
			return failErr
		}
		return nil
	}
	return r.queue.Complete(ctx, job.ID, output)
}

// enrich builds the prompt for the job's kind, calls the enricher under
// the execution timeout, and validates the JSON that comes back.
func (r *Runner) enrich(ctx context.Context, job store.AgentJob) (json.RawMessage, error) {
	spec, err := specFor(job.Type)
	if err != nil {
		return nil, err
	}

	prompt := llm.BuildExtractionPrompt(spec.prompt, string(job.Input))

	execCtx, cancel := context.WithTimeout(ctx, r.opts.ExecutionTimeout)
	defer cancel()

	raw, err := r.enricher.Complete(execCtx, prompt)
	if err != nil {
		return nil, fmt.Errorf("enrichment call failed: %w", err)
	}
	cleaned := llm.CleanJSONBlock(raw)
	if err := ValidateOutput(job.Type, []byte(cleaned)); err != nil {
		return nil, err
	}
	return json.RawMessage(cleaned), nil
}

// slotFor returns the concurrency gate for an agent kind.
func (r *Runner) slotFor(jobType string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if slot, ok := r.slots[jobType]; ok {
		return slot
	}
	limit := DefaultTypeConcurrency
	if n, ok := r.opts.TypeConcurrency[jobType]; ok && n > 0 {
		limit = n
	}
	slot := make(chan struct{}, limit)
	r.slots[jobType] = slot
	return slot
}
