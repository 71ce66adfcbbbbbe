// Package crawl orchestrates marketplace adapters under bounded
// concurrency, with per-source circuit breaking and a per-run report.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"

	"github.com/cloudcurio/arbfinder/internal/obs"
	"github.com/cloudcurio/arbfinder/internal/sources"
	"github.com/cloudcurio/arbfinder/internal/store"
)

// DefaultGlobalConcurrency caps in-flight fetches across all sources.
const DefaultGlobalConcurrency = 6

// DefaultPerSourceLimit caps items collected per source per run.
const DefaultPerSourceLimit = 60

// Options configures a Scheduler.
type Options struct {
	// PerSourceLimit caps items collected from each source.
	PerSourceLimit int
	// GlobalConcurrency caps concurrent fetches across every source.
	GlobalConcurrency int
	// BreakerThreshold is the consecutive-failure count that suspends a
	// source for the rest of the run.
	BreakerThreshold int
}

// Scheduler runs a set of adapters for one query, validating and
// upserting every parsed listing before Run returns.
type Scheduler struct {
	store    store.Store
	opts     Options
	validate *validator.Validate
}

// NewScheduler creates a Scheduler writing through st.
func NewScheduler(st store.Store, opts Options) *Scheduler {
	if opts.PerSourceLimit <= 0 {
		opts.PerSourceLimit = DefaultPerSourceLimit
	}
	if opts.GlobalConcurrency <= 0 {
		opts.GlobalConcurrency = DefaultGlobalConcurrency
	}
	return &Scheduler{
		store:    st,
		opts:     opts,
		validate: validator.New(),
	}
}

// Run crawls every adapter for the query. Sources run concurrently,
// each in its own worker, sharing a global fetch slot pool. A source
// whose breaker trips is suspended for the rest of the run; its
// failures are isolated and the other sources' listings still land in
// the store. The returned listings are everything upserted this run.
//
// Run returns an error only when the context is canceled; per-source
// failures are reported in the Report.
func (s *Scheduler) Run(ctx context.Context, query string, adapters []sources.Adapter) ([]store.Listing, *Report, error) {
	report := newReport(query)
	start := time.Now()

	// Global fetch slots shared by every source worker.
	slots := make(chan struct{}, s.opts.GlobalConcurrency)

	var mu sync.Mutex
	var collected []store.Listing

	g, gctx := errgroup.WithContext(ctx)
	for _, adapter := range adapters {
		adapter := adapter
		sr := &SourceReport{Source: adapter.Name()}
		report.Sources[adapter.Name()] = sr

		g.Go(func() error {
			listings := s.crawlSource(gctx, query, adapter, slots, sr)
			mu.Lock()
			collected = append(collected, listings...)
			mu.Unlock()
			// Source failures are recorded, not returned: one bad source
			// must not cancel the group.
			return gctx.Err()
		})
	}

	err := g.Wait()
	report.Duration = time.Since(start)
	if err != nil {
		return collected, report, fmt.Errorf("crawl run aborted: %w", err)
	}
	return collected, report, nil
}

// crawlSource pages through one adapter until its item limit, an empty
// page, a tripped breaker, or cancellation.
func (s *Scheduler) crawlSource(ctx context.Context, query string, adapter sources.Adapter, slots chan struct{}, sr *SourceReport) []store.Listing {
	start := time.Now()
	defer func() {
		sr.Duration = time.Since(start)
		obs.RecordSourceDuration(adapter.Name(), start)
	}()

	br := newBreaker(s.opts.BreakerThreshold)
	var listings []store.Listing

	for page := 1; len(listings) < s.opts.PerSourceLimit; page++ {
		if br.open() {
			return listings
		}

		select {
		case slots <- struct{}{}:
		case <-ctx.Done():
			return listings
		}
		raws, err := adapter.Fetch(ctx, query, page)
		<-slots

		obs.RecordFetch(adapter.Name(), err)
		if err != nil {
			if ctx.Err() != nil {
				return listings
			}
			sr.Errors++
			if br.failure() {
				sr.Suspended = true
				obs.RecordSuspension(adapter.Name())
			}
			continue
		}
		br.success()

		if len(raws) == 0 {
			return listings
		}
		for _, raw := range raws {
			if len(listings) >= s.opts.PerSourceLimit {
				break
			}
			listing, ok := s.ingest(ctx, adapter, raw, sr)
			if !ok {
				continue
			}
			listings = append(listings, listing)
			sr.ItemsFound++
		}
	}
	return listings
}

// ingest parses, validates and upserts one raw item. Parse and
// validation failures count as skips; store failures count as errors.
func (s *Scheduler) ingest(ctx context.Context, adapter sources.Adapter, raw sources.RawItem, sr *SourceReport) (store.Listing, bool) {
	listing, err := adapter.Parse(raw)
	if err != nil {
		var parseErr *sources.ParseError
		if errors.As(err, &parseErr) {
			sr.ItemsSkipped++
			obs.RecordSkip(adapter.Name())
			return store.Listing{}, false
		}
		sr.Errors++
		return store.Listing{}, false
	}

	if err := s.validate.Struct(listing); err != nil {
		sr.ItemsSkipped++
		obs.RecordSkip(adapter.Name())
		return store.Listing{}, false
	}

	if err := s.store.UpsertListing(ctx, listing); err != nil {
		sr.Errors++
		return store.Listing{}, false
	}
	obs.RecordUpsert(adapter.Name())
	return listing, true
}
