// Package pipeline provides the high-level orchestration for an
// arbitrage run: collect sold comps, crawl live listings, match,
// evaluate, and optionally enqueue enrichment jobs.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cloudcurio/arbfinder/internal/agents"
	"github.com/cloudcurio/arbfinder/internal/comps"
	"github.com/cloudcurio/arbfinder/internal/config"
	"github.com/cloudcurio/arbfinder/internal/crawl"
	"github.com/cloudcurio/arbfinder/internal/evaluate"
	"github.com/cloudcurio/arbfinder/internal/fetch"
	"github.com/cloudcurio/arbfinder/internal/obs"
	"github.com/cloudcurio/arbfinder/internal/sources"
	"github.com/cloudcurio/arbfinder/internal/store"
)

// ProgressEvent represents a progress update during pipeline execution.
type ProgressEvent struct {
	Step    string `json:"step"`
	Message string `json:"message"`
	Content any    `json:"content,omitempty"`
}

// ProgressCallback is called when pipeline progress occurs.
type ProgressCallback func(event ProgressEvent)

// RunOptions holds configuration for one pipeline run.
type RunOptions struct {
	Query    string
	Config   config.Config
	Store    store.Store
	Registry *sources.Registry
	// EnqueueJobs enqueues a pricing enrichment job for every
	// qualifying opportunity.
	EnqueueJobs bool
	OnProgress  ProgressCallback
}

// RunResult is the outcome of one pipeline run.
type RunResult struct {
	Opportunities []evaluate.Opportunity `json:"opportunities"`
	Report        *crawl.Report          `json:"report"`
	CompKeys      []string               `json:"comp_keys"`
	JobIDs        []uuid.UUID            `json:"job_ids,omitempty"`
}

// Qualifying returns only the opportunities that met the threshold.
func (r *RunResult) Qualifying() []evaluate.Opportunity {
	var out []evaluate.Opportunity
	for _, opp := range r.Opportunities {
		if opp.Qualifies {
			out = append(out, opp)
		}
	}
	return out
}

func emitProgress(opts *RunOptions, step, message string, content any) {
	if opts.OnProgress != nil {
		opts.OnProgress(ProgressEvent{Step: step, Message: message, Content: content})
	}
}

// NewRegistry builds the standard adapter registry from a config: a
// polite client shared by all marketplace adapters plus the manual
// import adapter when a file is configured.
func NewRegistry(cfg config.Config) *sources.Registry {
	fopts := fetch.DefaultOptions()
	if cfg.PerSourceRateLimit > 0 {
		fopts.HostInterval = time.Duration(cfg.PerSourceRateLimit * float64(time.Second))
	}
	if cfg.MaxRetries > 0 {
		fopts.MaxAttempts = cfg.MaxRetries
	}
	client := fetch.NewClient(fopts)

	reg := sources.NewRegistry()
	reg.Register(sources.NewEbaySold(client))
	reg.Register(sources.NewShopGoodwill(client, cfg.UseBrowser))
	reg.Register(sources.NewGovDeals(client))
	reg.Register(sources.NewGovernmentSurplus(client))
	if cfg.ManualImportPath != "" {
		reg.Register(sources.NewManual(cfg.ManualImportPath))
	}
	return reg
}

// Run executes the full arbitrage pipeline for one query.
func Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("pipeline requires a store")
	}
	cfg := opts.Config.MergeWithDefaults(config.Defaults())
	if opts.Registry == nil {
		opts.Registry = NewRegistry(cfg)
	}

	// Phase 1: sold comps.
	index := comps.NewIndex(cfg.SimThreshold, comps.Policy{
		TimeDecay: cfg.DecayHalfLifeHours > 0,
		HalfLife:  cfg.DecayHalfLife(),
	})
	if err := collectComps(ctx, &opts, cfg, index); err != nil {
		return nil, err
	}
	if err := index.Persist(ctx, opts.Store); err != nil {
		return nil, fmt.Errorf("failed to persist comps: %w", err)
	}
	emitProgress(&opts, "comps", fmt.Sprintf("built %d comp aggregates", len(index.Keys())), nil)

	// Phase 2: live crawl.
	scheduler := crawl.NewScheduler(opts.Store, crawl.Options{
		PerSourceLimit:    cfg.LiveLimit,
		GlobalConcurrency: cfg.GlobalConcurrencyCap,
		BreakerThreshold:  cfg.MaxRetries,
	})
	adapters := opts.Registry.Select(cfg.Providers)
	live, report, err := scheduler.Run(ctx, opts.Query, adapters)
	if err != nil {
		return nil, err
	}
	emitProgress(&opts, "crawl", fmt.Sprintf("collected %d live listings", len(live)), report)

	// Phase 3: match + evaluate.
	result := &RunResult{Report: report, CompKeys: index.Keys()}
	result.Opportunities = evaluateListings(live, index, cfg)
	emitProgress(&opts, "evaluate", fmt.Sprintf("%d qualifying opportunities", len(result.Qualifying())), nil)

	// Phase 4: optional enrichment jobs.
	if opts.EnqueueJobs {
		ids, err := enqueueEnrichment(ctx, opts.Store, result.Qualifying())
		if err != nil {
			return nil, err
		}
		result.JobIDs = ids
		emitProgress(&opts, "jobs", fmt.Sprintf("enqueued %d enrichment jobs", len(ids)), nil)
	}
	return result, nil
}

// collectComps crawls the sold-comps source and folds every sold price
// into the index.
func collectComps(ctx context.Context, opts *RunOptions, cfg config.Config, index *comps.Index) error {
	adapter, ok := opts.Registry.Get(sources.NameEbaySold)
	if !ok {
		return fmt.Errorf("sold-comps source %q is not registered", sources.NameEbaySold)
	}

	scheduler := crawl.NewScheduler(opts.Store, crawl.Options{
		PerSourceLimit:    cfg.CompLimit,
		GlobalConcurrency: cfg.GlobalConcurrencyCap,
		BreakerThreshold:  cfg.MaxRetries,
	})
	sold, report, err := scheduler.Run(ctx, opts.Query, []sources.Adapter{adapter})
	if err != nil {
		return err
	}
	emitProgress(opts, "sold", fmt.Sprintf("collected %d sold comps", len(sold)), report)

	for _, listing := range sold {
		if _, err := index.Observe(listing.CompKey, listing.Price, listing.ObservedAt); err != nil {
			return fmt.Errorf("failed to merge sold observation: %w", err)
		}
		obs.RecordMerge()
	}
	return nil
}

// evaluateListings matches each live listing against the comp index and
// scores it, returning opportunities sorted best-first.
func evaluateListings(live []store.Listing, index *comps.Index, cfg config.Config) []evaluate.Opportunity {
	evaluator := evaluate.NewEvaluator(evaluate.Config{
		ThresholdPct:         cfg.ThresholdPct,
		ConditionMultipliers: cfg.ConditionMultipliers,
		PlatformFeePct:       cfg.PlatformFeePct,
		ShippingEstimate:     cfg.ShippingEstimate,
	})

	opps := evaluator.EvaluateAll(live, func(compKey string) *store.Comp {
		canonical, _ := index.Match(compKey)
		if comp, ok := index.Snapshot(canonical); ok {
			return &comp
		}
		return nil
	})
	for _, opp := range opps {
		obs.RecordOpportunity(opp.Qualifies)
	}
	return opps
}

// enrichmentInput is the job payload for a qualifying opportunity.
type enrichmentInput struct {
	Listing         store.Listing `json:"listing"`
	Comp            *store.Comp   `json:"comp,omitempty"`
	DiscountPct     float64       `json:"discount_pct"`
	EstimatedProfit float64       `json:"estimated_profit"`
}

// enqueueEnrichment queues a pricing job per qualifying opportunity.
func enqueueEnrichment(ctx context.Context, st store.Store, qualifying []evaluate.Opportunity) ([]uuid.UUID, error) {
	queue := agents.NewQueue(st)
	ids := make([]uuid.UUID, 0, len(qualifying))
	for _, opp := range qualifying {
		input, err := json.Marshal(enrichmentInput{
			Listing:         opp.Listing,
			Comp:            opp.Comp,
			DiscountPct:     opp.DiscountPct,
			EstimatedProfit: opp.EstimatedProfit,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to encode enrichment input: %w", err)
		}
		id, err := queue.Enqueue(ctx, agents.TypePriceSpecialist, input, store.PriorityNormal)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
