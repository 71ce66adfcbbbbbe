package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/cloudcurio/arbfinder/internal/comps"
	"github.com/cloudcurio/arbfinder/internal/config"
	"github.com/cloudcurio/arbfinder/internal/evaluate"
	"github.com/cloudcurio/arbfinder/internal/store"
	"github.com/cloudcurio/arbfinder/internal/titles"
)

// IngestResult reports what a batch ingestion did.
type IngestResult struct {
	Accepted      []string               `json:"accepted"`
	Rejected      []string               `json:"rejected,omitempty"`
	Opportunities []evaluate.Opportunity `json:"opportunities,omitempty"`
}

// Ingest validates and upserts externally supplied listings, matches
// them against the persisted comps, and evaluates each one. Listings
// failing validation are rejected individually; the rest still land.
// A missing comp key is derived from the title before validation.
func Ingest(ctx context.Context, cfg config.Config, st store.Store, listings []store.Listing) (*IngestResult, error) {
	if st == nil {
		return nil, fmt.Errorf("ingest requires a store")
	}
	cfg = cfg.MergeWithDefaults(config.Defaults())

	index, err := LoadIndex(ctx, cfg, st)
	if err != nil {
		return nil, err
	}

	validate := validator.New()
	canon := titles.NewCanonicalizer(nil)
	result := &IngestResult{}
	var accepted []store.Listing

	for _, listing := range listings {
		if listing.CompKey == "" {
			listing.CompKey = canon.Canonicalize(listing.Title)
		}
		if listing.ObservedAt.IsZero() {
			listing.ObservedAt = time.Now().UTC()
		}
		if err := validate.Struct(listing); err != nil {
			result.Rejected = append(result.Rejected, listing.URL)
			continue
		}
		if err := st.UpsertListing(ctx, listing); err != nil {
			return nil, fmt.Errorf("failed to upsert ingested listing: %w", err)
		}
		result.Accepted = append(result.Accepted, listing.URL)
		accepted = append(accepted, listing)
	}

	result.Opportunities = evaluateListings(accepted, index, cfg)
	return result, nil
}

// LoadIndex rebuilds a comp index from the persisted aggregates so
// ingested listings can match against prior runs' comps.
func LoadIndex(ctx context.Context, cfg config.Config, st store.Store) (*comps.Index, error) {
	index := comps.NewIndex(cfg.SimThreshold, comps.Policy{
		TimeDecay: cfg.DecayHalfLifeHours > 0,
		HalfLife:  cfg.DecayHalfLife(),
	})

	keys, err := st.ListCompKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list comp keys: %w", err)
	}
	for _, key := range keys {
		comp, err := st.GetComp(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to load comp %s: %w", key, err)
		}
		if err := index.Seed(*comp); err != nil {
			return nil, err
		}
	}
	return index, nil
}
