// Package agents implements the enrichment job queue: bounded-retry
// agent jobs executed against an external completion collaborator, with
// schema-validated JSON output.
package agents

import (
	"fmt"
	"sort"

	"github.com/cloudcurio/arbfinder/internal/llm"
)

// Agent kinds. Each kind has a prompt schema, a model tier and a JSON
// schema its output must satisfy.
const (
	TypeTitleEnhancer    = "title_enhancer"
	TypeMetadataEnricher = "metadata_enricher"
	TypePriceSpecialist  = "price_specialist"
	TypeListingWriter    = "listing_writer"
	TypeMarketResearcher = "market_researcher"
)

// agentSpec ties an agent kind to its prompt schema and model tier.
type agentSpec struct {
	prompt llm.ExtractionSchema
	tier   llm.ModelTier
}

var agentSpecs = map[string]agentSpec{
	TypeTitleEnhancer:    {prompt: llm.TitleEnhancerSchema(), tier: llm.TierLite},
	TypeMetadataEnricher: {prompt: llm.MetadataEnricherSchema(), tier: llm.TierLite},
	TypePriceSpecialist:  {prompt: llm.PriceSpecialistSchema(), tier: llm.TierStandard},
	TypeListingWriter:    {prompt: llm.ListingWriterSchema(), tier: llm.TierStandard},
	TypeMarketResearcher: {prompt: llm.MarketResearcherSchema(), tier: llm.TierAdvanced},
}

// KnownTypes returns the supported agent kinds, sorted.
func KnownTypes() []string {
	types := make([]string, 0, len(agentSpecs))
	for t := range agentSpecs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// specFor resolves the spec for an agent kind.
func specFor(jobType string) (agentSpec, error) {
	spec, ok := agentSpecs[jobType]
	if !ok {
		return agentSpec{}, fmt.Errorf("unknown agent type %q", jobType)
	}
	return spec, nil
}
