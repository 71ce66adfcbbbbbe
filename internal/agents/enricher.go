package agents

import (
	"context"

	"github.com/cloudcurio/arbfinder/internal/llm"
)

// Enricher is the external completion collaborator. The runner treats
// enrichment as an opaque prompt-to-text call.
type Enricher interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// LLMEnricher adapts the llm client to the Enricher interface.
type LLMEnricher struct {
	client llm.Client
	tier   llm.ModelTier
}

// NewLLMEnricher wraps an llm client, using one model tier for every
// completion.
func NewLLMEnricher(client llm.Client, tier llm.ModelTier) *LLMEnricher {
	if tier == "" {
		tier = llm.TierStandard
	}
	return &LLMEnricher{client: client, tier: tier}
}

// Complete generates schema-shaped JSON for the prompt.
func (e *LLMEnricher) Complete(ctx context.Context, prompt string) (string, error) {
	return e.client.GenerateJSON(ctx, prompt, e.tier)
}
