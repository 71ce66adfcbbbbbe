package agents

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// outputSchemas holds the JSON schema each agent kind's output must
// satisfy. Validation happens before an execution counts as success, so
// malformed model output is a retryable failure, not stored garbage.
var outputSchemas = map[string]string{
	TypeTitleEnhancer: `{
		"type": "object",
		"required": ["enhanced_title"],
		"properties": {
			"enhanced_title": {"type": "string", "minLength": 1, "maxLength": 120},
			"keywords": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	TypeMetadataEnricher: `{
		"type": "object",
		"required": ["brand", "category"],
		"properties": {
			"brand": {"type": "string", "minLength": 1},
			"model": {"type": "string"},
			"category": {"type": "string", "minLength": 1},
			"attributes": {"type": "object", "additionalProperties": {"type": "string"}}
		}
	}`,
	TypePriceSpecialist: `{
		"type": "object",
		"required": ["suggested_price", "reasoning"],
		"properties": {
			"suggested_price": {"type": "number", "exclusiveMinimum": 0},
			"reasoning": {"type": "string", "minLength": 1},
			"confidence": {"type": "string", "enum": ["high", "medium", "low"]}
		}
	}`,
	TypeListingWriter: `{
		"type": "object",
		"required": ["description"],
		"properties": {
			"description": {"type": "string", "minLength": 1},
			"bullet_points": {"type": "array", "items": {"type": "string"}}
		}
	}`,
	TypeMarketResearcher: `{
		"type": "object",
		"required": ["demand", "summary"],
		"properties": {
			"demand": {"type": "string", "enum": ["high", "medium", "low"]},
			"summary": {"type": "string", "minLength": 1},
			"channels": {"type": "array", "items": {"type": "string"}}
		}
	}`,
}

// ValidateOutput checks an agent's JSON output against its kind's
// schema.
func ValidateOutput(jobType string, output []byte) error {
	schema, ok := outputSchemas[jobType]
	if !ok {
		return fmt.Errorf("unknown agent type %q", jobType)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(output),
	)
	if err != nil {
		return fmt.Errorf("failed to validate %s output: %w", jobType, err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("%s output failed schema validation: %s", jobType, strings.Join(msgs, "; "))
	}
	return nil
}
