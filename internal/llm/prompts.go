// Package llm - prompts.go builds the structured-output prompts used by
// the enrichment agents.
package llm

import (
	"fmt"
	"strings"
)

// ExtractionSchema defines a structured-output task for the model: a
// task description plus the exact JSON fields expected back.
type ExtractionSchema struct {
	Name        string
	Description string
	Fields      []SchemaField
}

// SchemaField defines a single field in the extraction output.
type SchemaField struct {
	Name        string // JSON field name
	Type        string // Type hint: "string", "number", "[]string", "map[string]string"
	Description string
	Required    bool
}

// BuildExtractionPrompt constructs the model prompt from a schema and
// the input text.
func BuildExtractionPrompt(schema ExtractionSchema, inputText string) string {
	var sb strings.Builder

	sb.WriteString(schema.Description)
	sb.WriteString("\n\n")

	sb.WriteString("Return ONLY valid JSON matching this exact structure:\n{\n")
	for i, field := range schema.Fields {
		typeHint := field.Type
		if typeHint == "" {
			typeHint = "string"
		}
		requiredHint := ""
		if field.Required {
			requiredHint = " (required)"
		}
		sb.WriteString(fmt.Sprintf("  %q: %s%s", field.Name, typeHint, requiredHint))
		if field.Description != "" {
			sb.WriteString(fmt.Sprintf(" // %s", field.Description))
		}
		if i < len(schema.Fields)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("}\n\n")

	sb.WriteString("IMPORTANT:\n")
	sb.WriteString("- Base every field on the listing data provided, do not invent specifics.\n")
	sb.WriteString("- Return ONLY the JSON object, no markdown, no explanation, no code blocks.\n\n")

	sb.WriteString("Listing data:\n\"\"\"\n")
	sb.WriteString(inputText)
	sb.WriteString("\n\"\"\"\n")

	return sb.String()
}

// TitleEnhancerSchema rewrites a raw marketplace title into a clean,
// search-friendly resale title.
func TitleEnhancerSchema() ExtractionSchema {
	return ExtractionSchema{
		Name: "TitleEnhancer",
		Description: `You are an expert marketplace listing editor.
Rewrite the raw auction title into a clear, search-optimized resale title.
Keep brand, model and capacity tokens exactly as written; drop lot numbers and seller boilerplate.`,
		Fields: []SchemaField{
			{Name: "enhanced_title", Type: "string", Description: "cleaned resale title, max 80 chars", Required: true},
			{Name: "keywords", Type: "[]string", Description: "search keywords buyers would use"},
		},
	}
}

// MetadataEnricherSchema extracts structured product attributes from a
// listing title and description.
func MetadataEnricherSchema() ExtractionSchema {
	return ExtractionSchema{
		Name: "MetadataEnricher",
		Description: `You are an expert product cataloger.
Extract structured product attributes from the listing. Use "unknown" when the text does not say.`,
		Fields: []SchemaField{
			{Name: "brand", Type: "string", Required: true},
			{Name: "model", Type: "string"},
			{Name: "category", Type: "string", Description: "product category, e.g. graphics-card, game-console", Required: true},
			{Name: "attributes", Type: "map[string]string", Description: "capacity, color, generation, etc."},
		},
	}
}

// PriceSpecialistSchema suggests a resale list price for a listing
// given its comp aggregate.
func PriceSpecialistSchema() ExtractionSchema {
	return ExtractionSchema{
		Name: "PriceSpecialist",
		Description: `You are a resale pricing specialist.
Given a live listing and its sold-price comparables, suggest a competitive resale list price.`,
		Fields: []SchemaField{
			{Name: "suggested_price", Type: "number", Description: "recommended list price in the listing currency", Required: true},
			{Name: "reasoning", Type: "string", Description: "one-sentence justification", Required: true},
			{Name: "confidence", Type: "string", Description: "high, medium or low"},
		},
	}
}

// ListingWriterSchema drafts resale listing copy.
func ListingWriterSchema() ExtractionSchema {
	return ExtractionSchema{
		Name: "ListingWriter",
		Description: `You are a marketplace copywriter.
Write resale listing copy for this item. Be factual about condition; never promise what the source listing does not state.`,
		Fields: []SchemaField{
			{Name: "description", Type: "string", Description: "2-3 paragraph listing description", Required: true},
			{Name: "bullet_points", Type: "[]string", Description: "3-5 key selling points"},
		},
	}
}

// MarketResearcherSchema summarizes demand and resale channels for an
// item.
func MarketResearcherSchema() ExtractionSchema {
	return ExtractionSchema{
		Name: "MarketResearcher",
		Description: `You are a resale market researcher.
Summarize current demand and the best resale channels for this item.`,
		Fields: []SchemaField{
			{Name: "demand", Type: "string", Description: "high, medium or low", Required: true},
			{Name: "summary", Type: "string", Description: "short market summary", Required: true},
			{Name: "channels", Type: "[]string", Description: "recommended resale channels"},
		},
	}
}
