// Package titles canonicalizes listing titles into comparison keys used to
// group live listings with historical sold comparables.
package titles

import (
	"regexp"
	"sort"
	"strings"
)

// DefaultStopwords lists noise tokens removed during canonicalization:
// marketplace boilerplate and condition words that are captured in the
// listing's condition field instead.
var DefaultStopwords = []string{
	"new", "used", "mint", "nib", "nos", "oem", "genuine",
	"excellent", "good", "fair", "poor", "condition",
	"tested", "works", "working", "parts", "repair",
	"free", "fast", "shipping", "ship", "sale",
	"look", "wow", "rare", "htf", "vintage", "nice", "great",
	"lot", "bundle", "read", "description",
}

var (
	punctRe      = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
	digitAlphaRe = regexp.MustCompile(`(\p{N})(\p{L})`)
	alphaDigitRe = regexp.MustCompile(`(\p{L})(\p{N})`)
)

// Canonicalizer converts raw titles into canonical comp keys.
type Canonicalizer struct {
	stopwords map[string]bool
}

// NewCanonicalizer builds a Canonicalizer with the given stopword list.
// A nil list uses DefaultStopwords.
func NewCanonicalizer(stopwords []string) *Canonicalizer {
	if stopwords == nil {
		stopwords = DefaultStopwords
	}
	set := make(map[string]bool, len(stopwords))
	for _, w := range stopwords {
		set[strings.ToLower(w)] = true
	}
	return &Canonicalizer{stopwords: set}
}

// Canonicalize lower-cases, strips punctuation, splits glued
// alphanumeric runs ("3060ti" -> "3060 ti"), collapses whitespace and
// removes stopwords. It is deterministic and idempotent: canonicalizing
// an already-canonical key returns it unchanged.
func (c *Canonicalizer) Canonicalize(rawTitle string) string {
	s := strings.ToLower(rawTitle)
	s = punctRe.ReplaceAllString(s, " ")
	s = digitAlphaRe.ReplaceAllString(s, "$1 $2")
	s = alphaDigitRe.ReplaceAllString(s, "$1 $2")

	fields := strings.Fields(whitespaceRe.ReplaceAllString(s, " "))
	kept := make([]string, 0, len(fields))
	for _, f := range fields {
		if c.stopwords[f] {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}

// Tokens returns the canonical key split into its sorted unique tokens.
func Tokens(compKey string) []string {
	seen := make(map[string]bool)
	var tokens []string
	for _, f := range strings.Fields(compKey) {
		if !seen[f] {
			seen[f] = true
			tokens = append(tokens, f)
		}
	}
	sort.Strings(tokens)
	return tokens
}
