// Package comps resolves listing comp keys against known canonical keys
// using token-set fuzzy matching, and maintains incremental sold-price
// aggregates per canonical key.
package comps

import (
	"math"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"

	"github.com/cloudcurio/arbfinder/internal/titles"
)

var simParams = levenshtein.NewParams()

// TokenSetRatio scores the similarity of two comp keys on a 0-100 scale.
//
// Both keys are split into sorted unique token sets. When one set contains
// the other, the score is 100 (extra descriptive tokens on one side do not
// count against a match). Otherwise the score is the best edit-distance
// similarity among the combined strings built from the shared tokens and
// each side's remainder. When both remainders carry a numeric token the
// keys name different model variants ("rtx 3060" vs "rtx 3070"), which
// edit distance alone scores as near-identical; the edit score is then
// scaled by the token overlap so variants never clear the match threshold.
func TokenSetRatio(a, b string) int {
	if a == b {
		return 100
	}
	ta, tb := titles.Tokens(a), titles.Tokens(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	shared, onlyA, onlyB := partitionTokens(ta, tb)
	if len(onlyA) == 0 || len(onlyB) == 0 {
		return 100
	}

	base := strings.Join(shared, " ")
	combinedA := joinNonEmpty(base, strings.Join(onlyA, " "))
	combinedB := joinNonEmpty(base, strings.Join(onlyB, " "))

	best := levenshtein.Similarity(combinedA, combinedB, simParams)
	if base != "" {
		if s := levenshtein.Similarity(base, combinedA, simParams); s > best {
			best = s
		}
		if s := levenshtein.Similarity(base, combinedB, simParams); s > best {
			best = s
		}
	}

	if hasNumericToken(onlyA) && hasNumericToken(onlyB) {
		overlap := float64(2*len(shared)) / float64(len(ta)+len(tb))
		best *= overlap
	}
	return int(math.Round(best * 100))
}

// hasNumericToken reports whether any token is all digits.
func hasNumericToken(tokens []string) bool {
	for _, t := range tokens {
		if t != "" && strings.IndexFunc(t, func(r rune) bool { return !unicode.IsDigit(r) }) < 0 {
			return true
		}
	}
	return false
}

// partitionTokens splits two sorted token slices into shared tokens and
// the remainders unique to each side.
func partitionTokens(ta, tb []string) (shared, onlyA, onlyB []string) {
	inB := make(map[string]bool, len(tb))
	for _, t := range tb {
		inB[t] = true
	}
	inA := make(map[string]bool, len(ta))
	for _, t := range ta {
		inA[t] = true
		if inB[t] {
			shared = append(shared, t)
		} else {
			onlyA = append(onlyA, t)
		}
	}
	for _, t := range tb {
		if !inA[t] {
			onlyB = append(onlyB, t)
		}
	}
	return shared, onlyA, onlyB
}

func joinNonEmpty(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + " " + b
}
