// Package evaluate scores live listings against their matched sold-price
// comps and decides which ones are arbitrage opportunities.
package evaluate

import (
	"math"
	"sort"

	"github.com/cloudcurio/arbfinder/internal/store"
)

// Config carries the evaluation knobs. The condition multiplier table is
// configuration, not fixed business logic; DefaultConfig supplies the
// standard table.
type Config struct {
	// ThresholdPct is the minimum discount percentage for qualification.
	ThresholdPct float64
	// ConditionMultipliers maps a listing condition to the factor applied
	// to the comp median price before comparison.
	ConditionMultipliers map[store.Condition]float64
	// PlatformFeePct is the selling fee as a fraction of the listing price.
	PlatformFeePct float64
	// ShippingEstimate is a flat per-item shipping cost.
	ShippingEstimate float64
}

// DefaultConfig returns the standard evaluation configuration: 20%
// discount threshold and the usual condition depreciation table.
func DefaultConfig() Config {
	return Config{
		ThresholdPct: 20.0,
		ConditionMultipliers: map[store.Condition]float64{
			store.ConditionNew:       1.0,
			store.ConditionExcellent: 0.9,
			store.ConditionGood:      0.8,
			store.ConditionFair:      0.65,
			store.ConditionPoor:      0.45,
		},
		PlatformFeePct:   0.13,
		ShippingEstimate: 12.0,
	}
}

// Opportunity is the result of evaluating one listing against its comp.
// It is derived data: always recomputable from the listing, the comp and
// the configuration in effect.
type Opportunity struct {
	Listing           store.Listing `json:"listing"`
	Comp              *store.Comp   `json:"comp,omitempty"`
	AdjustedCompPrice float64       `json:"adjusted_comp_price"`
	DiscountPct       float64       `json:"discount_pct"`
	EstimatedProfit   float64       `json:"estimated_profit"`
	Qualifies         bool          `json:"qualifies"`
}

// Evaluator applies condition adjustment and profitability math to
// listing/comp pairs.
type Evaluator struct {
	cfg Config
}

// NewEvaluator creates an Evaluator. Zero-value config fields fall back
// to DefaultConfig values.
func NewEvaluator(cfg Config) *Evaluator {
	def := DefaultConfig()
	if cfg.ThresholdPct <= 0 {
		cfg.ThresholdPct = def.ThresholdPct
	}
	if len(cfg.ConditionMultipliers) == 0 {
		cfg.ConditionMultipliers = def.ConditionMultipliers
	}
	if cfg.PlatformFeePct < 0 {
		cfg.PlatformFeePct = 0
	}
	if cfg.ShippingEstimate < 0 {
		cfg.ShippingEstimate = 0
	}
	return &Evaluator{cfg: cfg}
}

// Evaluate scores one listing against its matched comp. A nil comp, or a
// comp with no usable median, yields a non-qualifying opportunity rather
// than an error.
func (e *Evaluator) Evaluate(listing store.Listing, comp *store.Comp) Opportunity {
	opp := Opportunity{Listing: listing, Comp: comp}
	if comp == nil || comp.MedianPrice <= 0 || listing.Price <= 0 {
		return opp
	}

	adjusted := comp.MedianPrice * e.multiplier(listing.Condition)
	if adjusted <= 0 {
		return opp
	}

	opp.AdjustedCompPrice = adjusted
	opp.DiscountPct = (adjusted - listing.Price) / adjusted * 100
	opp.EstimatedProfit = adjusted - listing.Price - e.cfg.PlatformFeePct*listing.Price - e.cfg.ShippingEstimate
	opp.Qualifies = opp.DiscountPct >= e.cfg.ThresholdPct && opp.EstimatedProfit > 0
	return opp
}

// EvaluateAll scores a batch of listings against a comp lookup and
// returns the opportunities sorted by discount, best first.
func (e *Evaluator) EvaluateAll(listings []store.Listing, lookup func(compKey string) *store.Comp) []Opportunity {
	out := make([]Opportunity, 0, len(listings))
	for _, l := range listings {
		out = append(out, e.Evaluate(l, lookup(l.CompKey)))
	}
	SortByDiscount(out)
	return out
}

// SortByDiscount orders opportunities by descending discount percentage.
// Qualifying opportunities sort ahead of non-qualifying ones at equal
// discount.
func SortByDiscount(opps []Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		a, b := opps[i], opps[j]
		if math.Abs(a.DiscountPct-b.DiscountPct) > 1e-9 {
			return a.DiscountPct > b.DiscountPct
		}
		return a.Qualifies && !b.Qualifies
	})
}

// multiplier looks up the condition factor; an unknown or unlisted
// condition is priced as good.
func (e *Evaluator) multiplier(c store.Condition) float64 {
	if m, ok := e.cfg.ConditionMultipliers[c]; ok {
		return m
	}
	if m, ok := e.cfg.ConditionMultipliers[store.ConditionGood]; ok {
		return m
	}
	return 0.8
}
