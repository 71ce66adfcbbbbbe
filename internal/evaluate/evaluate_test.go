package evaluate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudcurio/arbfinder/internal/store"
)

func listingAt(price float64, cond store.Condition) store.Listing {
	return store.Listing{
		Source:     "shopgoodwill",
		URL:        "https://example.com/item/1",
		Title:      "RTX 3060 Ti 8GB",
		CompKey:    "rtx 3060 ti 8 gb",
		Price:      price,
		Currency:   "USD",
		Condition:  cond,
		ObservedAt: time.Now(),
	}
}

func compWithMedian(median float64) *store.Comp {
	return &store.Comp{
		CompKey:     "rtx 3060 ti 8 gb",
		AvgPrice:    median,
		MedianPrice: median,
		Count:       10,
		LastUpdated: time.Now(),
	}
}

func TestEvaluate_ThresholdScenario(t *testing.T) {
	// Fees zeroed so the threshold alone decides qualification.
	ev := NewEvaluator(Config{ThresholdPct: 20})

	t.Run("deep discount qualifies", func(t *testing.T) {
		opp := ev.Evaluate(listingAt(100, store.ConditionNew), compWithMedian(150))
		assert.InDelta(t, 150, opp.AdjustedCompPrice, 0.001)
		assert.InDelta(t, 33.33, opp.DiscountPct, 0.01)
		assert.True(t, opp.Qualifies)
	})

	t.Run("shallow discount does not qualify", func(t *testing.T) {
		opp := ev.Evaluate(listingAt(140, store.ConditionNew), compWithMedian(150))
		assert.InDelta(t, 6.67, opp.DiscountPct, 0.01)
		assert.False(t, opp.Qualifies)
	})
}

func TestEvaluate_ConditionMultipliers(t *testing.T) {
	ev := NewEvaluator(Config{ThresholdPct: 20})
	comp := compWithMedian(100)

	cases := []struct {
		condition store.Condition
		adjusted  float64
	}{
		{store.ConditionNew, 100},
		{store.ConditionExcellent, 90},
		{store.ConditionGood, 80},
		{store.ConditionFair, 65},
		{store.ConditionPoor, 45},
		{store.ConditionUnknown, 80},
		{store.Condition(""), 80},
	}
	for _, tc := range cases {
		t.Run(string(tc.condition), func(t *testing.T) {
			opp := ev.Evaluate(listingAt(40, tc.condition), comp)
			assert.InDelta(t, tc.adjusted, opp.AdjustedCompPrice, 0.001)
		})
	}
}

func TestEvaluate_CustomMultiplierTable(t *testing.T) {
	ev := NewEvaluator(Config{
		ThresholdPct:         20,
		ConditionMultipliers: map[store.Condition]float64{store.ConditionNew: 0.5},
	})
	opp := ev.Evaluate(listingAt(40, store.ConditionNew), compWithMedian(100))
	assert.InDelta(t, 50, opp.AdjustedCompPrice, 0.001)
}

func TestEvaluate_FeesGateProfit(t *testing.T) {
	// 13% platform fee on a $100 buy plus $12 shipping eats a $120 comp:
	// profit = 120 - 100 - 13 - 12 = -5, so a 16.7% discount cannot qualify
	// even with a permissive threshold.
	ev := NewEvaluator(Config{ThresholdPct: 10, PlatformFeePct: 0.13, ShippingEstimate: 12})
	opp := ev.Evaluate(listingAt(100, store.ConditionNew), compWithMedian(120))
	assert.InDelta(t, 16.67, opp.DiscountPct, 0.01)
	assert.InDelta(t, -5.0, opp.EstimatedProfit, 0.001)
	assert.False(t, opp.Qualifies)
}

func TestEvaluate_NoCompIsNotAnError(t *testing.T) {
	ev := NewEvaluator(DefaultConfig())

	opp := ev.Evaluate(listingAt(100, store.ConditionNew), nil)
	assert.False(t, opp.Qualifies)
	assert.Zero(t, opp.DiscountPct)
	assert.Zero(t, opp.EstimatedProfit)

	opp = ev.Evaluate(listingAt(100, store.ConditionNew), &store.Comp{CompKey: "rtx 3060 ti 8 gb"})
	assert.False(t, opp.Qualifies)
}

func TestEvaluateAll_SortsByDiscountDescending(t *testing.T) {
	ev := NewEvaluator(Config{ThresholdPct: 20})
	comps := map[string]*store.Comp{
		"rtx 3060 ti 8 gb": compWithMedian(150),
	}

	shallow := listingAt(140, store.ConditionNew)
	deep := listingAt(90, store.ConditionNew)
	mid := listingAt(110, store.ConditionNew)

	opps := ev.EvaluateAll([]store.Listing{shallow, deep, mid}, func(key string) *store.Comp {
		return comps[key]
	})
	require.Len(t, opps, 3)
	assert.Equal(t, 90.0, opps[0].Listing.Price)
	assert.Equal(t, 110.0, opps[1].Listing.Price)
	assert.Equal(t, 140.0, opps[2].Listing.Price)
}
