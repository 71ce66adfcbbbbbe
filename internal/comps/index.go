package comps

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cloudcurio/arbfinder/internal/store"
)

// DefaultSimThreshold is the minimum token-set score (0-100) required to
// fold a key into an existing canonical key.
const DefaultSimThreshold = 86

// Policy selects the aggregate weighting scheme. With TimeDecay disabled
// every sold observation weighs equally; with it enabled, an observation's
// weight halves for every HalfLife of age relative to the newest
// observation in the aggregate. Weights are anchored to the newest
// observation rather than the wall clock, so aggregates are deterministic
// and independent of merge order.
type Policy struct {
	TimeDecay bool
	HalfLife  time.Duration
}

// Observation is one sold price sample.
type Observation struct {
	Price      float64
	ObservedAt time.Time
}

// aggregate holds the member observations for one canonical key. Its
// mutex serializes merges per key; independent keys merge in parallel.
// restored, when set, is a persisted aggregate reloaded from the store;
// its member-level history is gone, so it contributes as a block.
type aggregate struct {
	mu       sync.Mutex
	obs      []Observation
	count    int
	restored *store.Comp
}

// Index is the comp matcher: it resolves comp keys to canonical keys and
// accumulates sold observations per canonical key.
type Index struct {
	mu           sync.RWMutex
	aggs         map[string]*aggregate
	simThreshold int
	policy       Policy
}

// NewIndex creates an empty Index. A non-positive threshold uses
// DefaultSimThreshold.
func NewIndex(simThreshold int, policy Policy) *Index {
	if simThreshold <= 0 {
		simThreshold = DefaultSimThreshold
	}
	if policy.TimeDecay && policy.HalfLife <= 0 {
		policy.HalfLife = 30 * 24 * time.Hour
	}
	return &Index{
		aggs:         make(map[string]*aggregate),
		simThreshold: simThreshold,
		policy:       policy,
	}
}

// Match resolves a comp key against the known canonical keys without
// mutating the index. An exact hit short-circuits with score 100.
// Otherwise the closest key by token-set score is returned; ties break to
// the lexicographically smallest key so matching is deterministic. When
// the best score is below the similarity threshold, the input key itself
// is returned as canonical.
func (ix *Index) Match(compKey string) (canonicalKey string, score int) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.matchLocked(compKey)
}

func (ix *Index) matchLocked(compKey string) (string, int) {
	if _, ok := ix.aggs[compKey]; ok {
		return compKey, 100
	}

	keys := make([]string, 0, len(ix.aggs))
	for k := range ix.aggs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	bestKey, bestScore := "", -1
	for _, k := range keys {
		// Strict comparison over sorted keys keeps the smallest key on ties.
		if s := TokenSetRatio(compKey, k); s > bestScore {
			bestKey, bestScore = k, s
		}
	}
	if bestScore >= ix.simThreshold {
		return bestKey, bestScore
	}
	return compKey, bestScore
}

// Merge folds one sold observation into the aggregate for canonicalKey,
// creating the aggregate on first use. Merges to the same key are
// serialized by a per-key lock; the member count always equals the number
// of successful merges.
func (ix *Index) Merge(canonicalKey string, soldPrice float64, observedAt time.Time) error {
	if canonicalKey == "" {
		return fmt.Errorf("merge requires a non-empty canonical key")
	}
	if soldPrice <= 0 {
		return fmt.Errorf("merge requires a positive sold price, got %v", soldPrice)
	}

	ix.mu.RLock()
	agg, ok := ix.aggs[canonicalKey]
	ix.mu.RUnlock()
	if !ok {
		ix.mu.Lock()
		agg, ok = ix.aggs[canonicalKey]
		if !ok {
			agg = &aggregate{}
			ix.aggs[canonicalKey] = agg
		}
		ix.mu.Unlock()
	}

	agg.mu.Lock()
	agg.obs = append(agg.obs, Observation{Price: soldPrice, ObservedAt: observedAt})
	agg.count++
	agg.mu.Unlock()
	return nil
}

// Seed installs a persisted aggregate as the starting point for its
// canonical key. The stored average and median are reported verbatim
// until new observations merge on top; mixed snapshots combine the
// restored block with the live members.
func (ix *Index) Seed(comp store.Comp) error {
	if comp.CompKey == "" {
		return fmt.Errorf("seed requires a non-empty comp key")
	}
	if comp.Count <= 0 {
		return fmt.Errorf("seed requires a positive member count, got %d", comp.Count)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.aggs[comp.CompKey]; ok {
		return fmt.Errorf("comp key %s is already tracked", comp.CompKey)
	}
	c := comp
	ix.aggs[comp.CompKey] = &aggregate{restored: &c}
	return nil
}

// Observe resolves a raw comp key and merges the observation into the
// resolved canonical key in one step, returning the canonical key. New
// keys below the similarity threshold become their own canonical entry.
func (ix *Index) Observe(compKey string, soldPrice float64, observedAt time.Time) (string, error) {
	canonical, _ := ix.Match(compKey)
	if err := ix.Merge(canonical, soldPrice, observedAt); err != nil {
		return "", err
	}
	return canonical, nil
}

// Keys returns the canonical keys currently tracked, sorted.
func (ix *Index) Keys() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	keys := make([]string, 0, len(ix.aggs))
	for k := range ix.aggs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot computes the aggregate for one canonical key under the
// configured weighting policy. The boolean reports whether the key exists.
func (ix *Index) Snapshot(canonicalKey string) (store.Comp, bool) {
	ix.mu.RLock()
	agg, ok := ix.aggs[canonicalKey]
	ix.mu.RUnlock()
	if !ok {
		return store.Comp{}, false
	}

	agg.mu.Lock()
	obs := make([]Observation, len(agg.obs))
	copy(obs, agg.obs)
	count := agg.count
	restored := agg.restored
	agg.mu.Unlock()

	if restored == nil {
		avg, median, newest := summarize(obs, ix.policy)
		return store.Comp{
			CompKey:     canonicalKey,
			AvgPrice:    avg,
			MedianPrice: median,
			Count:       count,
			LastUpdated: newest,
		}, true
	}

	if len(obs) == 0 {
		c := *restored
		c.CompKey = canonicalKey
		return c, true
	}

	// New observations on top of a restored block: the block enters the
	// weighted median as Count members at its stored median, while the
	// average combines exactly from the stored average and the live sum.
	members := make([]Observation, 0, restored.Count+len(obs))
	for i := 0; i < restored.Count; i++ {
		members = append(members, Observation{Price: restored.MedianPrice, ObservedAt: restored.LastUpdated})
	}
	members = append(members, obs...)
	_, median, newest := summarize(members, ix.policy)

	var liveSum float64
	for _, o := range obs {
		liveSum += o.Price
	}
	total := restored.Count + count
	avg := (restored.AvgPrice*float64(restored.Count) + liveSum) / float64(total)
	return store.Comp{
		CompKey:     canonicalKey,
		AvgPrice:    avg,
		MedianPrice: median,
		Count:       total,
		LastUpdated: newest,
	}, true
}

// Snapshots returns the aggregates for every canonical key, sorted by key.
func (ix *Index) Snapshots() []store.Comp {
	var out []store.Comp
	for _, k := range ix.Keys() {
		if c, ok := ix.Snapshot(k); ok {
			out = append(out, c)
		}
	}
	return out
}

// Persist writes every aggregate snapshot through the store.
func (ix *Index) Persist(ctx context.Context, st store.Store) error {
	for _, c := range ix.Snapshots() {
		if err := st.UpsertComp(ctx, c); err != nil {
			return fmt.Errorf("failed to persist comp %s: %w", c.CompKey, err)
		}
	}
	return nil
}

// summarize computes the (possibly decay-weighted) average and median of
// a set of observations, plus the newest observation time.
func summarize(obs []Observation, policy Policy) (avg, median float64, newest time.Time) {
	if len(obs) == 0 {
		return 0, 0, time.Time{}
	}
	for _, o := range obs {
		if o.ObservedAt.After(newest) {
			newest = o.ObservedAt
		}
	}

	type weighted struct {
		price  float64
		weight float64
	}
	members := make([]weighted, len(obs))
	var weightSum, priceSum float64
	for i, o := range obs {
		w := 1.0
		if policy.TimeDecay {
			age := newest.Sub(o.ObservedAt)
			w = math.Pow(0.5, age.Hours()/policy.HalfLife.Hours())
		}
		members[i] = weighted{price: o.Price, weight: w}
		weightSum += w
		priceSum += o.Price * w
	}
	avg = priceSum / weightSum

	sort.Slice(members, func(i, j int) bool { return members[i].price < members[j].price })
	half := weightSum / 2
	var cum float64
	for i, m := range members {
		cum += m.weight
		if cum >= half {
			// Even split between two members: average the straddling pair,
			// matching the unweighted median for equal weights.
			if cum == half && i+1 < len(members) {
				return avg, (m.price + members[i+1].price) / 2, newest
			}
			return avg, m.price, newest
		}
	}
	return avg, members[len(members)-1].price, newest
}
