package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudcurio/arbfinder/internal/config"
	"github.com/cloudcurio/arbfinder/internal/sources"
	"github.com/cloudcurio/arbfinder/internal/store"
	"github.com/cloudcurio/arbfinder/internal/titles"
)

// stubAdapter serves a fixed set of listings from page 1 and nothing
// after, bypassing HTTP entirely.
type stubAdapter struct {
	name     string
	listings []store.Listing
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Fetch(ctx context.Context, query string, page int) ([]sources.RawItem, error) {
	if page > 1 {
		return nil, nil
	}
	items := make([]sources.RawItem, len(a.listings))
	for i, l := range a.listings {
		items[i] = sources.RawItem{Source: a.name, URL: l.URL, Query: query, Page: page}
	}
	return items, nil
}

func (a *stubAdapter) Parse(raw sources.RawItem) (store.Listing, error) {
	for _, l := range a.listings {
		if l.URL == raw.URL {
			return l, nil
		}
	}
	return store.Listing{}, &sources.ParseError{Source: a.name, URL: raw.URL, Message: "unknown stub URL"}
}

func stubListing(source, title string, price float64, n int) store.Listing {
	canon := titles.NewCanonicalizer(nil)
	return store.Listing{
		Source:     source,
		URL:        fmt.Sprintf("https://example.com/%s/item/%d", source, n),
		Title:      title,
		CompKey:    canon.Canonicalize(title),
		Price:      price,
		Currency:   "USD",
		Condition:  store.ConditionGood,
		ObservedAt: time.Now().UTC(),
	}
}

func stubRegistry(sold, live []store.Listing) *sources.Registry {
	reg := sources.NewRegistry()
	reg.Register(&stubAdapter{name: sources.NameEbaySold, listings: sold})
	reg.Register(&stubAdapter{name: sources.NameShopGoodwill, listings: live})
	return reg
}

func TestRun_EndToEnd(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()

	sold := []store.Listing{
		stubListing(sources.NameEbaySold, "RTX 3060 Ti 8GB GPU", 180, 1),
		stubListing(sources.NameEbaySold, "RTX 3060 Ti 8GB GPU", 200, 2),
		stubListing(sources.NameEbaySold, "RTX 3060 Ti 8GB GPU", 220, 3),
	}
	live := []store.Listing{
		// Median 200 x good 0.8 = 160 adjusted: 37.5% discount qualifies,
		// 6.25% does not.
		stubListing(sources.NameShopGoodwill, "RTX 3060 Ti 8GB", 100, 1),
		stubListing(sources.NameShopGoodwill, "RTX 3060 Ti 8GB", 150, 2),
	}

	var steps []string
	result, err := Run(ctx, RunOptions{
		Query:    "rtx 3060",
		Config:   config.Config{Providers: sources.NameShopGoodwill},
		Store:    st,
		Registry: stubRegistry(sold, live),
		OnProgress: func(e ProgressEvent) {
			steps = append(steps, e.Step)
		},
	})
	require.NoError(t, err)

	require.Len(t, result.Opportunities, 2)
	best := result.Opportunities[0]
	assert.True(t, best.Qualifies)
	assert.InDelta(t, 37.5, best.DiscountPct, 0.01)
	assert.InDelta(t, 160.0, best.AdjustedCompPrice, 0.01)
	assert.False(t, result.Opportunities[1].Qualifies)
	assert.Len(t, result.Qualifying(), 1)

	// The sold crawl folded into one canonical comp, persisted.
	require.Len(t, result.CompKeys, 1)
	comp, err := st.GetComp(ctx, result.CompKeys[0])
	require.NoError(t, err)
	assert.Equal(t, 3, comp.Count)
	assert.InDelta(t, 200.0, comp.MedianPrice, 0.01)

	// Live listings were upserted during the crawl.
	for _, l := range live {
		n, err := st.CountListings(ctx, l.URL)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	}

	assert.Equal(t, []string{"sold", "comps", "crawl", "evaluate"}, steps)
	assert.Contains(t, result.Report.Sources, sources.NameShopGoodwill)
}

func TestRun_EnqueueJobsForQualifying(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()

	sold := []store.Listing{stubListing(sources.NameEbaySold, "Dyson V8 Vacuum", 300, 1)}
	live := []store.Listing{stubListing(sources.NameShopGoodwill, "Dyson V8 Vacuum", 80, 1)}

	result, err := Run(ctx, RunOptions{
		Query:       "dyson v8",
		Config:      config.Config{Providers: sources.NameShopGoodwill},
		Store:       st,
		Registry:    stubRegistry(sold, live),
		EnqueueJobs: true,
	})
	require.NoError(t, err)
	require.Len(t, result.JobIDs, 1)

	job, err := st.GetJob(ctx, result.JobIDs[0])
	require.NoError(t, err)
	assert.Equal(t, store.JobQueued, job.Status)
	assert.Contains(t, string(job.Input), live[0].URL)
}

func TestRun_RequiresStore(t *testing.T) {
	_, err := Run(context.Background(), RunOptions{})
	assert.ErrorContains(t, err, "store")
}

func TestRun_MissingSoldSource(t *testing.T) {
	reg := sources.NewRegistry()
	reg.Register(&stubAdapter{name: sources.NameShopGoodwill})

	_, err := Run(context.Background(), RunOptions{
		Query:    "anything",
		Store:    store.NewMemory(),
		Registry: reg,
	})
	assert.ErrorContains(t, err, "sold-comps source")
}

func TestIngest(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()

	// Comps persisted by an earlier run.
	require.NoError(t, st.UpsertComp(ctx, store.Comp{
		CompKey:     "nintendo switch oled",
		AvgPrice:    250,
		MedianPrice: 250,
		Count:       4,
		LastUpdated: time.Now().UTC(),
	}))

	valid := store.Listing{
		Source:    "manual",
		URL:       "https://example.com/manual/1",
		Title:     "Nintendo Switch OLED",
		Price:     120,
		Currency:  "USD",
		Condition: store.ConditionGood,
	}
	invalid := store.Listing{
		Source:   "manual",
		URL:      "https://example.com/manual/2",
		Currency: "USD",
		Price:    50,
	}

	result, err := Ingest(ctx, config.Config{}, st, []store.Listing{valid, invalid})
	require.NoError(t, err)

	assert.Equal(t, []string{valid.URL}, result.Accepted)
	assert.Equal(t, []string{invalid.URL}, result.Rejected)

	// Derived comp key matched the persisted comp and qualified:
	// 250 x 0.8 = 200 adjusted vs 120 asking.
	require.Len(t, result.Opportunities, 1)
	opp := result.Opportunities[0]
	assert.True(t, opp.Qualifies)
	assert.InDelta(t, 40.0, opp.DiscountPct, 0.01)

	// The accepted listing landed with a derived comp key.
	stored, err := st.GetListingByURL(ctx, valid.URL)
	require.NoError(t, err)
	assert.Equal(t, "nintendo switch oled", stored.CompKey)
}

func TestIngest_NoComps(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	defer st.Close()

	listing := store.Listing{
		Source:   "manual",
		URL:      "https://example.com/manual/3",
		Title:    "Obscure Widget",
		Price:    10,
		Currency: "USD",
	}

	result, err := Ingest(ctx, config.Config{}, st, []store.Listing{listing})
	require.NoError(t, err)
	require.Len(t, result.Opportunities, 1)
	// No comp data means non-qualifying, never an error.
	assert.False(t, result.Opportunities[0].Qualifies)
}
