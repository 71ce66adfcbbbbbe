package crawl

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudcurio/arbfinder/internal/sources"
	"github.com/cloudcurio/arbfinder/internal/store"
)

// stubAdapter serves canned pages and programmable failures.
type stubAdapter struct {
	name       string
	pages      [][]sources.RawItem
	fetchErr   error
	failPages  int32 // fail this many fetches before serving pages
	fetchCalls atomic.Int32
	parseFail  map[string]bool
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Fetch(ctx context.Context, query string, page int) ([]sources.RawItem, error) {
	call := a.fetchCalls.Add(1)
	if a.fetchErr != nil && call <= a.failPages {
		return nil, a.fetchErr
	}
	if a.fetchErr != nil && a.failPages == 0 {
		return nil, a.fetchErr
	}
	idx := page - 1
	if idx < 0 || idx >= len(a.pages) {
		return nil, nil
	}
	return a.pages[idx], nil
}

func (a *stubAdapter) Parse(raw sources.RawItem) (store.Listing, error) {
	if a.parseFail[raw.URL] {
		return store.Listing{}, &sources.ParseError{Source: a.name, URL: raw.URL, Message: "unparseable price"}
	}
	return store.Listing{
		Source:     a.name,
		URL:        raw.URL,
		Title:      raw.Title,
		CompKey:    raw.Title,
		Price:      100,
		Currency:   "USD",
		Condition:  store.ConditionUnknown,
		ObservedAt: time.Now(),
	}, nil
}

func rawPage(source string, n, offset int) []sources.RawItem {
	items := make([]sources.RawItem, n)
	for i := range items {
		items[i] = sources.RawItem{
			Source: source,
			URL:    fmt.Sprintf("https://%s.example.com/item/%d", source, offset+i),
			Title:  fmt.Sprintf("Item %d", offset+i),
		}
	}
	return items
}

func TestScheduler_CollectsAndUpserts(t *testing.T) {
	st := store.NewMemory()
	s := NewScheduler(st, Options{PerSourceLimit: 10})

	a := &stubAdapter{name: "alpha", pages: [][]sources.RawItem{rawPage("alpha", 3, 0)}}
	b := &stubAdapter{name: "beta", pages: [][]sources.RawItem{rawPage("beta", 2, 0)}}

	listings, report, err := s.Run(context.Background(), "rtx 3060", []sources.Adapter{a, b})
	require.NoError(t, err)
	assert.Len(t, listings, 5)
	assert.Equal(t, 5, report.TotalFound())
	assert.Equal(t, 3, report.Sources["alpha"].ItemsFound)
	assert.Equal(t, 2, report.Sources["beta"].ItemsFound)

	// Everything landed in the store before Run returned.
	stored, err := st.ListListings(context.Background(), "", 100)
	require.NoError(t, err)
	assert.Len(t, stored, 5)
}

func TestScheduler_RespectsPerSourceLimit(t *testing.T) {
	st := store.NewMemory()
	s := NewScheduler(st, Options{PerSourceLimit: 4})

	a := &stubAdapter{name: "alpha", pages: [][]sources.RawItem{
		rawPage("alpha", 3, 0),
		rawPage("alpha", 3, 3),
		rawPage("alpha", 3, 6),
	}}

	listings, report, err := s.Run(context.Background(), "q", []sources.Adapter{a})
	require.NoError(t, err)
	assert.Len(t, listings, 4)
	assert.Equal(t, 4, report.Sources["alpha"].ItemsFound)
}

func TestScheduler_FailingSourceIsIsolated(t *testing.T) {
	st := store.NewMemory()
	s := NewScheduler(st, Options{PerSourceLimit: 10, BreakerThreshold: 3})

	bad := &stubAdapter{name: "flaky", fetchErr: fmt.Errorf("connection reset")}
	good := &stubAdapter{name: "steady", pages: [][]sources.RawItem{rawPage("steady", 2, 0)}}

	listings, report, err := s.Run(context.Background(), "q", []sources.Adapter{bad, good})
	require.NoError(t, err)

	// The healthy source's listings still persist.
	assert.Len(t, listings, 2)
	assert.Equal(t, 2, report.Sources["steady"].ItemsFound)
	assert.Zero(t, report.Sources["steady"].Errors)

	// The failing source reports its errors and trips the breaker.
	flaky := report.Sources["flaky"]
	assert.Equal(t, 3, flaky.Errors)
	assert.True(t, flaky.Suspended)
	assert.Zero(t, flaky.ItemsFound)
	assert.Equal(t, int32(3), bad.fetchCalls.Load())
}

func TestScheduler_ParseFailuresAreSkipsNotErrors(t *testing.T) {
	st := store.NewMemory()
	s := NewScheduler(st, Options{PerSourceLimit: 10})

	page := rawPage("alpha", 3, 0)
	a := &stubAdapter{
		name:      "alpha",
		pages:     [][]sources.RawItem{page},
		parseFail: map[string]bool{page[1].URL: true},
	}

	listings, report, err := s.Run(context.Background(), "q", []sources.Adapter{a})
	require.NoError(t, err)
	assert.Len(t, listings, 2)
	assert.Equal(t, 2, report.Sources["alpha"].ItemsFound)
	assert.Equal(t, 1, report.Sources["alpha"].ItemsSkipped)
	assert.Zero(t, report.Sources["alpha"].Errors)
}

func TestScheduler_ValidationRejectsBadListings(t *testing.T) {
	st := store.NewMemory()
	s := NewScheduler(st, Options{PerSourceLimit: 10})

	// The stub parses this into a listing with an invalid URL, which the
	// validator rejects before the store sees it.
	a := &validationStub{}
	listings, report, err := s.Run(context.Background(), "q", []sources.Adapter{a})
	require.NoError(t, err)
	assert.Empty(t, listings)
	assert.Equal(t, 1, report.Sources["badurl"].ItemsSkipped)

	n, err := st.CountListings(context.Background(), "not a url")
	require.NoError(t, err)
	assert.Zero(t, n)
}

type validationStub struct{}

func (v *validationStub) Name() string { return "badurl" }

func (v *validationStub) Fetch(ctx context.Context, query string, page int) ([]sources.RawItem, error) {
	if page > 1 {
		return nil, nil
	}
	return []sources.RawItem{{Source: "badurl", URL: "not a url", Title: "x"}}, nil
}

func (v *validationStub) Parse(raw sources.RawItem) (store.Listing, error) {
	return store.Listing{
		Source:     "badurl",
		URL:        "not a url",
		Title:      "x",
		Price:      1,
		Currency:   "USD",
		ObservedAt: time.Now(),
	}, nil
}

func TestScheduler_CancellationAbortsRun(t *testing.T) {
	st := store.NewMemory()
	s := NewScheduler(st, Options{PerSourceLimit: 1000})

	ctx, cancel := context.WithCancel(context.Background())
	a := &slowAdapter{cancel: cancel}

	_, report, err := s.Run(ctx, "q", []sources.Adapter{a})
	require.Error(t, err)
	assert.NotNil(t, report)
}

// slowAdapter cancels the run from inside its second fetch.
type slowAdapter struct {
	cancel context.CancelFunc
	calls  atomic.Int32
}

func (a *slowAdapter) Name() string { return "slow" }

func (a *slowAdapter) Fetch(ctx context.Context, query string, page int) ([]sources.RawItem, error) {
	if a.calls.Add(1) == 2 {
		a.cancel()
		return nil, ctx.Err()
	}
	return rawPage("slow", 1, page), nil
}

func (a *slowAdapter) Parse(raw sources.RawItem) (store.Listing, error) {
	return store.Listing{
		Source: "slow", URL: raw.URL, Title: raw.Title, CompKey: raw.Title,
		Price: 1, Currency: "USD", ObservedAt: time.Now(),
	}, nil
}
