// Package sources defines the marketplace adapter interface and the
// concrete adapters for each supported marketplace. Adapters fetch raw
// search-result items and parse them into listings; transport goes
// through the polite fetch client and price/title normalization through
// the pricing and titles packages.
package sources

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cloudcurio/arbfinder/internal/pricing"
	"github.com/cloudcurio/arbfinder/internal/store"
	"github.com/cloudcurio/arbfinder/internal/titles"
)

// RawItem is one unparsed search result extracted from a marketplace
// page. Fetch produces RawItems; Parse turns them into listings.
type RawItem struct {
	Source    string
	URL       string
	Title     string
	PriceText string
	Condition string
	Query     string
	Page      int
	Metadata  map[string]string
}

// Adapter is the per-marketplace capability set: fetch one page of raw
// search results and parse a raw item into a listing. Fetch returns an
// empty slice when the marketplace has no more results for the page.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, query string, page int) ([]RawItem, error)
	Parse(raw RawItem) (store.Listing, error)
}

// ParseError reports an unparseable raw item. Callers skip the item and
// count the skip rather than aborting the crawl.
type ParseError struct {
	Source  string
	URL     string
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("parse error from %s (%s): %s: %v", e.Source, e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("parse error from %s (%s): %s", e.Source, e.URL, e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

// Registry resolves adapters by source name.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds an adapter under its own name, replacing any previous
// adapter with that name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns the adapter for a source name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered source names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select returns the adapters for a comma-separated provider list,
// skipping unknown names. An empty list selects every live provider.
func (r *Registry) Select(providers string) []Adapter {
	names := strings.Split(providers, ",")
	if strings.TrimSpace(providers) == "" {
		names = []string{NameShopGoodwill, NameGovDeals, NameGovernmentSurplus}
	}
	var out []Adapter
	for _, name := range names {
		if a, ok := r.Get(strings.TrimSpace(name)); ok {
			out = append(out, a)
		}
	}
	return out
}

// Source names.
const (
	NameEbaySold          = "ebay_sold"
	NameShopGoodwill      = "shopgoodwill"
	NameGovDeals          = "govdeals"
	NameGovernmentSurplus = "governmentsurplus"
	NameManual            = "manual"
)

// parser holds the shared normalization used by every adapter's Parse.
type parser struct {
	canon *titles.Canonicalizer
}

func newParser() parser {
	return parser{canon: titles.NewCanonicalizer(nil)}
}

// listing builds a validated listing from a raw item. Missing titles,
// missing URLs and unparseable prices are ParseErrors.
func (p parser) listing(raw RawItem) (store.Listing, error) {
	title := strings.TrimSpace(raw.Title)
	if title == "" {
		return store.Listing{}, &ParseError{Source: raw.Source, URL: raw.URL, Message: "missing title"}
	}
	if raw.URL == "" {
		return store.Listing{}, &ParseError{Source: raw.Source, Message: "missing item URL"}
	}

	price, err := pricing.Normalize(raw.PriceText)
	if err != nil {
		return store.Listing{}, &ParseError{
			Source:  raw.Source,
			URL:     raw.URL,
			Message: "unparseable price",
			Cause:   err,
		}
	}

	condition := store.Condition(strings.ToLower(strings.TrimSpace(raw.Condition)))
	switch condition {
	case store.ConditionNew, store.ConditionExcellent, store.ConditionGood,
		store.ConditionFair, store.ConditionPoor:
	default:
		condition = store.ConditionUnknown
	}

	metadata := map[string]string{"query": raw.Query}
	for k, v := range raw.Metadata {
		metadata[k] = v
	}

	return store.Listing{
		Source:     raw.Source,
		URL:        raw.URL,
		Title:      title,
		CompKey:    p.canon.Canonicalize(title),
		Price:      price.Amount,
		Currency:   price.Currency,
		Condition:  condition,
		ObservedAt: time.Now().UTC(),
		Metadata:   metadata,
	}, nil
}

// labeledPrice extracts the first dollar amount after a label in a
// card's text, or the first dollar amount anywhere when the label is
// absent. Returns "" when the card carries no price.
func labeledPrice(text, label string) string {
	if idx := strings.Index(text, label); idx >= 0 {
		text = text[idx+len(label):]
	}
	idx := strings.Index(text, "$")
	if idx < 0 {
		return ""
	}
	end := idx + 1
	for end < len(text) && (text[end] == '.' || text[end] == ',' || (text[end] >= '0' && text[end] <= '9')) {
		end++
	}
	if end == idx+1 {
		return ""
	}
	return text[idx:end]
}

// absoluteURL resolves a possibly relative href against a marketplace
// base URL.
func absoluteURL(base, href string) string {
	if href == "" {
		return ""
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(ref).String()
}
