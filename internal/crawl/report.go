package crawl

import (
	"sort"
	"time"
)

// SourceReport summarizes one source's share of a crawl run.
type SourceReport struct {
	Source       string        `json:"source"`
	ItemsFound   int           `json:"items_found"`
	ItemsSkipped int           `json:"items_skipped"`
	Errors       int           `json:"errors"`
	Suspended    bool          `json:"suspended"`
	Duration     time.Duration `json:"duration"`
}

// Report summarizes a whole crawl run. One failing source never hides
// the results of the others: every registered source gets an entry.
type Report struct {
	Query    string                   `json:"query"`
	Sources  map[string]*SourceReport `json:"sources"`
	Duration time.Duration            `json:"duration"`
}

func newReport(query string) *Report {
	return &Report{Query: query, Sources: make(map[string]*SourceReport)}
}

// TotalFound sums items found across sources.
func (r *Report) TotalFound() int {
	total := 0
	for _, s := range r.Sources {
		total += s.ItemsFound
	}
	return total
}

// TotalErrors sums error counts across sources.
func (r *Report) TotalErrors() int {
	total := 0
	for _, s := range r.Sources {
		total += s.Errors
	}
	return total
}

// SourceNames returns the reported source names, sorted.
func (r *Report) SourceNames() []string {
	names := make([]string, 0, len(r.Sources))
	for name := range r.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
