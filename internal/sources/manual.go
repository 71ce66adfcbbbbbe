package sources

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cloudcurio/arbfinder/internal/store"
)

// Manual imports listings from a local CSV or JSON file instead of a
// marketplace. Used for ad-hoc comparisons and for sources without an
// adapter yet.
type Manual struct {
	path   string
	parser parser
}

// NewManual creates the file-import adapter. The file format is chosen
// by extension: .csv expects a header row with url/title/price columns
// (currency and condition optional); .json expects an array of objects
// with the same keys.
func NewManual(path string) *Manual {
	return &Manual{path: path, parser: newParser()}
}

func (a *Manual) Name() string { return NameManual }

// Fetch reads the whole file on page 1 and reports no results for
// later pages. A missing path yields no items rather than an error, so
// the adapter can stay registered without a file configured.
func (a *Manual) Fetch(ctx context.Context, query string, page int) ([]RawItem, error) {
	if a.path == "" || page > 1 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(a.path)) {
	case ".csv":
		return a.readCSV(query)
	case ".json":
		return a.readJSON(query)
	default:
		return nil, fmt.Errorf("unsupported manual import format: %s", filepath.Ext(a.path))
	}
}

func (a *Manual) Parse(raw RawItem) (store.Listing, error) {
	return a.parser.listing(raw)
}

func (a *Manual) readCSV(query string) ([]RawItem, error) {
	f, err := os.Open(a.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manual import file: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read manual import header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = i
	}

	field := func(row []string, name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var items []RawItem
	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read manual import row: %w", err)
		}
		priceText := field(row, "price")
		if currency := field(row, "currency"); currency != "" {
			priceText = priceText + " " + currency
		}
		items = append(items, RawItem{
			Source:    a.Name(),
			URL:       field(row, "url"),
			Title:     field(row, "title"),
			PriceText: priceText,
			Condition: field(row, "condition"),
			Query:     query,
			Page:      1,
		})
	}
	return items, nil
}

type manualRecord struct {
	URL       string  `json:"url"`
	Title     string  `json:"title"`
	Price     float64 `json:"price"`
	Currency  string  `json:"currency"`
	Condition string  `json:"condition"`
}

func (a *Manual) readJSON(query string) ([]RawItem, error) {
	data, err := os.ReadFile(a.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manual import file: %w", err)
	}
	var records []manualRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode manual import JSON: %w", err)
	}

	items := make([]RawItem, 0, len(records))
	for _, rec := range records {
		currency := rec.Currency
		if currency == "" {
			currency = "USD"
		}
		items = append(items, RawItem{
			Source:    a.Name(),
			URL:       rec.URL,
			Title:     rec.Title,
			PriceText: fmt.Sprintf("%.2f %s", rec.Price, currency),
			Condition: rec.Condition,
			Query:     query,
			Page:      1,
		})
	}
	return items, nil
}
