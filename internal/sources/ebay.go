package sources

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/cloudcurio/arbfinder/internal/fetch"
	"github.com/cloudcurio/arbfinder/internal/store"
)

const ebayBase = "https://www.ebay.com"

// EbaySold scrapes completed/sold search results. It is the comp
// provider: its parsed listings feed the sold-price aggregates rather
// than the live opportunity set.
type EbaySold struct {
	client *fetch.Client
	parser parser
	// base is overridden in tests to point at a local server.
	base string
}

// NewEbaySold creates the sold-comps adapter.
func NewEbaySold(client *fetch.Client) *EbaySold {
	return &EbaySold{client: client, parser: newParser(), base: ebayBase}
}

func (a *EbaySold) Name() string { return NameEbaySold }

func (a *EbaySold) searchURL(query string, page int) string {
	params := url.Values{}
	params.Set("_nkw", query)
	params.Set("LH_Sold", "1")
	params.Set("LH_Complete", "1")
	if page > 1 {
		params.Set("_pgn", strconv.Itoa(page))
	}
	return fmt.Sprintf("%s/sch/i.html?%s", a.base, params.Encode())
}

// Fetch retrieves one page of sold results. Result cards missing a
// title or price are dropped here; price parsing happens in Parse.
func (a *EbaySold) Fetch(ctx context.Context, query string, page int) ([]RawItem, error) {
	pageURL := a.searchURL(query, page)
	result, err := a.client.Get(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ebay sold results: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(result.HTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ebay results page: %w", err)
	}

	var items []RawItem
	doc.Find("li.s-item").Each(func(_ int, sel *goquery.Selection) {
		title := strings.TrimSpace(sel.Find(".s-item__title").First().Text())
		priceText := strings.TrimSpace(sel.Find(".s-item__price").First().Text())
		href, _ := sel.Find("a.s-item__link").First().Attr("href")
		// eBay pads results with a promo card.
		if title == "" || priceText == "" || strings.EqualFold(title, "Shop on eBay") {
			return
		}
		items = append(items, RawItem{
			Source:    a.Name(),
			URL:       href,
			Title:     title,
			PriceText: priceText,
			Query:     query,
			Page:      page,
			Metadata:  map[string]string{"state": "sold"},
		})
	})
	return items, nil
}

func (a *EbaySold) Parse(raw RawItem) (store.Listing, error) {
	return a.parser.listing(raw)
}
