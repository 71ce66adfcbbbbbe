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

const governmentSurplusBase = "https://www.governmentauctions.org"

const governmentSurplusMaxPages = 2

// GovernmentSurplus scrapes live listings from governmentauctions.org.
type GovernmentSurplus struct {
	client *fetch.Client
	parser parser
	base   string
}

// NewGovernmentSurplus creates the government-surplus live-listings
// adapter.
func NewGovernmentSurplus(client *fetch.Client) *GovernmentSurplus {
	return &GovernmentSurplus{client: client, parser: newParser(), base: governmentSurplusBase}
}

func (a *GovernmentSurplus) Name() string { return NameGovernmentSurplus }

func (a *GovernmentSurplus) searchURL(query string, page int) string {
	params := url.Values{}
	params.Set("Search", query)
	params.Set("page", strconv.Itoa(page))
	return fmt.Sprintf("%s/search_results.asp?%s", a.base, params.Encode())
}

func (a *GovernmentSurplus) Fetch(ctx context.Context, query string, page int) ([]RawItem, error) {
	if page > governmentSurplusMaxPages {
		return nil, nil
	}
	result, err := a.client.Get(ctx, a.searchURL(query, page))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch governmentsurplus results: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(result.HTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse governmentsurplus results page: %w", err)
	}

	var items []RawItem
	doc.Find(".result-card, [class*=result-card]").Each(func(_ int, sel *goquery.Selection) {
		title := strings.TrimSpace(sel.Find("h3").First().Text())
		href, _ := sel.Find("a[href]").First().Attr("href")
		priceText := labeledPrice(sel.Text(), "")
		if title == "" || href == "" || priceText == "" {
			return
		}
		items = append(items, RawItem{
			Source:    a.Name(),
			URL:       absoluteURL(a.base, href),
			Title:     title,
			PriceText: priceText,
			Query:     query,
			Page:      page,
		})
	})
	return items, nil
}

func (a *GovernmentSurplus) Parse(raw RawItem) (store.Listing, error) {
	return a.parser.listing(raw)
}
