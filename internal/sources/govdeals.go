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

const govDealsBase = "https://www.govdeals.com"

const govDealsMaxPages = 2

const govDealsRowsPerPage = 50

// GovDeals scrapes live government-surplus auction listings from
// govdeals.com.
type GovDeals struct {
	client *fetch.Client
	parser parser
	base   string
}

// NewGovDeals creates the GovDeals live-listings adapter.
func NewGovDeals(client *fetch.Client) *GovDeals {
	return &GovDeals{client: client, parser: newParser(), base: govDealsBase}
}

func (a *GovDeals) Name() string { return NameGovDeals }

func (a *GovDeals) searchURL(query string, page int) string {
	params := url.Values{}
	params.Set("fa", "Main.AdvSearchResultsNew")
	params.Set("kWord", query)
	params.Set("whichForm", "vehicle")
	params.Set("SearchPg", "Main")
	params.Set("kCatID", "0")
	params.Set("rowCount", strconv.Itoa(govDealsRowsPerPage))
	params.Set("startRow", strconv.Itoa(govDealsRowsPerPage*(page-1)+1))
	return fmt.Sprintf("%s/index.cfm?%s", a.base, params.Encode())
}

func (a *GovDeals) Fetch(ctx context.Context, query string, page int) ([]RawItem, error) {
	if page > govDealsMaxPages {
		return nil, nil
	}
	result, err := a.client.Get(ctx, a.searchURL(query, page))
	if err != nil {
		return nil, fmt.Errorf("failed to fetch govdeals results: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(result.HTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse govdeals results page: %w", err)
	}

	var items []RawItem
	doc.Find(".auction-card, [class*=auction-card]").Each(func(_ int, sel *goquery.Selection) {
		title := strings.TrimSpace(sel.Find(".item-title, [class*=item-title]").First().Text())
		href, _ := sel.Find(`a[href*="fa=Main.Item"]`).First().Attr("href")
		priceText := labeledPrice(sel.Text(), "Current Bid:")
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

func (a *GovDeals) Parse(raw RawItem) (store.Listing, error) {
	return a.parser.listing(raw)
}
