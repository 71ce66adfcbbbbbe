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

const shopGoodwillBase = "https://shopgoodwill.com"

// shopGoodwillMaxPages caps pagination per query, matching the site's
// useful result depth.
const shopGoodwillMaxPages = 3

// ShopGoodwill scrapes live auction listings from shopgoodwill.com.
// The search page is an Angular shell to plain HTTP clients; when a
// fetch comes back without listing cards the adapter retries through a
// headless browser.
type ShopGoodwill struct {
	client  *fetch.Client
	parser  parser
	base    string
	browser bool
}

// NewShopGoodwill creates the ShopGoodwill live-listings adapter.
// Browser fallback requires Chrome on the system; pass useBrowser=false
// to disable it.
func NewShopGoodwill(client *fetch.Client, useBrowser bool) *ShopGoodwill {
	return &ShopGoodwill{client: client, parser: newParser(), base: shopGoodwillBase, browser: useBrowser}
}

func (a *ShopGoodwill) Name() string { return NameShopGoodwill }

func (a *ShopGoodwill) searchURL(query string, page int) string {
	params := url.Values{}
	params.Set("st", query)
	params.Set("pp", "40")
	params.Set("p", strconv.Itoa(page))
	return fmt.Sprintf("%s/search?%s", a.base, params.Encode())
}

func (a *ShopGoodwill) Fetch(ctx context.Context, query string, page int) ([]RawItem, error) {
	if page > shopGoodwillMaxPages {
		return nil, nil
	}
	pageURL := a.searchURL(query, page)
	result, err := a.client.Get(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch shopgoodwill results: %w", err)
	}
	html := result.HTML

	if a.browser {
		text, _ := fetch.ExtractText(html)
		if fetch.ShouldUseBrowser(text) {
			rendered, err := fetch.WithBrowser(ctx, pageURL, fetch.DefaultTimeout)
			if err != nil {
				return nil, fmt.Errorf("failed to render shopgoodwill results: %w", err)
			}
			html = rendered
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse shopgoodwill results page: %w", err)
	}

	var items []RawItem
	doc.Find(".product-card, [class*=product-card]").Each(func(_ int, sel *goquery.Selection) {
		title := strings.TrimSpace(sel.Find(".product-title, [class*=product-title]").First().Text())
		href, _ := sel.Find(`a[href^="/item/"]`).First().Attr("href")
		priceText := labeledPrice(sel.Text(), "Current Bid")
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

func (a *ShopGoodwill) Parse(raw RawItem) (store.Listing, error) {
	return a.parser.listing(raw)
}
