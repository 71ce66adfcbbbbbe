// Package fetch provides the polite HTTP client used by every marketplace
// adapter: per-host rate limiting, bounded retries with exponential
// backoff, and an optional TTL page cache.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 30 * time.Second

// DefaultUserAgent identifies the crawler to marketplace hosts.
const DefaultUserAgent = "Mozilla/5.0 (compatible; ArbFinder/1.0; +https://cloudcurio.cc)"

// DefaultMaxAttempts bounds retries per request: one initial attempt plus
// two retries.
const DefaultMaxAttempts = 3

// DefaultBackoffBase is the first retry delay; each further retry doubles it.
const DefaultBackoffBase = 600 * time.Millisecond

// DefaultHostInterval is the minimum spacing between requests to one host.
const DefaultHostInterval = time.Second

// Result holds the response from a URL fetch.
type Result struct {
	URL         string
	HTML        string
	ContentType string
	StatusCode  int
	FromCache   bool
}

// Error represents a failure to fetch a URL. Retryable reports whether a
// later attempt could succeed: network failures, 5xx and 429 are
// retryable; other 4xx statuses are not.
type Error struct {
	URL        string
	StatusCode int
	Message    string
	Retryable  bool
	// RetryAfter is the host-requested delay from a 429 response; zero
	// when the header was absent or unparseable.
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("fetch error for %s: %s: %v", e.URL, e.Message, e.Cause)
	}
	return fmt.Sprintf("fetch error for %s: %s", e.URL, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Options configures the client.
type Options struct {
	Timeout      time.Duration
	UserAgent    string
	Headers      map[string]string
	MaxAttempts  int
	BackoffBase  time.Duration
	HostInterval time.Duration
	// Cache, when set, serves repeat fetches of the same URL within the
	// cache TTL without touching the network.
	Cache *Cache
	// sleep is swapped in tests to avoid real delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// DefaultOptions returns sensible defaults for polite crawling.
func DefaultOptions() *Options {
	return &Options{
		Timeout:      DefaultTimeout,
		UserAgent:    DefaultUserAgent,
		MaxAttempts:  DefaultMaxAttempts,
		BackoffBase:  DefaultBackoffBase,
		HostInterval: DefaultHostInterval,
	}
}

// Client is a rate-limited, retrying HTTP client. It is safe for
// concurrent use; politeness limits are enforced per host across all
// goroutines sharing the client.
type Client struct {
	httpClient *http.Client
	opts       *Options
	limiters   *hostLimiters
}

// NewClient creates a Client. A nil opts uses DefaultOptions.
func NewClient(opts *Options) *Client {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.HostInterval < 0 {
		opts.HostInterval = 0
	}
	if opts.sleep == nil {
		opts.sleep = sleepCtx
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		opts:       opts,
		limiters:   newHostLimiters(opts.HostInterval),
	}
}

// Get fetches a URL, waiting for the host's politeness slot and retrying
// transient failures up to MaxAttempts total attempts. A 429 response
// honors the Retry-After header when present and otherwise backs off
// longer than ordinary transient errors.
func (c *Client) Get(ctx context.Context, urlStr string) (*Result, error) {
	parsed, err := url.Parse(urlStr)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, &Error{URL: urlStr, Message: "invalid URL", Cause: err}
	}

	if c.opts.Cache != nil {
		if cached, ok := c.opts.Cache.Get(urlStr); ok {
			hit := *cached
			hit.FromCache = true
			return &hit, nil
		}
	}

	var lastErr *Error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.opts.sleep(ctx, c.backoffFor(attempt, lastErr)); err != nil {
				return nil, &Error{URL: urlStr, Message: "fetch canceled during backoff", Cause: err}
			}
		}
		if err := c.limiters.wait(ctx, parsed.Host, c.opts.sleep); err != nil {
			return nil, &Error{URL: urlStr, Message: "fetch canceled while rate limited", Cause: err}
		}

		result, fetchErr := c.attempt(ctx, urlStr)
		if fetchErr == nil {
			if c.opts.Cache != nil {
				c.opts.Cache.Put(urlStr, result)
			}
			return result, nil
		}
		lastErr = fetchErr
		if !fetchErr.Retryable {
			return result, fetchErr
		}
	}
	return nil, lastErr
}

// attempt performs one HTTP round trip and classifies the outcome.
func (c *Client) attempt(ctx context.Context, urlStr string) (*Result, *Error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, &Error{URL: urlStr, Message: "failed to create request", Cause: err}
	}
	req.Header.Set("User-Agent", c.opts.UserAgent)
	for key, value := range c.opts.Headers {
		req.Header.Set(key, value)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, &Error{URL: urlStr, Message: "request canceled", Cause: ctx.Err()}
		}
		return nil, &Error{URL: urlStr, Message: "HTTP request failed", Retryable: true, Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{URL: urlStr, Message: "failed to read response body", Retryable: true, Cause: err}
	}

	result := &Result{
		URL:         urlStr,
		HTML:        string(body),
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return result, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return result, &Error{
			URL:        urlStr,
			StatusCode: resp.StatusCode,
			Message:    "rate limited by host",
			Retryable:  true,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode >= 500:
		return result, &Error{
			URL:        urlStr,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("HTTP status %d", resp.StatusCode),
			Retryable:  true,
		}
	default:
		return result, &Error{
			URL:        urlStr,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("HTTP status %d", resp.StatusCode),
		}
	}
}

// backoffFor computes the delay before the given attempt. Ordinary
// transient errors use exponential backoff from BackoffBase; a 429
// quadruples the base, and the host's Retry-After is a floor on the
// delay when it asks for longer.
func (c *Client) backoffFor(attempt int, lastErr *Error) time.Duration {
	base := c.opts.BackoffBase
	if lastErr != nil && lastErr.StatusCode == http.StatusTooManyRequests {
		base *= 4
	}
	d := base
	for i := 2; i < attempt; i++ {
		d *= 2
	}
	if lastErr != nil && lastErr.RetryAfter > d {
		d = lastErr.RetryAfter
	}
	return d
}

// parseRetryAfter handles the delay-seconds form of the Retry-After header.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ExtractText parses HTML and returns the text of the first element
// matching one of the selectors, falling back to the body.
func ExtractText(html string, selectors ...string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}
	doc.Find("nav, footer, header, script, style, noscript").Remove()

	var main *goquery.Selection
	for _, selector := range selectors {
		if sel := doc.Find(selector); sel.Length() > 0 {
			main = sel.First()
			break
		}
	}
	if main == nil {
		main = doc.Find("body")
	}
	return cleanWhitespace(main.Text()), nil
}

// cleanWhitespace trims each line and drops blank lines.
func cleanWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	var cleaned []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}
