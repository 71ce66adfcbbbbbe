package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noSleep replaces real backoff/politeness waits in tests.
func noSleep(ctx context.Context, d time.Duration) error {
	return ctx.Err()
}

func testClient(opts *Options) *Client {
	if opts == nil {
		opts = DefaultOptions()
	}
	opts.HostInterval = 0
	opts.sleep = noSleep
	return NewClient(opts)
}

func TestClient_GetSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "ArbFinder")
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><body>listings</body></html>"))
	}))
	defer srv.Close()

	result, err := testClient(nil).Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Contains(t, result.HTML, "listings")
	assert.False(t, result.FromCache)
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	result, err := testClient(nil).Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.HTML)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_GivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := testClient(nil).Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(DefaultMaxAttempts), calls.Load())

	var fetchErr *Error
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, http.StatusInternalServerError, fetchErr.StatusCode)
	assert.True(t, fetchErr.Retryable)
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := testClient(nil).Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())

	var fetchErr *Error
	require.True(t, errors.As(err, &fetchErr))
	assert.False(t, fetchErr.Retryable)
	assert.Equal(t, http.StatusNotFound, fetchErr.StatusCode)
}

func TestClient_RateLimitedResponseIsRetryable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	result, err := testClient(nil).Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.HTML)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_RateLimitBackoffIsExtended(t *testing.T) {
	c := testClient(nil)
	plain := c.backoffFor(2, &Error{StatusCode: http.StatusInternalServerError})
	limited := c.backoffFor(2, &Error{StatusCode: http.StatusTooManyRequests})
	assert.Equal(t, 4*plain, limited)
	assert.Equal(t, 2*plain, c.backoffFor(3, &Error{StatusCode: http.StatusInternalServerError}))
}

func TestClient_RetryAfterIsBackoffFloor(t *testing.T) {
	c := testClient(nil)

	// A Retry-After longer than the computed backoff wins.
	d := c.backoffFor(2, &Error{StatusCode: http.StatusTooManyRequests, RetryAfter: 10 * time.Second})
	assert.Equal(t, 10*time.Second, d)

	// A shorter one does not shrink the computed backoff.
	d = c.backoffFor(2, &Error{StatusCode: http.StatusTooManyRequests, RetryAfter: time.Millisecond})
	assert.Equal(t, 4*DefaultBackoffBase, d)
}

func TestClient_RetryAfterDelaysNextAttempt(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "5")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	opts := DefaultOptions()
	opts.HostInterval = 0
	var waits []time.Duration
	opts.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	result, err := NewClient(opts).Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.HTML)
	assert.Contains(t, waits, 5*time.Second)
}

func TestClient_InvalidURL(t *testing.T) {
	_, err := testClient(nil).Get(context.Background(), "not-a-url")
	var fetchErr *Error
	require.True(t, errors.As(err, &fetchErr))
	assert.Equal(t, "invalid URL", fetchErr.Message)
}

func TestClient_CacheServesRepeatFetches(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte("page"))
	}))
	defer srv.Close()

	opts := DefaultOptions()
	opts.Cache = NewCache(time.Minute)
	c := testClient(opts)

	first, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.HTML, second.HTML)
	assert.Equal(t, int32(1), calls.Load())
}

func TestCache_ExpiresEntries(t *testing.T) {
	cache := NewCache(time.Minute)
	base := time.Now()
	cache.now = func() time.Time { return base }
	cache.Put("https://example.com/a", &Result{HTML: "a"})

	_, ok := cache.Get("https://example.com/a")
	assert.True(t, ok)

	cache.now = func() time.Time { return base.Add(2 * time.Minute) }
	_, ok = cache.Get("https://example.com/a")
	assert.False(t, ok)
	assert.Zero(t, cache.Len())
}

func TestHostLimiters_SpacesRequestsPerHost(t *testing.T) {
	h := newHostLimiters(time.Second)

	var waits []time.Duration
	record := func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	ctx := context.Background()
	require.NoError(t, h.wait(ctx, "a.example.com", record))
	require.NoError(t, h.wait(ctx, "a.example.com", record))
	require.NoError(t, h.wait(ctx, "b.example.com", record))

	require.Len(t, waits, 3)
	assert.LessOrEqual(t, waits[0], time.Duration(0))
	assert.Greater(t, waits[1], 900*time.Millisecond)
	// A different host does not inherit the first host's schedule.
	assert.LessOrEqual(t, waits[2], time.Duration(0))
}

func TestExtractText(t *testing.T) {
	html := `<html><body><nav>menu</nav><main><h1>RTX 3060</h1><p>$199.99</p></main><footer>foot</footer></body></html>`
	text, err := ExtractText(html, "main")
	require.NoError(t, err)
	assert.Contains(t, text, "RTX 3060")
	assert.Contains(t, text, "$199.99")
	assert.NotContains(t, text, "menu")
	assert.NotContains(t, text, "foot")
}
