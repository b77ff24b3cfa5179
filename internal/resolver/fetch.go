package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/lincot/metaplex-collection-scraper/internal/logger"
	"github.com/lincot/metaplex-collection-scraper/internal/retry"
)

const (
	// defaultMaxBody bounds a descriptor response body.
	defaultMaxBody = 4 << 20 // 4 MB
)

// ErrFetch is wrapped by every failed descriptor fetch.
var ErrFetch = errors.New("fetch descriptor")

// Fetcher retrieves descriptor documents.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// HTTPConfig configures an HTTPFetcher.
type HTTPConfig struct {
	Retry          retry.Policy  // Retry bounds retries of transient failures
	Timeout        time.Duration // Timeout applies to each attempt; zero means none
	MaxBody        int64         // MaxBody bounds the body size; zero uses the default
	MaxIdlePerHost int           // MaxIdlePerHost sizes the idle connection pool
	Logger         *slog.Logger  // Logger receives per-attempt retry logs; nil disables
}

// HTTPFetcher issues GET requests, retrying connection errors, 429 and
// 5xx responses with exponential backoff.
type HTTPFetcher struct {
	client  *retryablehttp.Client
	maxBody int64
}

// NewHTTPFetcher creates a fetcher from cfg.
func NewHTTPFetcher(cfg HTTPConfig) *HTTPFetcher {
	client := retryablehttp.NewClient()
	client.RetryMax = cfg.Retry.Retries()
	client.RetryWaitMin = cfg.Retry.Delay
	client.RetryWaitMax = cfg.Retry.MaxDelay
	client.Backoff = backoff(cfg.Retry)
	client.Logger = nil

	if cfg.Logger != nil {
		client.Logger = logger.Leveled{L: cfg.Logger}
	}

	client.HTTPClient.Timeout = cfg.Timeout
	if t, ok := client.HTTPClient.Transport.(*http.Transport); ok && cfg.MaxIdlePerHost > 0 {
		t.MaxIdleConnsPerHost = cfg.MaxIdlePerHost
	}

	maxBody := cfg.MaxBody
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}

	return &HTTPFetcher{client: client, maxBody: maxBody}
}

// Fetch implements Fetcher. Non-2xx final responses are failures.
func (f *HTTPFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrFetch, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer func() { io.Copy(io.Discard, resp.Body); resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrFetch, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrFetch, err)
	}

	if int64(len(body)) > f.maxBody {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrFetch, f.maxBody)
	}

	return body, nil
}

// backoff follows the policy but honours a server's Retry-After.
func backoff(p retry.Policy) retryablehttp.Backoff {
	return func(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
		if resp != nil && resp.Header.Get("Retry-After") != "" {
			return retryablehttp.DefaultBackoff(min, max, attemptNum, resp)
		}

		return p.Backoff(attemptNum + 1)
	}
}
