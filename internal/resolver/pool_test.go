package resolver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/lincot/metaplex-collection-scraper/internal/cache"
	"github.com/lincot/metaplex-collection-scraper/internal/descriptor"
	"github.com/lincot/metaplex-collection-scraper/internal/logger"
	"github.com/lincot/metaplex-collection-scraper/internal/metadata"
	"github.com/lincot/metaplex-collection-scraper/internal/retry"
)

const validBody = `{"name":"A","image":"u1","attributes":{"trait_type":"Color","value":"Red"}}`

// fastFetcher returns an HTTP fetcher with millisecond backoff.
func fastFetcher() *HTTPFetcher {
	return NewHTTPFetcher(HTTPConfig{
		Retry:          retry.Exponential(time.Millisecond, 4*time.Millisecond, 8),
		Timeout:        5 * time.Second,
		MaxIdlePerHost: DefaultMaxInFlight,
	})
}

func record(n int, uri string) *metadata.Record {
	var mint solana.PublicKey
	mint[0] = byte(n)
	mint[1] = byte(n >> 8)
	mint[2] = 0x5A

	return &metadata.Record{Mint: mint, URI: uri}
}

func collect(ch <-chan Outcome) []Outcome {
	var out []Outcome
	for o := range ch {
		out = append(out, o)
	}
	return out
}

func TestResolveValidAndFailingHost(t *testing.T) {
	var failures atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.json":
			w.Write([]byte(validBody))
		default:
			failures.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	pool := NewPool(fastFetcher(), nil, 0)
	outcomes := collect(pool.Resolve(context.Background(), []*metadata.Record{
		record(1, srv.URL+"/ok.json"),
		record(2, srv.URL+"/broken.json"),
	}))

	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}

	var resolved, skipped int
	for _, o := range outcomes {
		if o.Skipped() {
			skipped++
			if o.Reason != SkipFetch || !errors.Is(o.Err, ErrFetch) {
				t.Errorf("unexpected skip: %s %v", o.Reason, o.Err)
			}
			continue
		}

		resolved++
		if o.Descriptor.Name != "A" || o.Descriptor.Attributes[0].TraitType != "Color" {
			t.Errorf("unexpected descriptor: %+v", o.Descriptor)
		}
	}

	if resolved != 1 || skipped != 1 {
		t.Errorf("resolved=%d skipped=%d", resolved, skipped)
	}

	// one attempt plus eight retries
	if got := failures.Load(); got != 9 {
		t.Errorf("expected 9 attempts on the failing host, got %d", got)
	}
}

func TestResolveParseFailureSkips(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"A","image":"u1"}`))
	}))
	defer srv.Close()

	outcomes := collect(NewPool(fastFetcher(), nil, 0).Resolve(context.Background(), []*metadata.Record{record(1, srv.URL)}))

	if len(outcomes) != 1 || outcomes[0].Reason != SkipParse || !errors.Is(outcomes[0].Err, descriptor.ErrSchema) {
		t.Errorf("expected parse skip, got %+v", outcomes)
	}
}

func TestResolveClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	outcomes := collect(NewPool(fastFetcher(), nil, 0).Resolve(context.Background(), []*metadata.Record{record(1, srv.URL)}))

	if len(outcomes) != 1 || outcomes[0].Reason != SkipFetch {
		t.Errorf("expected fetch skip, got %+v", outcomes)
	}

	if calls.Load() != 1 {
		t.Errorf("404 should not be retried, got %d calls", calls.Load())
	}
}

func TestResolveMalformedURI(t *testing.T) {
	records := []*metadata.Record{
		record(1, "::not a url"),
		record(2, ""),
		record(3, "ftp://example.invalid/x.json"),
	}

	outcomes := collect(NewPool(fastFetcher(), nil, 0).Resolve(context.Background(), records))

	if len(outcomes) != len(records) {
		t.Fatalf("expected %d outcomes, got %d", len(records), len(outcomes))
	}

	for _, o := range outcomes {
		if o.Reason != SkipFetch {
			t.Errorf("%q: expected fetch skip, got %q (%v)", o.URI, o.Reason, o.Err)
		}
	}
}

// TestResolveInFlightBoundHTTP checks the bound as seen by the remote host.
func TestResolveInFlightBoundHTTP(t *testing.T) {
	var current, peak atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}

		time.Sleep(20 * time.Millisecond)
		current.Add(-1)

		w.Write([]byte(validBody))
	}))
	defer srv.Close()

	records := make([]*metadata.Record, 300)
	for i := range records {
		records[i] = record(i, fmt.Sprintf("%s/%d.json", srv.URL, i))
	}

	outcomes := collect(NewPool(fastFetcher(), nil, DefaultMaxInFlight).Resolve(context.Background(), records))

	if len(outcomes) != len(records) {
		t.Fatalf("expected %d outcomes, got %d", len(records), len(outcomes))
	}

	for _, o := range outcomes {
		if o.Skipped() {
			t.Fatalf("unexpected skip: %v", o.Err)
		}
	}

	if p := peak.Load(); p > DefaultMaxInFlight {
		t.Errorf("peak in-flight %d exceeds %d", p, DefaultMaxInFlight)
	}
}

// countingFetcher tracks how many fetches run at once.
type countingFetcher struct {
	current, peak atomic.Int32
	calls         atomic.Int32
	delay         time.Duration
}

func (f *countingFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	f.calls.Add(1)
	n := f.current.Add(1)
	defer f.current.Add(-1)

	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	time.Sleep(f.delay)

	return []byte(validBody), nil
}

func TestResolveInFlightBoundCustomLimit(t *testing.T) {
	f := &countingFetcher{delay: 5 * time.Millisecond}

	records := make([]*metadata.Record, 100)
	for i := range records {
		records[i] = record(i, fmt.Sprintf("https://host/%d", i))
	}

	outcomes := collect(NewPool(f, nil, 8).Resolve(context.Background(), records))

	if len(outcomes) != 100 {
		t.Fatalf("expected 100 outcomes, got %d", len(outcomes))
	}

	if p := f.peak.Load(); p > 8 || p < 2 {
		t.Errorf("peak in-flight = %d, want within [2, 8]", p)
	}
}

// mapCache is an in-memory cache.Cache.
type mapCache struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func (m *mapCache) Get(_ context.Context, uri string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.entries[uri]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return b, nil
}

func (m *mapCache) Set(_ context.Context, uri string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[uri] = body
	return nil
}

func (m *mapCache) Close() error { return nil }

func TestResolveUsesCache(t *testing.T) {
	f := &countingFetcher{}
	c := &mapCache{entries: map[string][]byte{}}
	pool := NewPool(f, c, 4)

	records := []*metadata.Record{record(1, "https://host/1"), record(2, "https://host/2")}

	first := collect(pool.Resolve(context.Background(), records))
	second := collect(pool.Resolve(context.Background(), records))

	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("unexpected outcome counts %d/%d", len(first), len(second))
	}

	if f.calls.Load() != 2 {
		t.Errorf("expected 2 network fetches, got %d", f.calls.Load())
	}

	for _, o := range second {
		if o.Skipped() {
			t.Errorf("cached resolution skipped: %v", o.Err)
		}
	}
}

func TestResolveDoesNotCacheInvalidBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>gateway</html>`))
	}))
	defer srv.Close()

	c := &mapCache{entries: map[string][]byte{}}
	collect(NewPool(fastFetcher(), c, 1).Resolve(context.Background(), []*metadata.Record{record(1, srv.URL)}))

	if len(c.entries) != 0 {
		t.Errorf("invalid body was cached: %v", c.entries)
	}
}

func TestResolveLogsThroughContextLogger(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	log := slog.New(logger.NewHandler(&buf, slog.LevelDebug)).With("run", "r42")
	ctx := logger.NewContext(context.Background(), log)

	collect(NewPool(fastFetcher(), nil, 0).Resolve(ctx, []*metadata.Record{record(1, srv.URL)}))

	out := buf.String()
	if !strings.Contains(out, "[WRN] skipping record run=r42") {
		t.Errorf("skip line missing run attribute: %q", out)
	}

	if !strings.Contains(out, "[DBG] fetching descriptor run=r42") {
		t.Errorf("fetch line missing run attribute: %q", out)
	}
}
