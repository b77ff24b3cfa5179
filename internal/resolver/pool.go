// Package resolver fetches and parses the off-chain descriptors of
// decoded metadata records.
package resolver

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"

	"github.com/lincot/metaplex-collection-scraper/internal/cache"
	"github.com/lincot/metaplex-collection-scraper/internal/descriptor"
	"github.com/lincot/metaplex-collection-scraper/internal/logger"
	"github.com/lincot/metaplex-collection-scraper/internal/metadata"
)

const (
	// DefaultMaxInFlight bounds concurrent resolutions.
	DefaultMaxInFlight = 64
)

// SkipReason classifies why a record produced no descriptor.
type SkipReason string

const (
	// SkipFetch means the document could not be retrieved.
	SkipFetch SkipReason = "fetch"

	// SkipParse means the document did not match the descriptor schema.
	SkipParse SkipReason = "parse"
)

// Outcome is the result of resolving one record.
// Exactly one of Descriptor and Reason is set.
type Outcome struct {
	Mint       solana.PublicKey       // Mint identifies the record
	URI        string                 // URI is the descriptor address
	Descriptor *descriptor.Descriptor // Descriptor is set on success
	Reason     SkipReason             // Reason is set when skipped
	Err        error                  // Err is the cause of a skip
}

// Skipped reports whether the record was skipped.
func (o Outcome) Skipped() bool {
	return o.Descriptor == nil
}

// Pool resolves records with bounded concurrency.
type Pool struct {
	fetcher     Fetcher     // fetcher retrieves documents
	cache       cache.Cache // cache holds previously parsed bodies
	maxInFlight int         // maxInFlight bounds concurrent resolutions
}

// NewPool creates a pool running at most maxInFlight resolutions at once.
// A nil cache disables caching; maxInFlight <= 0 uses DefaultMaxInFlight.
func NewPool(f Fetcher, c cache.Cache, maxInFlight int) *Pool {
	if c == nil {
		c = cache.Noop{}
	}
	if maxInFlight <= 0 {
		maxInFlight = DefaultMaxInFlight
	}

	return &Pool{fetcher: f, cache: c, maxInFlight: maxInFlight}
}

// Resolve starts resolving records and returns their outcomes in
// completion order. The channel is closed after one outcome per record.
// A slot is held until its outcome is received, so a slow consumer slows
// the pool instead of buffering responses.
func (p *Pool) Resolve(ctx context.Context, records []*metadata.Record) <-chan Outcome {
	out := make(chan Outcome)

	go func() {
		defer close(out)

		var g errgroup.Group
		g.SetLimit(p.maxInFlight)

		for _, rec := range records {
			rec := rec
			g.Go(func() error {
				out <- p.resolve(ctx, rec)
				return nil
			})
		}

		_ = g.Wait()
	}()

	return out
}

// resolve fetches and parses one record's descriptor.
func (p *Pool) resolve(ctx context.Context, rec *metadata.Record) Outcome {
	o := Outcome{Mint: rec.Mint, URI: rec.URI}

	body, cached := p.lookup(ctx, rec.URI)
	if !cached {
		logger.FromContext(ctx).Debug("fetching descriptor", "uri", rec.URI)

		var err error
		if body, err = p.fetcher.Fetch(ctx, rec.URI); err != nil {
			return skip(ctx, o, SkipFetch, err)
		}
	}

	d, err := descriptor.Parse(body)
	if err != nil {
		return skip(ctx, o, SkipParse, err)
	}

	if !cached {
		if err := p.cache.Set(ctx, rec.URI, body); err != nil {
			logger.FromContext(ctx).Warn("cache write failed", "uri", rec.URI, "error", err)
		}
	}

	o.Descriptor = d

	return o
}

// lookup returns a cached body; cache failures are treated as misses.
func (p *Pool) lookup(ctx context.Context, uri string) ([]byte, bool) {
	body, err := p.cache.Get(ctx, uri)
	if err == nil {
		return body, true
	}

	if !errors.Is(err, cache.ErrCacheMiss) {
		logger.FromContext(ctx).Warn("cache read failed", "uri", uri, "error", err)
	}

	return nil, false
}

// skip marks o as skipped and logs it with the logger carried by ctx.
func skip(ctx context.Context, o Outcome, reason SkipReason, err error) Outcome {
	logger.FromContext(ctx).Warn("skipping record",
		"mint", o.Mint,
		"uri", o.URI,
		"reason", reason,
		"error", err,
	)

	o.Reason = reason
	o.Err = err

	return o
}
