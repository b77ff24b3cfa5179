// Package pipeline runs one collection scrape from name lookup to report.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/lincot/metaplex-collection-scraper/internal/aggregate"
	"github.com/lincot/metaplex-collection-scraper/internal/ledger"
	"github.com/lincot/metaplex-collection-scraper/internal/logger"
	"github.com/lincot/metaplex-collection-scraper/internal/metadata"
	"github.com/lincot/metaplex-collection-scraper/internal/resolver"
)

// Discoverer finds the records of a collection.
type Discoverer interface {
	ResolveCollectionName(ctx context.Context, collection solana.PublicKey) (string, error)
	Discover(ctx context.Context, collection solana.PublicKey, v ledger.Variant) ([]ledger.KeyedAccount, error)
}

// Resolver turns records into outcomes, one per record, in any order.
type Resolver interface {
	Resolve(ctx context.Context, records []*metadata.Record) <-chan resolver.Outcome
}

// Summary describes a finished run.
type Summary struct {
	RunID       string            // RunID tags every log line of the run
	Report      *aggregate.Report // Report is the final aggregate
	Accepted    int               // Accepted is the number of tokens
	Skipped     int               // Skipped is the number of records the pool skipped
	Undecodable int               // Undecodable is the number of accounts that failed to decode
	Duplicates  int               // Duplicates is the number of mints already seen in an earlier layout
	Excluded    int               // Excluded counts records of the collection mint itself
	Elapsed     time.Duration     // Elapsed is the wall time of the run
}

// Options tunes a Pipeline.
type Options struct {
	// Variants are the layouts queried, in order. Empty means ledger.Variants().
	Variants []ledger.Variant

	// OnTransition, if set, observes every state change.
	OnTransition func(Transition)
}

// Pipeline wires discovery, resolution and aggregation.
type Pipeline struct {
	discovery Discoverer
	resolver  Resolver
	opts      Options
}

// New creates a pipeline.
func New(d Discoverer, r Resolver, opts Options) *Pipeline {
	if len(opts.Variants) == 0 {
		opts.Variants = ledger.Variants()
	}

	return &Pipeline{discovery: d, resolver: r, opts: opts}
}

// run holds the state of one Run call.
type run struct {
	p          *Pipeline
	log        *slog.Logger
	state      State
	collection solana.PublicKey
	agg        *aggregate.Aggregator
	seen       map[solana.PublicKey]struct{} // seen holds mints fed to the resolver
	summary    Summary
}

// Run scrapes collection. Any error is fatal and no report is produced.
// Unknown variants in Options are rejected before any query.
func (p *Pipeline) Run(ctx context.Context, collection solana.PublicKey) (*Summary, error) {
	for _, v := range p.opts.Variants {
		if !v.Valid() {
			return nil, fmt.Errorf("%w: %d", ledger.ErrUnknownVariant, uint8(v))
		}
	}

	start := time.Now()
	id := uuid.NewString()

	r := &run{
		p:          p,
		log:        logger.With("run", id),
		collection: collection,
		seen:       make(map[solana.PublicKey]struct{}, 1024),
		summary:    Summary{RunID: id},
	}

	ctx = logger.NewContext(ctx, r.log)

	r.log.Info("fetching collection metadata", "collection", collection)

	name, err := p.discovery.ResolveCollectionName(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("resolve collection name:\n%w", err)
	}

	r.agg = aggregate.New(name)
	r.enter(StateNameResolved, nil)

	for _, v := range p.opts.Variants {
		if err := r.scanVariant(ctx, v); err != nil {
			return nil, err
		}
	}

	r.enter(StateFinalized, nil)

	r.summary.Report = r.agg.Report()
	r.summary.Accepted = r.agg.Len()
	r.summary.Skipped = r.agg.Skipped()
	r.summary.Elapsed = time.Since(start)

	r.log.Info("run finished",
		"collection_name", name,
		"tokens", r.summary.Accepted,
		"skipped", r.summary.Skipped,
		"undecodable", r.summary.Undecodable,
		logger.Timed(start),
	)

	return &r.summary, nil
}

// scanVariant discovers one layout and resolves its records.
func (r *run) scanVariant(ctx context.Context, v ledger.Variant) error {
	r.enter(StateDiscovering, &v)

	accounts, err := r.p.discovery.Discover(ctx, r.collection, v)
	if err != nil {
		return err
	}

	records := r.decode(accounts)

	r.log.Info("discovered records", "variant", v, "accounts", len(accounts), "records", len(records))

	r.enter(StateResolving, &v)

	for o := range r.p.resolver.Resolve(ctx, records) {
		if o.Skipped() {
			r.agg.Skip()
			continue
		}

		r.agg.Observe(o.Mint, o.Descriptor)
	}

	return nil
}

// decode turns accounts into records, dropping undecodable accounts,
// mints already fed to the resolver and the collection mint itself.
func (r *run) decode(accounts []ledger.KeyedAccount) []*metadata.Record {
	records := make([]*metadata.Record, 0, len(accounts))

	for _, acc := range accounts {
		rec, err := metadata.Decode(acc.Data)
		if err != nil {
			r.summary.Undecodable++
			r.log.Warn("skipping undecodable account", "account", acc.Key, "error", err)
			continue
		}

		if rec.Mint == r.collection {
			r.summary.Excluded++
			continue
		}

		if _, dup := r.seen[rec.Mint]; dup {
			r.summary.Duplicates++
			continue
		}
		r.seen[rec.Mint] = struct{}{}

		records = append(records, rec)
	}

	return records
}

// enter moves the run to s and reports the transition.
func (r *run) enter(s State, v *ledger.Variant) {
	t := Transition{From: r.state, To: s}
	if v != nil {
		t.Variant = *v
		t.HasVariant = true
	}
	r.state = s

	if t.HasVariant {
		r.log.Debug("state", "from", t.From, "to", t.To, "variant", t.Variant)
	} else {
		r.log.Debug("state", "from", t.From, "to", t.To)
	}

	if r.p.opts.OnTransition != nil {
		r.p.opts.OnTransition(t)
	}
}
