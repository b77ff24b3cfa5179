package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gagliardetto/solana-go"

	"github.com/lincot/metaplex-collection-scraper/internal/cache"
	"github.com/lincot/metaplex-collection-scraper/internal/config"
	"github.com/lincot/metaplex-collection-scraper/internal/ledger"
	"github.com/lincot/metaplex-collection-scraper/internal/logger"
	"github.com/lincot/metaplex-collection-scraper/internal/pipeline"
	"github.com/lincot/metaplex-collection-scraper/internal/report"
	"github.com/lincot/metaplex-collection-scraper/internal/resolver"
)

// ErrUsage is returned when the collection argument is missing or malformed.
var ErrUsage = errors.New("usage: scraper <collection-address>")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// run is the main entry point with error handling.
func run(ctx context.Context, args []string) error {
	collection, err := parseArgs(args)
	if err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger.Init(logger.ParseLevel(cfg.LogLevel))

	endpoint, err := cfg.Ledger.Endpoint()
	if err != nil {
		return err
	}

	descriptors, err := cache.Open(cfg.Cache.Options())
	if err != nil {
		return fmt.Errorf("open cache:\n%w", err)
	}
	defer descriptors.Close()

	printStartupInfo(cfg, collection)

	httpCfg := cfg.Fetch.HTTP()
	httpCfg.Logger = logger.With("component", "fetch")

	discovery := ledger.NewClient(ledger.NewRPC(endpoint), cfg.Ledger.Policy())
	pool := resolver.NewPool(resolver.NewHTTPFetcher(httpCfg), descriptors, cfg.Fetch.MaxInFlight)

	summary, err := pipeline.New(discovery, pool, pipeline.Options{}).Run(ctx, collection)
	if err != nil {
		return err
	}

	path, err := report.Writer{Dir: cfg.OutputDir}.Write(args[0], summary.Report)
	if err != nil {
		return fmt.Errorf("write report:\n%w", err)
	}

	logger.Info("report written",
		"path", path,
		"accepted", summary.Accepted,
		"skipped", summary.Skipped,
		"elapsed", summary.Elapsed,
	)

	return nil
}

// parseArgs validates the single positional collection address.
func parseArgs(args []string) (solana.PublicKey, error) {
	if len(args) != 1 {
		return solana.PublicKey{}, ErrUsage
	}

	collection, err := solana.PublicKeyFromBase58(args[0])
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: invalid collection address %q: %v", ErrUsage, args[0], err)
	}

	return collection, nil
}

// printStartupInfo displays the run configuration.
func printStartupInfo(cfg *config.Config, collection solana.PublicKey) {
	logger.Info("starting collection scrape",
		"collection", collection,
		"out", cfg.OutputDir,
		"max_in_flight", cfg.Fetch.MaxInFlight,
		"fetch_retries", cfg.Fetch.Retries,
		"cache", cfg.Cache.Kind,
	)
}
