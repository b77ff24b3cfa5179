package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lincot/metaplex-collection-scraper/internal/config"
	"github.com/lincot/metaplex-collection-scraper/internal/logger"
	"github.com/lincot/metaplex-collection-scraper/internal/report"
	"github.com/lincot/metaplex-collection-scraper/internal/viewer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run is the main entry point with error handling.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	addr := flag.String("addr", cfg.Viewer.Addr, "HTTP listen address")
	dir := flag.String("dir", cfg.OutputDir, "Report directory")
	flag.Parse()

	logger.Init(logger.ParseLevel(cfg.LogLevel))

	srv := viewer.New(*addr, report.Writer{Dir: *dir}, cfg.Viewer.AllowedOrigins)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start viewer:\n%w", err)
	}

	logger.Info("serving reports", "dir", *dir, "origins", cfg.Viewer.AllowedOrigins)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")

	return srv.Stop()
}
