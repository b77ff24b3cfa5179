// Package config loads scraper and viewer settings from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/lincot/metaplex-collection-scraper/internal/cache"
	"github.com/lincot/metaplex-collection-scraper/internal/resolver"
	"github.com/lincot/metaplex-collection-scraper/internal/retry"
)

// ErrNoEndpoint is returned when no ledger endpoint is configured.
var ErrNoEndpoint = errors.New("no ledger endpoint: set SOLANA_RPC_URL or ANCHOR_PROVIDER_URL")

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all settings loaded from environment variables.
type Config struct {
	Ledger LedgerConfig
	Fetch  FetchConfig
	Cache  CacheConfig
	Viewer ViewerConfig

	OutputDir string `envconfig:"SCRAPER_OUTPUT_DIR" default:"collections"`
	LogLevel  string `envconfig:"SCRAPER_LOG_LEVEL" default:"info"`
}

// LedgerConfig holds the RPC endpoint and discovery retry settings.
type LedgerConfig struct {
	SolanaURL string `envconfig:"SOLANA_RPC_URL" default:""`
	AnchorURL string `envconfig:"ANCHOR_PROVIDER_URL" default:""`

	RetryDelay  time.Duration `envconfig:"SCRAPER_DISCOVERY_RETRY_DELAY" default:"5s"`
	MaxAttempts int           `envconfig:"SCRAPER_DISCOVERY_MAX_ATTEMPTS" default:"0"` // 0 retries forever
}

// FetchConfig holds descriptor fetch settings.
type FetchConfig struct {
	MaxInFlight int           `envconfig:"SCRAPER_MAX_IN_FLIGHT" default:"64"`
	Retries     int           `envconfig:"SCRAPER_FETCH_RETRIES" default:"8"`
	RetryMin    time.Duration `envconfig:"SCRAPER_FETCH_RETRY_MIN" default:"1s"`
	RetryMax    time.Duration `envconfig:"SCRAPER_FETCH_RETRY_MAX" default:"30s"`
	Timeout     time.Duration `envconfig:"SCRAPER_FETCH_TIMEOUT" default:"30s"`
	MaxBody     int64         `envconfig:"SCRAPER_MAX_BODY" default:"4194304"`
}

// CacheConfig holds descriptor cache settings.
type CacheConfig struct {
	Kind string        `envconfig:"SCRAPER_CACHE" default:"none"` // none, pebble or redis
	Path string        `envconfig:"SCRAPER_CACHE_PATH" default:".cache/descriptors"`
	TTL  time.Duration `envconfig:"SCRAPER_CACHE_TTL" default:"24h"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`
}

// ViewerConfig holds report viewer settings.
type ViewerConfig struct {
	Addr           string   `envconfig:"VIEWER_ADDR" default:":8080"`
	AllowedOrigins []string `envconfig:"VIEWER_ALLOWED_ORIGINS" default:"*"`
}

// Endpoint returns the ledger endpoint, preferring SOLANA_RPC_URL.
func (l *LedgerConfig) Endpoint() (string, error) {
	if l.SolanaURL != "" {
		return l.SolanaURL, nil
	}

	if l.AnchorURL != "" {
		return l.AnchorURL, nil
	}

	return "", ErrNoEndpoint
}

// Policy returns the discovery retry policy.
func (l *LedgerConfig) Policy() retry.Policy {
	p := retry.Fixed(l.RetryDelay)
	p.MaxAttempts = l.MaxAttempts
	return p
}

// Policy returns the per-descriptor retry policy.
func (f *FetchConfig) Policy() retry.Policy {
	return retry.Exponential(f.RetryMin, f.RetryMax, f.Retries)
}

// HTTP returns the fetcher settings.
func (f *FetchConfig) HTTP() resolver.HTTPConfig {
	return resolver.HTTPConfig{
		Retry:          f.Policy(),
		Timeout:        f.Timeout,
		MaxBody:        f.MaxBody,
		MaxIdlePerHost: f.MaxInFlight,
	}
}

// Options returns the backend selection for cache.Open.
func (c *CacheConfig) Options() cache.Options {
	return cache.Options{
		Kind:          c.Kind,
		Path:          c.Path,
		TTL:           c.TTL,
		RedisAddr:     c.RedisAddr,
		RedisPassword: c.RedisPassword,
		RedisDB:       c.RedisDB,
	}
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Fetch.Retries < 0 {
		return nil, fmt.Errorf("SCRAPER_FETCH_RETRIES must not be negative, got %d", cfg.Fetch.Retries)
	}

	if cfg.Fetch.MaxInFlight <= 0 {
		return nil, fmt.Errorf("SCRAPER_MAX_IN_FLIGHT must be positive, got %d", cfg.Fetch.MaxInFlight)
	}

	return &cfg, nil
}
