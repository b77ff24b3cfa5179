// Package cache stores fetched descriptor bodies between runs.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache stores descriptor bodies by URI.
type Cache interface {
	// Get returns the body cached for uri. Returns ErrCacheMiss if absent or expired.
	Get(ctx context.Context, uri string) ([]byte, error)

	// Set stores body for uri.
	Set(ctx context.Context, uri string, body []byte) error

	// Close releases the backend.
	Close() error
}

// CacheError is a sentinel cache error.
type CacheError string

func (e CacheError) Error() string { return string(e) }

const (
	// ErrCacheMiss indicates the key was not found in cache.
	ErrCacheMiss CacheError = "cache miss"
)

// Options selects and configures a backend.
type Options struct {
	Kind          string        // Kind is "", "none", "pebble" or "redis"
	Path          string        // Path is the pebble directory
	TTL           time.Duration // TTL is how long entries stay valid; zero keeps them forever
	RedisAddr     string        // RedisAddr is host:port of the redis server
	RedisPassword string        // RedisPassword authenticates to redis
	RedisDB       int           // RedisDB selects the redis database
}

// Open returns the backend named by opts.Kind.
func Open(opts Options) (Cache, error) {
	switch opts.Kind {
	case "", "none":
		return Noop{}, nil
	case "pebble":
		return OpenPebble(opts.Path, opts.TTL)
	case "redis":
		return OpenRedis(opts.RedisAddr, opts.RedisPassword, opts.RedisDB, opts.TTL)
	default:
		return nil, fmt.Errorf("unknown cache kind %q", opts.Kind)
	}
}

// Noop caches nothing.
type Noop struct{}

// Get always misses.
func (Noop) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

// Set discards body.
func (Noop) Set(context.Context, string, []byte) error { return nil }

// Close does nothing.
func (Noop) Close() error { return nil }

// expired reports whether an entry fetched at fetchedAt is past ttl.
func expired(fetchedAt time.Time, ttl time.Duration, now time.Time) bool {
	return ttl > 0 && now.Sub(fetchedAt) > ttl
}
