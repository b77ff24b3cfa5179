package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/lincot/metaplex-collection-scraper/internal/logger"
)

const (
	// defaultSyncInterval is the default interval between WAL syncs.
	defaultSyncInterval = time.Second
)

// keyPrefix namespaces descriptor entries in the store.
var keyPrefix = []byte("desc/")

// Pebble is a disk cache backed by Pebble.
// Writes are non-blocking (NoSync) and a background goroutine
// periodically syncs the WAL to disk.
type Pebble struct {
	db       *pebble.DB    // db is the underlying Pebble database
	codec    *codec        // codec encodes stored entries
	ttl      time.Duration // ttl bounds entry age
	now      func() time.Time
	stopSync chan struct{} // stopSync signals the sync goroutine to stop
	wg       sync.WaitGroup
}

// OpenPebble opens or creates the cache at path and drops expired entries.
func OpenPebble(path string, ttl time.Duration) (*Pebble, error) {
	if path == "" {
		return nil, errors.New("pebble cache needs a path")
	}

	opts := &pebble.Options{
		Cache:                       pebble.NewCache(32 << 20), // 32 MB cache
		MemTableSize:                16 << 20,                  // 16 MB memtable
		MemTableStopWritesThreshold: 2,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("open pebble cache:\n%w", err)
	}

	c, err := newCodec()
	if err != nil {
		db.Close()
		return nil, err
	}

	p := &Pebble{
		db:       db,
		codec:    c,
		ttl:      ttl,
		now:      time.Now,
		stopSync: make(chan struct{}),
	}

	purged, err := p.Purge()
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("purge expired entries:\n%w", err)
	}

	if purged > 0 {
		logger.Info("purged expired cache entries", "count", purged, "path", path)
	}

	p.startSyncLoop()

	return p, nil
}

// Get implements Cache.
func (p *Pebble) Get(_ context.Context, uri string) ([]byte, error) {
	value, closer, err := p.db.Get(storeKey(uri))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	// decode copies the body out of value before closer runs
	e, err := p.codec.decode(value)
	if err != nil {
		return nil, err
	}

	if e.URI != uri || expired(e.FetchedAt, p.ttl, p.now()) {
		return nil, ErrCacheMiss
	}

	return e.Body, nil
}

// Set implements Cache.
func (p *Pebble) Set(_ context.Context, uri string, body []byte) error {
	value := p.codec.encode(Entry{URI: uri, FetchedAt: p.now(), Body: body})

	return p.db.Set(storeKey(uri), value, pebble.NoSync)
}

// Purge deletes every expired or unreadable entry and returns how many
// were removed.
func (p *Pebble) Purge() (int, error) {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: keyPrefix,
		UpperBound: prefixUpperBound(keyPrefix),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()

	batch := p.db.NewBatch()
	defer batch.Close()

	now := p.now()
	removed := 0

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return removed, err
		}

		e, err := p.codec.decode(value)
		if err == nil && !expired(e.FetchedAt, p.ttl, now) {
			continue
		}

		if err := batch.Delete(iter.Key(), nil); err != nil {
			return removed, err
		}
		removed++
	}

	if err := iter.Error(); err != nil {
		return removed, err
	}

	return removed, batch.Commit(pebble.NoSync)
}

// Close stops the sync goroutine and closes the database.
// It performs a final sync before closing.
func (p *Pebble) Close() error {
	select {
	case <-p.stopSync:
	default:
		close(p.stopSync)
	}
	p.wg.Wait()

	defer p.codec.close()

	if err := p.db.LogData(nil, pebble.Sync); err != nil {
		p.db.Close()
		return err
	}

	return p.db.Close()
}

// startSyncLoop starts the background goroutine that periodically syncs the WAL.
func (p *Pebble) startSyncLoop() {
	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(defaultSyncInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				_ = p.db.LogData(nil, pebble.Sync)
			case <-p.stopSync:
				return
			}
		}
	}()
}

// storeKey returns the pebble key of uri.
func storeKey(uri string) []byte {
	h := Key(uri)
	key := make([]byte, 0, len(keyPrefix)+len(h))
	key = append(key, keyPrefix...)

	return append(key, h[:]...)
}

// prefixUpperBound computes the exclusive upper bound for a prefix scan.
// Increments the last byte; returns nil if prefix is all 0xFF (full range).
func prefixUpperBound(prefix []byte) []byte {
	upper := make([]byte, len(prefix))
	copy(upper, prefix)

	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper
		}
	}

	return nil
}
