// Package ledger discovers the metadata records of a collection.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/lincot/metaplex-collection-scraper/internal/logger"
	"github.com/lincot/metaplex-collection-scraper/internal/metadata"
	"github.com/lincot/metaplex-collection-scraper/internal/retry"
)

// Client runs collection queries against a Ledger.
type Client struct {
	ledger Ledger       // ledger is the remote query service
	policy retry.Policy // policy governs retries of failed program queries
}

// NewClient creates a discovery client retrying program queries per policy.
func NewClient(l Ledger, policy retry.Policy) *Client {
	return &Client{ledger: l, policy: policy}
}

// ResolveCollectionName looks up and decodes the collection's own metadata.
// It is not retried: a run cannot start without the name.
func (c *Client) ResolveCollectionName(ctx context.Context, collection solana.PublicKey) (string, error) {
	addr, err := metadata.FindMetadataAddress(collection)
	if err != nil {
		return "", err
	}

	data, err := c.ledger.AccountData(ctx, addr)
	if err != nil {
		return "", fmt.Errorf("fetch collection metadata:\n%w", err)
	}

	rec, err := metadata.Decode(data)
	if err != nil {
		return "", fmt.Errorf("collection metadata %s:\n%w", addr, err)
	}

	return rec.Name, nil
}

// Discover returns every member record stored in the given layout.
// Failed queries are retried per the client's policy, which is unbounded
// by default.
func (c *Client) Discover(ctx context.Context, collection solana.PublicKey, v Variant) ([]KeyedAccount, error) {
	offset, ok := v.Offset()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVariant, uint8(v))
	}

	filter := Filter{
		DataSize: metadata.AccountSize,
		Offset:   offset,
		Bytes:    collection.Bytes(),
	}

	var accounts []KeyedAccount

	onRetry := func(attempt int, err error, wait time.Duration) {
		logger.FromContext(ctx).Warn("program query failed, retrying",
			"variant", v,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}

	err := retry.Do(ctx, c.policy, onRetry, func(ctx context.Context) error {
		var err error
		accounts, err = c.ledger.ProgramAccounts(ctx, metadata.ProgramID, filter)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("discover %s records:\n%w", v, err)
	}

	return accounts, nil
}
