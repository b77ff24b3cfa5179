// Package aggregate accumulates resolved collection members into a report.
package aggregate

import (
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/lincot/metaplex-collection-scraper/internal/descriptor"
)

// Report is the aggregated view of one collection.
type Report struct {
	CollectionName string   `json:"collection_name"`
	TraitTypes     []string `json:"trait_types"`
	Tokens         []Token  `json:"tokens"`
}

// Aggregator collects tokens and their trait types.
// It is safe for concurrent use and its result does not depend on the
// order of Observe calls.
type Aggregator struct {
	mu      sync.Mutex
	name    string                        // name is the collection name
	traits  map[string]struct{}           // traits is the set of trait types seen
	tokens  []Token                       // tokens in the order they were observed
	seen    map[solana.PublicKey]struct{} // seen holds observed mints
	skipped int                           // skipped counts skipped records
}

// New creates an aggregator for the named collection.
func New(collectionName string) *Aggregator {
	return &Aggregator{
		name:   collectionName,
		traits: make(map[string]struct{}, 32),
		tokens: make([]Token, 0, 1024),
		seen:   make(map[solana.PublicKey]struct{}, 1024),
	}
}

// Observe records a resolved mint.
// It returns false, changing nothing, if the mint was already observed.
func (a *Aggregator) Observe(mint solana.PublicKey, d *descriptor.Descriptor) bool {
	token := NewToken(mint, d)

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, dup := a.seen[mint]; dup {
		return false
	}
	a.seen[mint] = struct{}{}

	for k := range token.Traits {
		a.traits[k] = struct{}{}
	}
	a.tokens = append(a.tokens, token)

	return true
}

// Skip counts one record that produced no token.
func (a *Aggregator) Skip() {
	a.mu.Lock()
	a.skipped++
	a.mu.Unlock()
}

// Skipped returns the number of skipped records.
func (a *Aggregator) Skipped() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.skipped
}

// Len returns the number of tokens observed.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return len(a.tokens)
}

// Report returns a snapshot of the accumulated state.
// Trait types are sorted so the document is stable across runs.
func (a *Aggregator) Report() *Report {
	a.mu.Lock()
	defer a.mu.Unlock()

	traits := make([]string, 0, len(a.traits))
	for k := range a.traits {
		traits = append(traits, k)
	}
	sort.Strings(traits)

	tokens := make([]Token, len(a.tokens))
	copy(tokens, a.tokens)

	return &Report{
		CollectionName: a.name,
		TraitTypes:     traits,
		Tokens:         tokens,
	}
}
