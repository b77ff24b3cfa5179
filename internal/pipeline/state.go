package pipeline

import (
	"fmt"

	"github.com/lincot/metaplex-collection-scraper/internal/ledger"
)

// State is a stage of a run.
type State uint8

const (
	// StateStart is the initial state.
	StateStart State = iota

	// StateNameResolved follows a successful collection name lookup.
	StateNameResolved

	// StateDiscovering queries one layout variant, retrying until it succeeds.
	StateDiscovering

	// StateResolving fetches descriptors while the aggregator consumes them.
	StateResolving

	// StateFinalized is reached once every variant was discovered and resolved.
	StateFinalized
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateNameResolved:
		return "name-resolved"
	case StateDiscovering:
		return "discovering"
	case StateResolving:
		return "resolving"
	case StateFinalized:
		return "finalized"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Transition is one state change. Variant is meaningful only when
// HasVariant is set.
type Transition struct {
	From       State
	To         State
	Variant    ledger.Variant
	HasVariant bool
}

// String renders the transition for logs and test failures.
func (t Transition) String() string {
	if t.HasVariant {
		return fmt.Sprintf("%s -> %s(%s)", t.From, t.To, t.Variant)
	}

	return fmt.Sprintf("%s -> %s", t.From, t.To)
}
