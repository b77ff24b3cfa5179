package ledger

import (
	"errors"
	"fmt"
)

// ErrUnknownVariant is returned for a layout value outside the known layouts.
var ErrUnknownVariant = errors.New("unknown layout variant")

// Variant is a known on-chain layout of member records. Layouts differ in
// where the collection key lands, so each is queried with its own offset.
type Variant uint8

const (
	// VariantPreTokenStandard stores no token standard before the collection.
	VariantPreTokenStandard Variant = iota

	// VariantTokenStandard stores a one-byte token standard before the collection.
	VariantTokenStandard
)

// variants lists every layout in query order with its collection-key offset.
var variants = []struct {
	v      Variant
	name   string
	offset uint64
}{
	{VariantPreTokenStandard, "pre-token-standard", 401},
	{VariantTokenStandard, "token-standard", 402},
}

// Variants returns every known layout in query order.
func Variants() []Variant {
	out := make([]Variant, len(variants))
	for i, e := range variants {
		out[i] = e.v
	}

	return out
}

// Offset returns the byte offset of the collection key in this layout.
// Returns false for a value outside the known layouts.
func (v Variant) Offset() (uint64, bool) {
	for _, e := range variants {
		if e.v == v {
			return e.offset, true
		}
	}

	return 0, false
}

// Valid reports whether v is a known layout.
func (v Variant) Valid() bool {
	_, ok := v.Offset()
	return ok
}

// String returns the layout name.
func (v Variant) String() string {
	for _, e := range variants {
		if e.v == v {
			return e.name
		}
	}

	return fmt.Sprintf("variant(%d)", uint8(v))
}
