package metadata

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

const (
	// AccountSize is the exact data length of a current-layout metadata account.
	AccountSize = 679

	// keyMetadataV1 is the account discriminator of a metadata account.
	keyMetadataV1 = 4

	// creatorSize is the Borsh size of one creator entry: pubkey + verified + share.
	creatorSize = 32 + 1 + 1
)

// ProgramID is the Metaplex Token Metadata program.
var ProgramID = solana.MustPublicKeyFromBase58("metaqbxxUerdq28cj1RbAWkYQm3ybzjb6a8bQ518x1s")

// ErrDecode is wrapped by every decoding failure.
var ErrDecode = errors.New("decode metadata")

// Collection is the optional verified-collection link of a record.
type Collection struct {
	Verified bool             // Verified is set once the collection authority signed
	Key      solana.PublicKey // Key is the collection mint
}

// Record is one decoded metadata account.
type Record struct {
	UpdateAuthority solana.PublicKey // UpdateAuthority may change the record
	Mint            solana.PublicKey // Mint is the item's own identity
	Name            string           // Name is truncated at the first NUL
	Symbol          string           // Symbol is truncated at the first NUL
	URI             string           // URI points at the off-chain descriptor
	SellerFeeBps    uint16           // SellerFeeBps is the royalty in basis points
	Creators        int              // Creators is the number of creator entries
	TokenStandard   *uint8           // TokenStandard is nil on older layouts
	Collection      *Collection      // Collection is nil when unset
}

// Decode parses a metadata account in Borsh format.
// Trailing optional fields missing from older layouts decode as absent.
func Decode(data []byte) (*Record, error) {
	r := &reader{data: data}

	key, err := r.u8()
	if err != nil {
		return nil, decodeErr("key", err)
	}
	if key != keyMetadataV1 {
		return nil, fmt.Errorf("%w: unexpected account key %d", ErrDecode, key)
	}

	rec := &Record{}

	if rec.UpdateAuthority, err = r.pubkey(); err != nil {
		return nil, decodeErr("update authority", err)
	}
	if rec.Mint, err = r.pubkey(); err != nil {
		return nil, decodeErr("mint", err)
	}

	name, err := r.bytes()
	if err != nil {
		return nil, decodeErr("name", err)
	}
	rec.Name = TruncateNUL(name)

	symbol, err := r.bytes()
	if err != nil {
		return nil, decodeErr("symbol", err)
	}
	rec.Symbol = TruncateNUL(symbol)

	uri, err := r.bytes()
	if err != nil {
		return nil, decodeErr("uri", err)
	}
	rec.URI = string(bytes.TrimRight(uri, "\x00"))

	if rec.SellerFeeBps, err = r.u16(); err != nil {
		return nil, decodeErr("seller fee", err)
	}

	if err := decodeTail(r, rec); err != nil {
		return nil, err
	}

	return rec, nil
}

// decodeTail reads the fields following the data struct.
func decodeTail(r *reader, rec *Record) error {
	hasCreators, err := r.option()
	if err != nil {
		return decodeErr("creators", err)
	}
	if hasCreators {
		n, err := r.u32()
		if err != nil {
			return decodeErr("creators length", err)
		}
		if err := r.skip(int(n) * creatorSize); err != nil {
			return decodeErr("creators", err)
		}
		rec.Creators = int(n)
	}

	// primary_sale_happened, is_mutable
	if err := r.skip(2); err != nil {
		return decodeErr("flags", err)
	}

	// Everything past this point was appended by later program versions.
	if r.done() {
		return nil
	}

	if _, err := r.optionU8(); err != nil {
		return decodeErr("edition nonce", err)
	}
	if r.done() {
		return nil
	}

	if rec.TokenStandard, err = r.optionU8(); err != nil {
		return decodeErr("token standard", err)
	}
	if r.done() {
		return nil
	}

	hasCollection, err := r.option()
	if err != nil {
		return decodeErr("collection", err)
	}
	if hasCollection {
		verified, err := r.u8()
		if err != nil {
			return decodeErr("collection verified", err)
		}
		key, err := r.pubkey()
		if err != nil {
			return decodeErr("collection key", err)
		}
		rec.Collection = &Collection{Verified: verified != 0, Key: key}
	}

	return nil
}

// TruncateNUL returns b up to its first NUL byte, or all of b when none.
func TruncateNUL(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}

	return string(b)
}

// FindMetadataAddress derives the metadata account of a mint.
func FindMetadataAddress(mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("metadata"), ProgramID[:], mint[:]},
		ProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive metadata address:\n%w", err)
	}

	return addr, nil
}

func decodeErr(field string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrDecode, field, err)
}
