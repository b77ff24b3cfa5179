package aggregate

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/gagliardetto/solana-go"
	"github.com/goccy/go-json"

	"github.com/lincot/metaplex-collection-scraper/internal/descriptor"
)

const (
	keyName        = "name__"
	keyImage       = "image__"
	keyMintAddress = "mint_address"
)

// Token is one resolved collection member.
type Token struct {
	Name        string         // Name is the descriptor's display name
	Image       string         // Image is the descriptor's image URI
	MintAddress string         // MintAddress is the base58 mint
	Traits      map[string]any // Traits maps trait type to its last declared value
}

// NewToken joins a mint with its descriptor.
// A trait type declared twice keeps the later value.
func NewToken(mint solana.PublicKey, d *descriptor.Descriptor) Token {
	traits := make(map[string]any, len(d.Attributes))
	for _, attr := range d.Attributes {
		traits[attr.TraitType] = attr.Value
	}

	return Token{
		Name:        d.Name,
		Image:       d.Image,
		MintAddress: mint.String(),
		Traits:      traits,
	}
}

// TraitKeys returns the token's trait types in ascending order.
func (t Token) TraitKeys() []string {
	keys := make([]string, 0, len(t.Traits))
	for k := range t.Traits {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}

// MarshalJSON writes the fixed fields followed by every trait as a
// sibling key, ordered by trait type.
func (t Token) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	write := func(key string, value any) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}

		k, err := json.Marshal(key)
		if err != nil {
			return err
		}
		v, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("trait %q:\n%w", key, err)
		}

		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)

		return nil
	}

	if err := write(keyName, t.Name); err != nil {
		return nil, err
	}
	if err := write(keyImage, t.Image); err != nil {
		return nil, err
	}
	if err := write(keyMintAddress, t.MintAddress); err != nil {
		return nil, err
	}

	for _, k := range t.TraitKeys() {
		if err := write(k, t.Traits[k]); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// UnmarshalJSON reads a token written by MarshalJSON. The first
// occurrence of each fixed key sets the field; a later key with the same
// name is a trait that collided with it.
func (t *Token) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	open, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := open.(json.Delim); !ok || d != '{' {
		return errors.New("token: expected object")
	}

	fixed := map[string]*string{
		keyName:        &t.Name,
		keyImage:       &t.Image,
		keyMintAddress: &t.MintAddress,
	}
	seen := make(map[string]bool, len(fixed))
	t.Traits = make(map[string]any)

	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := kt.(string)
		if !ok {
			return errors.New("token: expected key")
		}

		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("token %s:\n%w", key, err)
		}

		if dst, isFixed := fixed[key]; isFixed && !seen[key] {
			s, ok := value.(string)
			if !ok {
				return fmt.Errorf("token: %s is not a string", key)
			}
			*dst = s
			seen[key] = true
			continue
		}

		t.Traits[key] = value
	}

	for key := range fixed {
		if !seen[key] {
			return fmt.Errorf("token: missing %s", key)
		}
	}

	if _, err := dec.Token(); err != nil {
		return err
	}

	return nil
}
