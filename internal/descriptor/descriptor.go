// Package descriptor parses the off-chain JSON documents that metadata
// records point to.
package descriptor

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// ErrSchema is wrapped by every document that does not match the schema.
var ErrSchema = errors.New("descriptor schema")

// Attribute is one declared trait. Value holds any JSON value: nil, bool,
// json.Number, string, []any or map[string]any.
type Attribute struct {
	TraitType string
	Value     any
}

// Descriptor is a validated off-chain document.
type Descriptor struct {
	Name       string
	Image      string
	Attributes []Attribute
}

// Parse validates body against {name, image, attributes} where attributes is
// either one {trait_type, value} object or an array of them.
// Unknown fields are ignored; anything else that deviates is an ErrSchema.
func Parse(body []byte) (*Descriptor, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, schemaErr("document", err)
	}
	if doc == nil {
		return nil, schemaErr("document", errors.New("null document"))
	}

	d := &Descriptor{}

	var err error
	if d.Name, err = requireString(doc, "name"); err != nil {
		return nil, err
	}
	if d.Image, err = requireString(doc, "image"); err != nil {
		return nil, err
	}
	if d.Attributes, err = parseAttributes(doc["attributes"]); err != nil {
		return nil, err
	}

	return d, nil
}

// parseAttributes accepts a single object or an array of objects.
func parseAttributes(raw json.RawMessage) ([]Attribute, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, schemaErr("attributes", errors.New("missing field"))
	}

	switch raw[0] {
	case '{':
		attr, err := parseAttribute(raw)
		if err != nil {
			return nil, err
		}
		return []Attribute{attr}, nil
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, schemaErr("attributes", err)
		}

		attrs := make([]Attribute, 0, len(items))
		for i, item := range items {
			attr, err := parseAttribute(item)
			if err != nil {
				return nil, fmt.Errorf("attribute %d:\n%w", i, err)
			}
			attrs = append(attrs, attr)
		}
		return attrs, nil
	default:
		return nil, schemaErr("attributes", fmt.Errorf("expected object or array, got %.16s", raw))
	}
}

func parseAttribute(raw json.RawMessage) (Attribute, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Attribute{}, schemaErr("attribute", err)
	}
	if obj == nil {
		return Attribute{}, schemaErr("attribute", errors.New("null attribute"))
	}

	traitType, err := requireString(obj, "trait_type")
	if err != nil {
		return Attribute{}, err
	}

	rawValue, ok := obj["value"]
	if !ok {
		return Attribute{}, schemaErr("value", errors.New("missing field"))
	}

	value, err := decodeValue(rawValue)
	if err != nil {
		return Attribute{}, schemaErr("value", err)
	}

	return Attribute{TraitType: traitType, Value: value}, nil
}

// decodeValue decodes any JSON value, keeping numbers as json.Number so
// they are written back exactly as read.
func decodeValue(raw json.RawMessage) (any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	return v, nil
}

func requireString(obj map[string]json.RawMessage, field string) (string, error) {
	raw, ok := obj[field]
	if !ok {
		return "", schemaErr(field, errors.New("missing field"))
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return "", schemaErr(field, fmt.Errorf("expected string, got %.16s", raw))
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", schemaErr(field, err)
	}

	return s, nil
}

func schemaErr(field string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrSchema, field, err)
}
