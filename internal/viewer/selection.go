package viewer

import (
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	"github.com/lincot/metaplex-collection-scraper/internal/aggregate"
)

// selectionRequest is the body of a selection query.
// A token matches when, for every trait, its value is one of the listed values.
type selectionRequest struct {
	Filters map[string][]string `json:"filters"`
}

// ValueCount is one row of a trait histogram.
type ValueCount struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// Histogram counts tokens per value of one trait.
type Histogram struct {
	Trait   string       `json:"trait"`
	Values  []ValueCount `json:"values"`
	Missing int          `json:"missing"` // Missing counts tokens without the trait
}

// valueKey renders a trait value the way filters name it.
// Strings are used as-is, everything else in its JSON form.
func valueKey(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}

	return string(b)
}

// histogram counts the values of trait across rep, most frequent first.
// Returns false if trait is not one of the report's trait types.
func histogram(rep *aggregate.Report, trait string) (*Histogram, bool) {
	known := false
	for _, tt := range rep.TraitTypes {
		if tt == trait {
			known = true
			break
		}
	}
	if !known {
		return nil, false
	}

	h := &Histogram{Trait: trait, Values: []ValueCount{}}
	counts := make(map[string]int)

	for _, tok := range rep.Tokens {
		v, ok := tok.Traits[trait]
		if !ok {
			h.Missing++
			continue
		}
		counts[valueKey(v)]++
	}

	for v, n := range counts {
		h.Values = append(h.Values, ValueCount{Value: v, Count: n})
	}

	sort.Slice(h.Values, func(i, j int) bool {
		if h.Values[i].Count != h.Values[j].Count {
			return h.Values[i].Count > h.Values[j].Count
		}
		return h.Values[i].Value < h.Values[j].Value
	})

	return h, true
}

// selectMints returns the mint addresses of tokens matching every filter,
// in report order. No filters selects every token.
func selectMints(rep *aggregate.Report, filters map[string][]string) []string {
	allowed := make(map[string]map[string]struct{}, len(filters))
	for trait, values := range filters {
		set := make(map[string]struct{}, len(values))
		for _, v := range values {
			set[v] = struct{}{}
		}
		allowed[trait] = set
	}

	mints := []string{}

	for _, tok := range rep.Tokens {
		if matches(tok, allowed) {
			mints = append(mints, tok.MintAddress)
		}
	}

	return mints
}

// matches reports whether tok satisfies every trait filter.
func matches(tok aggregate.Token, allowed map[string]map[string]struct{}) bool {
	for trait, set := range allowed {
		v, ok := tok.Traits[trait]
		if !ok {
			return false
		}

		if _, ok := set[valueKey(v)]; !ok {
			return false
		}
	}

	return true
}
