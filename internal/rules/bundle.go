package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"vocabetl/internal/domain"
)

// Bundle is the portable export format of one source key's rules.
type Bundle struct {
	SourceKey string            `json:"sourceKey"`
	Mappings  []MappingRule     `json:"mappings"`
	Lists     []ListDeclaration `json:"lists"`
}

// RuleSet returns the bundle's rules.
func (b Bundle) RuleSet() RuleSet {
	return RuleSet{Mappings: b.Mappings, Lists: b.Lists}
}

// BundleOf packages a snapshot for export.
func BundleOf(snap Snapshot) Bundle {
	rs := snap.Rules.Clone()
	if rs.Mappings == nil {
		rs.Mappings = []MappingRule{}
	}
	if rs.Lists == nil {
		rs.Lists = []ListDeclaration{}
	}
	return Bundle{SourceKey: snap.SourceKey, Mappings: rs.Mappings, Lists: rs.Lists}
}

// Export writes b as indented JSON.
func Export(w io.Writer, b Bundle) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return fmt.Errorf("rules: export: %w", err)
	}
	return nil
}

// bundleWire distinguishes a missing key from an empty list.
type bundleWire struct {
	SourceKey string             `json:"sourceKey"`
	Mappings  *[]MappingRule     `json:"mappings"`
	Lists     *[]ListDeclaration `json:"lists"`
}

// Import reads a bundle, normalizes its paths and validates it. Both
// "mappings" and "lists" must be present and unknown keys are rejected.
// Missing weights default to 1. Any failure wraps domain.ErrInvalidRules.
func Import(r io.Reader) (Bundle, error) {
	var w bundleWire
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", domain.ErrInvalidRules, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Bundle{}, fmt.Errorf("%w: trailing data after bundle", domain.ErrInvalidRules)
	}
	if w.Mappings == nil || w.Lists == nil {
		return Bundle{}, fmt.Errorf("%w: bundle needs both mappings and lists", domain.ErrInvalidRules)
	}

	b := Bundle{SourceKey: w.SourceKey, Mappings: *w.Mappings, Lists: *w.Lists}
	for i := range b.Mappings {
		if b.Mappings[i].Weight == 0 {
			b.Mappings[i].Weight = 1
		}
	}
	rs := Normalize(b.RuleSet())
	if err := rs.Validate(); err != nil {
		return Bundle{}, fmt.Errorf("%w: %w", domain.ErrInvalidRules, err)
	}
	b.Mappings, b.Lists = rs.Mappings, rs.Lists
	if b.Mappings == nil {
		b.Mappings = []MappingRule{}
	}
	if b.Lists == nil {
		b.Lists = []ListDeclaration{}
	}
	return b, nil
}
