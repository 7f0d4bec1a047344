// Package rules owns the user-authored extraction rules for one source key:
// field mappings, fan-out list declarations and their undo/redo history.
package rules

import (
	"fmt"
	"strings"
	"time"

	"vocabetl/internal/domain"
)

// MappingRule maps the node at a normalized path to an output field.
//
// Lower Weight wins when several candidates target the same field. IsBase
// rules are collected document-wide and merged into every record.
type MappingRule struct {
	Path   string         `json:"path"`
	Field  domain.FieldID `json:"field"`
	Weight int            `json:"weight"`
	IsBase bool           `json:"isBase"`
}

// ListDeclaration marks a normalized path as a fan-out point.
type ListDeclaration struct {
	Path string `json:"path"`
}

// RuleSet is an immutable-by-convention value holding mappings and lists.
// Store hands out copies, so callers may keep a RuleSet across edits.
type RuleSet struct {
	Mappings []MappingRule     `json:"mappings"`
	Lists    []ListDeclaration `json:"lists"`
}

// Clone returns a deep copy of rs.
func (rs RuleSet) Clone() RuleSet {
	return RuleSet{
		Mappings: append([]MappingRule(nil), rs.Mappings...),
		Lists:    append([]ListDeclaration(nil), rs.Lists...),
	}
}

// IsEmpty reports whether rs has neither mappings nor lists.
func (rs RuleSet) IsEmpty() bool {
	return len(rs.Mappings) == 0 && len(rs.Lists) == 0
}

// IsList reports whether path is declared as a list.
func (rs RuleSet) IsList(path string) bool {
	for _, l := range rs.Lists {
		if l.Path == path {
			return true
		}
	}
	return false
}

// MappingsAt returns the rules targeting path, in store order.
func (rs RuleSet) MappingsAt(path string) []MappingRule {
	var out []MappingRule
	for _, m := range rs.Mappings {
		if m.Path == path {
			out = append(out, m)
		}
	}
	return out
}

// Snapshot is a rule set persisted under a source key.
type Snapshot struct {
	SourceKey string    `json:"sourceKey"`
	Rules     RuleSet   `json:"rules"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks every rule. Paths are expected to be normalized already.
func (rs RuleSet) Validate() error {
	var errs []domain.FieldError

	for i, m := range rs.Mappings {
		if strings.TrimSpace(m.Path) == "" {
			errs = append(errs, domain.FieldError{Field: fieldRef("mappings", i, "path"), Message: "is empty"})
		}
		if !m.Field.Valid() {
			errs = append(errs, domain.FieldError{Field: fieldRef("mappings", i, "field"), Message: "unknown field " + string(m.Field)})
		}
		if m.Weight < 1 {
			errs = append(errs, domain.FieldError{Field: fieldRef("mappings", i, "weight"), Message: "must be >= 1"})
		}
	}
	for i, l := range rs.Lists {
		if strings.TrimSpace(l.Path) == "" {
			errs = append(errs, domain.FieldError{Field: fieldRef("lists", i, "path"), Message: "is empty"})
		}
	}

	return domain.NewValidationErrors(errs)
}

func fieldRef(list string, i int, name string) string {
	return fmt.Sprintf("%s[%d].%s", list, i, name)
}
