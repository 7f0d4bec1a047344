package storage

import (
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"

	"vocabetl/internal/domain"
	"vocabetl/internal/rules"
)

// Table names shared by the SQL backends.
const (
	RuleSetsTable = "vocab_rule_sets"
	EntriesTable  = "vocab_entries"
)

// EntryColumns is the column order used for inserts and selects.
var EntryColumns = []string{"id", "word", "category", "scenario", "source_key", "record", "hash", "created_at"}

// EncodeRuleSet renders rs for the rules column.
func EncodeRuleSet(rs rules.RuleSet) ([]byte, error) {
	if rs.Mappings == nil {
		rs.Mappings = []rules.MappingRule{}
	}
	if rs.Lists == nil {
		rs.Lists = []rules.ListDeclaration{}
	}
	return json.Marshal(rs)
}

// DecodeSnapshot rebuilds a snapshot from stored columns. Paths are
// re-normalized so rows written by older builds still match.
func DecodeSnapshot(sourceKey string, raw []byte, updatedAt time.Time) (rules.Snapshot, error) {
	var rs rules.RuleSet
	if err := json.Unmarshal(raw, &rs); err != nil {
		return rules.Snapshot{}, fmt.Errorf("decode rules for %q: %w: %w", sourceKey, domain.ErrInvalidRules, err)
	}
	return rules.Snapshot{
		SourceKey: sourceKey,
		Rules:     rules.Normalize(rs),
		UpdatedAt: updatedAt.UTC(),
	}, nil
}

// EncodeRecord renders an entry's record for the record column.
func EncodeRecord(r domain.Record) ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRecord is the inverse of EncodeRecord.
func DecodeRecord(raw []byte) (domain.Record, error) {
	var r domain.Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return domain.Record{}, fmt.Errorf("decode record: %w", err)
	}
	return r, nil
}

// NotFound builds the error LoadRules returns for an unknown key.
func NotFound(sourceKey string) error {
	return fmt.Errorf("rules for %q: %w", sourceKey, domain.ErrNotFound)
}

// Eq renders the non-empty filter fields as column equality conditions.
func (f EntryFilter) Eq() sq.Eq {
	eq := sq.Eq{}
	if f.Word != "" {
		eq["word"] = f.Word
	}
	if f.Category != "" {
		eq["category"] = f.Category
	}
	if f.SourceKey != "" {
		eq["source_key"] = f.SourceKey
	}
	return eq
}
