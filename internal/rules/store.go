package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"vocabetl/internal/domain"
)

// Persister is the durable home of rule sets, keyed by source key.
//
// LoadRules returns an error wrapping domain.ErrNotFound when nothing has been
// stored for key yet.
type Persister interface {
	LoadRules(ctx context.Context, sourceKey string) (Snapshot, error)
	SaveRules(ctx context.Context, snap Snapshot) error
}

// Option configures a Store.
type Option func(*Store)

// WithHistoryLimit overrides DefaultHistoryLimit.
func WithHistoryLimit(n int) Option {
	return func(s *Store) { s.historyLimit = n }
}

// WithClock injects the time source used for UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithOnChange registers a callback invoked after every committed edit,
// undo and redo. It is not invoked by Load or SwitchSource.
func WithOnChange(fn func(Snapshot)) Option {
	return func(s *Store) { s.onChange = fn }
}

// Store is the editable rule set of the active source key.
//
// Every mutating operation records a history step. Operations that would not
// change the rule set are no-ops and do not grow the history.
type Store struct {
	mu sync.Mutex

	sourceKey string
	rules     RuleSet
	updatedAt time.Time
	hist      *history

	historyLimit int
	now          func() time.Time
	onChange     func(Snapshot)
}

// NewStore returns an empty store with a single history step.
func NewStore(opts ...Option) *Store {
	s := &Store{
		historyLimit: DefaultHistoryLimit,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hist = newHistory(s.historyLimit, RuleSet{})
	return s
}

// SourceKey returns the active source key.
func (s *Store) SourceKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sourceKey
}

// Rules returns a copy of the current rule set.
func (s *Store) Rules() RuleSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rules.Clone()
}

// Snapshot returns the current rule set with its source key and timestamp.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		SourceKey: s.sourceKey,
		Rules:     s.rules.Clone(),
		UpdatedAt: s.updatedAt,
	}
}

// Load replaces the active source key and rule set and resets history to a
// single step. It does not notify the change callback.
func (s *Store) Load(sourceKey string, rs RuleSet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sourceKey = sourceKey
	s.rules = rs.Clone()
	s.hist.reset(rs)
}

// SwitchSource loads the rule set persisted for sourceKey. Unknown keys start
// with an empty rule set.
func (s *Store) SwitchSource(ctx context.Context, p Persister, sourceKey string) error {
	snap, err := p.LoadRules(ctx, sourceKey)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		snap = Snapshot{SourceKey: sourceKey}
	case err != nil:
		return fmt.Errorf("rules: load %q: %w", sourceKey, err)
	}

	s.Load(sourceKey, snap.Rules)

	s.mu.Lock()
	s.updatedAt = snap.UpdatedAt
	s.mu.Unlock()
	return nil
}

// SetMapping adds a non-base mapping from path to field with weight 1.
// An empty field clears every non-base mapping at path.
func (s *Store) SetMapping(path string, field domain.FieldID) error {
	path = NormalizePath(path)
	if field != "" && !field.Valid() {
		return domain.NewValidationError("field", "unknown field "+string(field))
	}

	s.mutate(func(rs *RuleSet) bool {
		if field == "" {
			return removeMappings(rs, func(m MappingRule) bool { return m.Path == path && !m.IsBase })
		}
		for _, m := range rs.Mappings {
			if m.Path == path && m.Field == field && !m.IsBase {
				return false
			}
		}
		rs.Mappings = append(rs.Mappings, MappingRule{Path: path, Field: field, Weight: 1})
		return true
	})
	return nil
}

// RemoveMapping deletes every rule (base or not) mapping path to field.
func (s *Store) RemoveMapping(path string, field domain.FieldID) bool {
	path = NormalizePath(path)
	return s.mutate(func(rs *RuleSet) bool {
		return removeMappings(rs, func(m MappingRule) bool { return m.Path == path && m.Field == field })
	})
}

// SetWeight sets the weight of every rule at path.
func (s *Store) SetWeight(path string, weight int) error {
	if weight < 1 {
		return fmt.Errorf("rules: set weight %d on %q: %w", weight, path, domain.ErrInvalidWeight)
	}
	path = NormalizePath(path)

	s.mutate(func(rs *RuleSet) bool {
		changed := false
		for i := range rs.Mappings {
			if rs.Mappings[i].Path == path && rs.Mappings[i].Weight != weight {
				rs.Mappings[i].Weight = weight
				changed = true
			}
		}
		return changed
	})
	return nil
}

// ToggleBase flips IsBase on every rule at path. A flip that would create a
// duplicate (same path, field and partition) drops the duplicate.
func (s *Store) ToggleBase(path string) bool {
	path = NormalizePath(path)
	return s.mutate(func(rs *RuleSet) bool {
		changed := false
		for i := range rs.Mappings {
			if rs.Mappings[i].Path == path {
				rs.Mappings[i].IsBase = !rs.Mappings[i].IsBase
				changed = true
			}
		}
		if changed {
			rs.Mappings = dedupeMappings(rs.Mappings)
		}
		return changed
	})
}

// ToggleList declares path as a list, or removes the declaration.
func (s *Store) ToggleList(path string) {
	path = NormalizePath(path)
	s.mutate(func(rs *RuleSet) bool {
		for i, l := range rs.Lists {
			if l.Path == path {
				rs.Lists = append(rs.Lists[:i], rs.Lists[i+1:]...)
				return true
			}
		}
		rs.Lists = append(rs.Lists, ListDeclaration{Path: path})
		return true
	})
}

// Clear removes every mapping and list declaration.
func (s *Store) Clear() bool {
	return s.mutate(func(rs *RuleSet) bool {
		if rs.IsEmpty() {
			return false
		}
		*rs = RuleSet{}
		return true
	})
}

// Replace swaps in rs as a single undoable edit. Paths are normalized and
// the rule set is validated first; on error the store is unchanged.
func (s *Store) Replace(rs RuleSet) error {
	next := Normalize(rs)
	if err := next.Validate(); err != nil {
		return fmt.Errorf("rules: replace: %w", err)
	}
	s.mutate(func(cur *RuleSet) bool {
		*cur = next
		return true
	})
	return nil
}

// Undo restores the previous history step. It returns false at the oldest step.
func (s *Store) Undo() bool {
	return s.move((*history).undo)
}

// Redo re-applies the next history step. It returns false at the newest step.
func (s *Store) Redo() bool {
	return s.move((*history).redo)
}

// CanUndo reports whether Undo would change the rule set.
func (s *Store) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.cursor > 0
}

// CanRedo reports whether Redo would change the rule set.
func (s *Store) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.cursor < s.hist.len()-1
}

// HistoryLen returns the number of retained history steps.
func (s *Store) HistoryLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hist.len()
}

func (s *Store) move(step func(*history) (RuleSet, bool)) bool {
	s.mu.Lock()
	rs, ok := step(s.hist)
	if !ok {
		s.mu.Unlock()
		return false
	}
	s.rules = rs
	s.updatedAt = s.now()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return true
}

// mutate applies fn to a copy of the current rule set and commits it as a new
// history step when fn reports a change.
func (s *Store) mutate(fn func(rs *RuleSet) bool) bool {
	s.mu.Lock()
	next := s.rules.Clone()
	if !fn(&next) {
		s.mu.Unlock()
		return false
	}
	s.rules = next
	s.hist.push(next)
	s.updatedAt = s.now()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.notify(snap)
	return true
}

func (s *Store) notify(snap Snapshot) {
	if s.onChange != nil {
		s.onChange(snap)
	}
}

func removeMappings(rs *RuleSet, match func(MappingRule) bool) bool {
	out := rs.Mappings[:0]
	removed := false
	for _, m := range rs.Mappings {
		if match(m) {
			removed = true
			continue
		}
		out = append(out, m)
	}
	rs.Mappings = out
	return removed
}

type mappingKey struct {
	path   string
	field  domain.FieldID
	isBase bool
}

func dedupeMappings(in []MappingRule) []MappingRule {
	seen := make(map[mappingKey]struct{}, len(in))
	out := in[:0]
	for _, m := range in {
		k := mappingKey{m.Path, m.Field, m.IsBase}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, m)
	}
	return out
}

// Normalize returns a copy of rs with normalized paths, duplicate mappings
// and duplicate list declarations removed.
func Normalize(rs RuleSet) RuleSet {
	out := rs.Clone()
	for i := range out.Mappings {
		out.Mappings[i].Path = NormalizePath(out.Mappings[i].Path)
	}
	out.Mappings = dedupeMappings(out.Mappings)

	seen := make(map[string]struct{}, len(out.Lists))
	lists := out.Lists[:0]
	for _, l := range out.Lists {
		l.Path = NormalizePath(l.Path)
		if _, dup := seen[l.Path]; dup {
			continue
		}
		seen[l.Path] = struct{}{}
		lists = append(lists, l)
	}
	out.Lists = lists
	return out
}
