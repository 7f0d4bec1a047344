package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"vocabetl/internal/domain"
)

func TestStore_SetMappingAndClear(t *testing.T) {
	t.Parallel()

	s := NewStore()
	if err := s.SetMapping("root.senses.0.def", domain.FieldTranslation); err != nil {
		t.Fatalf("SetMapping: %v", err)
	}
	if err := s.SetMapping("root.senses.def", domain.FieldEnglishDefinition); err != nil {
		t.Fatalf("SetMapping: %v", err)
	}
	// Same rule again is a no-op.
	if err := s.SetMapping("root.senses.1.def", domain.FieldTranslation); err != nil {
		t.Fatalf("SetMapping: %v", err)
	}

	rs := s.Rules()
	if len(rs.Mappings) != 2 {
		t.Fatalf("mappings=%+v, want 2", rs.Mappings)
	}
	for _, m := range rs.Mappings {
		if m.Path != "root.senses.def" || m.Weight != 1 || m.IsBase {
			t.Fatalf("mapping=%+v, want normalized non-base weight 1", m)
		}
	}
	if s.HistoryLen() != 3 {
		t.Fatalf("HistoryLen=%d, want 3", s.HistoryLen())
	}

	if err := s.SetMapping("root.senses.def", "nope"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err=%v, want ErrValidation", err)
	}

	if err := s.SetMapping("root.senses.def", ""); err != nil {
		t.Fatalf("SetMapping clear: %v", err)
	}
	if got := s.Rules().Mappings; len(got) != 0 {
		t.Fatalf("mappings after clear=%+v, want none", got)
	}
}

func TestStore_ClearKeepsBaseRulesOnEmptyField(t *testing.T) {
	t.Parallel()

	s := NewStore()
	_ = s.SetMapping("root.word", domain.FieldSourceURL)
	s.ToggleBase("root.word")
	_ = s.SetMapping("root.word", domain.FieldTranslation)

	_ = s.SetMapping("root.word", "")

	got := s.Rules().Mappings
	if len(got) != 1 || !got[0].IsBase || got[0].Field != domain.FieldSourceURL {
		t.Fatalf("mappings=%+v, want only the base rule", got)
	}
}

func TestStore_SetWeight(t *testing.T) {
	t.Parallel()

	s := NewStore()
	_ = s.SetMapping("root.a", domain.FieldTranslation)
	_ = s.SetMapping("root.a", domain.FieldTags)
	before := s.HistoryLen()

	err := s.SetWeight("root.a", 0)
	if !errors.Is(err, domain.ErrInvalidWeight) {
		t.Fatalf("err=%v, want ErrInvalidWeight", err)
	}
	if s.HistoryLen() != before {
		t.Fatalf("invalid weight grew history")
	}

	if err := s.SetWeight("root.a", 3); err != nil {
		t.Fatalf("SetWeight: %v", err)
	}
	for _, m := range s.Rules().Mappings {
		if m.Weight != 3 {
			t.Fatalf("mapping=%+v, want weight 3", m)
		}
	}
}

func TestStore_ToggleBaseMergesDuplicates(t *testing.T) {
	t.Parallel()

	s := NewStore()
	_ = s.SetMapping("root.a", domain.FieldTranslation)
	if !s.ToggleBase("root.a") {
		t.Fatalf("ToggleBase returned false")
	}
	if got := s.Rules().Mappings; len(got) != 1 || !got[0].IsBase {
		t.Fatalf("mappings=%+v, want one base rule", got)
	}

	if s.ToggleBase("root.missing") {
		t.Fatalf("ToggleBase on empty path should be a no-op")
	}

	// Restore with Replace so both partitions hold the same field, then flip.
	_ = s.Replace(RuleSet{Mappings: []MappingRule{
		{Path: "root.a", Field: domain.FieldTranslation, Weight: 1},
		{Path: "root.a", Field: domain.FieldTranslation, Weight: 2, IsBase: true},
	}})
	s.ToggleBase("root.a")
	if got := s.Rules().Mappings; len(got) != 2 {
		t.Fatalf("mappings=%+v, want both partitions swapped", got)
	}
}

func TestStore_ToggleList(t *testing.T) {
	t.Parallel()

	s := NewStore()
	s.ToggleList("root.senses.0")
	if !s.Rules().IsList("root.senses") {
		t.Fatalf("root.senses should be a list")
	}
	s.ToggleList("root.senses")
	if s.Rules().IsList("root.senses") {
		t.Fatalf("root.senses should no longer be a list")
	}
}

// TestStore_UndoRedo walks the history both ways. Undo after N edits must
// restore the state before the Nth edit.
func TestStore_UndoRedo(t *testing.T) {
	t.Parallel()

	s := NewStore()
	if s.Undo() || s.Redo() {
		t.Fatalf("Undo/Redo on fresh store should be no-ops")
	}

	_ = s.SetMapping("root.a", domain.FieldTranslation)
	s.ToggleList("root.list")
	_ = s.SetWeight("root.a", 4)

	if !s.Undo() {
		t.Fatalf("Undo returned false")
	}
	rs := s.Rules()
	if rs.Mappings[0].Weight != 1 || !rs.IsList("root.list") {
		t.Fatalf("after undo rules=%+v, want weight 1 with list", rs)
	}

	if !s.Undo() || s.Rules().IsList("root.list") {
		t.Fatalf("second undo should remove the list")
	}
	if !s.Redo() || !s.Rules().IsList("root.list") {
		t.Fatalf("redo should restore the list")
	}

	// A new edit drops the redo tail.
	s.Clear()
	if s.CanRedo() {
		t.Fatalf("CanRedo after a new edit, want false")
	}
	if !s.Rules().IsEmpty() {
		t.Fatalf("rules after Clear=%+v, want empty", s.Rules())
	}
	if !s.Undo() || !s.Rules().IsList("root.list") {
		t.Fatalf("undo of Clear should restore previous rules")
	}
}

func TestStore_HistoryIsBounded(t *testing.T) {
	t.Parallel()

	s := NewStore()
	for i := 0; i < DefaultHistoryLimit+25; i++ {
		s.ToggleList(fmt.Sprintf("root.l%d", i))
	}
	if got := s.HistoryLen(); got != DefaultHistoryLimit {
		t.Fatalf("HistoryLen=%d, want %d", got, DefaultHistoryLimit)
	}

	undos := 0
	for s.Undo() {
		undos++
	}
	if undos != DefaultHistoryLimit-1 {
		t.Fatalf("undos=%d, want %d", undos, DefaultHistoryLimit-1)
	}
	// 76 states were produced; the oldest kept one holds 26 lists.
	if got := len(s.Rules().Lists); got != 26 {
		t.Fatalf("lists at oldest step=%d, want 26", got)
	}
}

func TestStore_LoadResetsHistory(t *testing.T) {
	t.Parallel()

	var notified int
	s := NewStore(WithOnChange(func(Snapshot) { notified++ }))
	_ = s.SetMapping("root.a", domain.FieldTranslation)

	s.Load("https://api.example/{word}", RuleSet{Lists: []ListDeclaration{{Path: "root.x"}}})
	if s.HistoryLen() != 1 || s.CanUndo() {
		t.Fatalf("Load should reset history, len=%d", s.HistoryLen())
	}
	if s.SourceKey() != "https://api.example/{word}" {
		t.Fatalf("SourceKey=%q", s.SourceKey())
	}
	if notified != 1 {
		t.Fatalf("notified=%d, want 1 (Load must not notify)", notified)
	}
}

func TestStore_ReplaceValidates(t *testing.T) {
	t.Parallel()

	s := NewStore()
	_ = s.SetMapping("root.a", domain.FieldTranslation)

	err := s.Replace(RuleSet{Mappings: []MappingRule{{Path: "root.b", Field: "bogus", Weight: 1}}})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err=%v, want ErrValidation", err)
	}
	if got := s.Rules().Mappings; len(got) != 1 || got[0].Path != "root.a" {
		t.Fatalf("store changed on failed Replace: %+v", got)
	}

	if err := s.Replace(RuleSet{Mappings: []MappingRule{{Path: "root.b.3.c", Field: domain.FieldTags, Weight: 2}}}); err != nil {
		t.Fatalf("Replace: %v", err)
	}
	if got := s.Rules().Mappings[0].Path; got != "root.b.c" {
		t.Fatalf("path=%q, want normalized root.b.c", got)
	}
}

func TestStore_RulesAreCopies(t *testing.T) {
	t.Parallel()

	s := NewStore()
	_ = s.SetMapping("root.a", domain.FieldTranslation)
	rs := s.Rules()
	rs.Mappings[0].Weight = 99

	if s.Rules().Mappings[0].Weight != 1 {
		t.Fatalf("mutating a returned RuleSet changed the store")
	}
}

type memPersister struct {
	mu    sync.Mutex
	snaps map[string]Snapshot
	saves int
	err   error
}

func newMemPersister() *memPersister {
	return &memPersister{snaps: make(map[string]Snapshot)}
}

func (p *memPersister) LoadRules(_ context.Context, key string) (Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return Snapshot{}, p.err
	}
	s, ok := p.snaps[key]
	if !ok {
		return Snapshot{}, fmt.Errorf("rule set %q: %w", key, domain.ErrNotFound)
	}
	return s, nil
}

func (p *memPersister) SaveRules(_ context.Context, s Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.saves++
	p.snaps[s.SourceKey] = s
	return nil
}

func (p *memPersister) get(key string) (Snapshot, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snaps[key], p.saves
}

func TestStore_SwitchSource(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := newMemPersister()
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	p.snaps["a"] = Snapshot{
		SourceKey: "a",
		Rules:     RuleSet{Lists: []ListDeclaration{{Path: "root.senses"}}},
		UpdatedAt: ts,
	}

	s := NewStore()
	if err := s.SwitchSource(ctx, p, "a"); err != nil {
		t.Fatalf("SwitchSource(a): %v", err)
	}
	snap := s.Snapshot()
	if snap.SourceKey != "a" || !snap.Rules.IsList("root.senses") || !snap.UpdatedAt.Equal(ts) {
		t.Fatalf("snapshot=%+v", snap)
	}

	if err := s.SwitchSource(ctx, p, "unknown"); err != nil {
		t.Fatalf("SwitchSource(unknown): %v", err)
	}
	if !s.Rules().IsEmpty() || s.SourceKey() != "unknown" {
		t.Fatalf("unknown key should start empty")
	}
	if _, saves := p.get("a"); saves != 0 {
		t.Fatalf("SwitchSource saved %d times, want 0", saves)
	}

	p.err = errors.New("disk on fire")
	if err := s.SwitchSource(ctx, p, "a"); err == nil {
		t.Fatalf("SwitchSource err=nil, want load failure")
	}
	if s.SourceKey() != "unknown" {
		t.Fatalf("failed switch changed source key to %q", s.SourceKey())
	}
}
