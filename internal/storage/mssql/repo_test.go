package mssql

import (
	"strings"
	"testing"

	"vocabetl/internal/domain"
	"vocabetl/internal/storage"
)

func TestInsertEntryQuery_UsesAtPlaceholders(t *testing.T) {
	t.Parallel()

	e := storage.NewEntries([]domain.Record{domain.NewRecord("w")}, storage.EntryOptions{})[0]
	q, args, err := insertEntryQuery(e)
	if err != nil {
		t.Fatalf("insertEntryQuery: %v", err)
	}
	if !strings.HasSuffix(q, "VALUES (@p1,@p2,@p3,@p4,@p5,@p6,@p7,@p8)") {
		t.Fatalf("unexpected query: %s", q)
	}
	if args[0] != e.ID.String() {
		t.Fatalf("id arg=%v, want %s", args[0], e.ID)
	}
}

func TestHashExistsQuery_LocksRange(t *testing.T) {
	t.Parallel()

	q, _, err := hashExistsQuery("abc")
	if err != nil {
		t.Fatalf("hashExistsQuery: %v", err)
	}
	want := "SELECT COUNT(1) FROM vocab_entries WITH (UPDLOCK, HOLDLOCK) WHERE hash = @p1"
	if q != want {
		t.Fatalf("query=%q, want %q", q, want)
	}
}

func TestListEntriesQuery_UsesTop(t *testing.T) {
	t.Parallel()

	q, args, err := listEntriesQuery(storage.EntryFilter{SourceKey: "k", Limit: 10})
	if err != nil {
		t.Fatalf("listEntriesQuery: %v", err)
	}
	want := "SELECT TOP (10) id, word, category, scenario, source_key, record, hash, created_at FROM vocab_entries WHERE source_key = @p1 ORDER BY created_at, id"
	if q != want {
		t.Fatalf("query=%q, want %q", q, want)
	}
	if len(args) != 1 {
		t.Fatalf("len(args)=%d, want 1", len(args))
	}
}
