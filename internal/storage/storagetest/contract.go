// Package storagetest holds the behavior every storage.Repository backend
// must share. Backend tests call Run with a constructor for a fresh, empty
// repository.
package storagetest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vocabetl/internal/domain"
	"vocabetl/internal/rules"
	"vocabetl/internal/storage"
)

// Run exercises repo semantics against repositories produced by open.
func Run(t *testing.T, open func(t *testing.T) storage.Repository) {
	t.Helper()

	t.Run("LoadUnknownKeyIsNotFound", func(t *testing.T) {
		repo := open(t)
		_, err := repo.LoadRules(context.Background(), "missing")
		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("SaveThenLoadRoundTrips", func(t *testing.T) {
		repo := open(t)
		ctx := context.Background()

		snap := sampleSnapshot("https://dict.example/api?q={word}", time.Date(2024, 3, 1, 12, 30, 0, 123456000, time.UTC))
		require.NoError(t, repo.SaveRules(ctx, snap))

		got, err := repo.LoadRules(ctx, snap.SourceKey)
		require.NoError(t, err)
		assert.Equal(t, snap.SourceKey, got.SourceKey)
		assert.Equal(t, snap.Rules.Mappings, got.Rules.Mappings)
		assert.Equal(t, snap.Rules.Lists, got.Rules.Lists)
		assert.True(t, snap.UpdatedAt.Equal(got.UpdatedAt), "updatedAt=%v, want %v", got.UpdatedAt, snap.UpdatedAt)
	})

	t.Run("SaveReplacesExistingKey", func(t *testing.T) {
		repo := open(t)
		ctx := context.Background()

		first := sampleSnapshot("k", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
		require.NoError(t, repo.SaveRules(ctx, first))

		second := first
		second.Rules = rules.RuleSet{
			Mappings: []rules.MappingRule{{Path: "root.word", Field: domain.FieldSourceURL, Weight: 2, IsBase: true}},
		}
		second.UpdatedAt = first.UpdatedAt.Add(time.Hour)
		require.NoError(t, repo.SaveRules(ctx, second))

		got, err := repo.LoadRules(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, second.Rules.Mappings, got.Rules.Mappings)
		assert.Empty(t, got.Rules.Lists)
		assert.True(t, second.UpdatedAt.Equal(got.UpdatedAt))
	})

	t.Run("KeysAreIndependent", func(t *testing.T) {
		repo := open(t)
		ctx := context.Background()

		require.NoError(t, repo.SaveRules(ctx, sampleSnapshot("a", time.Unix(1, 0).UTC())))
		_, err := repo.LoadRules(ctx, "b")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("InsertEntriesSkipsDuplicateHashes", func(t *testing.T) {
		repo := open(t)
		ctx := context.Background()

		entries := sampleEntries(time.Date(2024, 2, 2, 8, 0, 0, 0, time.UTC))
		n, err := repo.InsertEntries(ctx, entries)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)

		// Same content, new IDs: nothing new is written.
		again := sampleEntries(time.Date(2024, 2, 3, 8, 0, 0, 0, time.UTC))
		n, err = repo.InsertEntries(ctx, again)
		require.NoError(t, err)
		assert.EqualValues(t, 0, n)

		all, err := repo.ListEntries(ctx, storage.EntryFilter{})
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, entries[0].ID, all[0].ID)
		assert.Equal(t, entries[0].Hash, all[0].Hash)
		assert.Equal(t, "x", all[0].Record.Text)
		assert.Equal(t, "a", all[0].Record.String(domain.FieldTranslation))
		assert.Equal(t, json.Number("7"), all[0].Record.Fields[domain.FieldCocaRank])
		assert.Equal(t, []string{"n", "noun"}, all[0].Record.Fields[domain.FieldTags])
		assert.True(t, entries[0].CreatedAt.Equal(all[0].CreatedAt))
	})

	t.Run("InsertEmptyIsNoop", func(t *testing.T) {
		repo := open(t)
		n, err := repo.InsertEntries(context.Background(), nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("ListEntriesFilters", func(t *testing.T) {
		repo := open(t)
		ctx := context.Background()

		base := time.Date(2024, 2, 2, 8, 0, 0, 0, time.UTC)
		var entries []storage.Entry
		for i, w := range []string{"alpha", "beta", "alpha"} {
			r := domain.NewRecord(w)
			r.Fields[domain.FieldTranslation] = w + string(rune('0'+i))
			entries = append(entries, storage.NewEntries([]domain.Record{r}, storage.EntryOptions{
				Category:  "cat",
				SourceKey: "src",
				Now:       func() time.Time { return base.Add(time.Duration(i) * time.Minute) },
			})...)
		}
		_, err := repo.InsertEntries(ctx, entries)
		require.NoError(t, err)

		got, err := repo.ListEntries(ctx, storage.EntryFilter{Word: "alpha"})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "alpha0", got[0].Record.String(domain.FieldTranslation))
		assert.Equal(t, "alpha2", got[1].Record.String(domain.FieldTranslation))

		got, err = repo.ListEntries(ctx, storage.EntryFilter{Limit: 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "alpha", got[0].Word)

		got, err = repo.ListEntries(ctx, storage.EntryFilter{Category: "other"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func sampleSnapshot(key string, at time.Time) rules.Snapshot {
	return rules.Snapshot{
		SourceKey: key,
		Rules: rules.RuleSet{
			Mappings: []rules.MappingRule{
				{Path: "root.senses.def", Field: domain.FieldTranslation, Weight: 1},
				{Path: "root.word", Field: domain.FieldSourceURL, Weight: 1, IsBase: true},
			},
			Lists: []rules.ListDeclaration{{Path: "root.senses"}},
		},
		UpdatedAt: at,
	}
}

func sampleEntries(at time.Time) []storage.Entry {
	a := domain.NewRecord("x")
	a.Fields[domain.FieldTranslation] = "a"
	a.Fields[domain.FieldCocaRank] = json.Number("7")
	a.Fields[domain.FieldTags] = []string{"n", "noun"}

	b := domain.NewRecord("x")
	b.Fields[domain.FieldTranslation] = "b"

	return storage.NewEntries([]domain.Record{a, b}, storage.EntryOptions{
		Category:  "default",
		SourceKey: "src",
		Now:       func() time.Time { return at },
	})
}
