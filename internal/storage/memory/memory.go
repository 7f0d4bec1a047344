// Package memory is an in-process storage backend. Nothing survives Close;
// it backs tests and dry runs.
package memory

import (
	"context"
	"sort"
	"sync"

	"vocabetl/internal/rules"
	"vocabetl/internal/storage"
)

func init() {
	storage.Register("memory", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return New(), nil
	})
}

// Repo implements storage.Repository with maps.
type Repo struct {
	mu      sync.RWMutex
	snaps   map[string]rules.Snapshot
	entries []storage.Entry
	hashes  map[string]struct{}
}

// New returns an empty repository.
func New() *Repo {
	return &Repo{
		snaps:  map[string]rules.Snapshot{},
		hashes: map[string]struct{}{},
	}
}

func (r *Repo) LoadRules(ctx context.Context, sourceKey string) (rules.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return rules.Snapshot{}, err
	}
	r.mu.RLock()
	snap, ok := r.snaps[sourceKey]
	r.mu.RUnlock()
	if !ok {
		return rules.Snapshot{}, storage.NotFound(sourceKey)
	}
	snap.Rules = snap.Rules.Clone()
	return snap, nil
}

func (r *Repo) SaveRules(ctx context.Context, snap rules.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap.Rules = snap.Rules.Clone()
	r.mu.Lock()
	r.snaps[snap.SourceKey] = snap
	r.mu.Unlock()
	return nil
}

func (r *Repo) InsertEntries(ctx context.Context, entries []storage.Entry) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, e := range entries {
		if _, dup := r.hashes[e.Hash]; dup {
			continue
		}
		r.hashes[e.Hash] = struct{}{}
		r.entries = append(r.entries, e)
		n++
	}
	return n, nil
}

func (r *Repo) ListEntries(ctx context.Context, f storage.EntryFilter) ([]storage.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []storage.Entry
	for _, e := range r.entries {
		if f.Word != "" && e.Word != f.Word {
			continue
		}
		if f.Category != "" && e.Category != f.Category {
			continue
		}
		if f.SourceKey != "" && e.SourceKey != f.SourceKey {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *Repo) Close() error { return nil }
