// Package storage persists rule sets per source key and the vocabulary
// entries produced by batch runs. Backends live in subpackages and register
// themselves by kind; import internal/storage/all to link every backend.
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"vocabetl/internal/rules"
)

// Config selects and configures a backend.
//
// Kind must match a registered backend ("sqlite", "postgres", "mssql",
// "memory"). DSN is passed through unchanged; its format is backend-specific.
type Config struct {
	Kind string
	DSN  string
}

// EntryFilter narrows ListEntries. Zero-valued fields match everything and a
// Limit <= 0 means no limit.
type EntryFilter struct {
	Word      string
	Category  string
	SourceKey string
	Limit     int
}

// Repository is the backend-agnostic storage surface.
//
// LoadRules returns an error wrapping domain.ErrNotFound for unknown keys;
// SaveRules replaces whatever was stored for the snapshot's key.
// InsertEntries ignores entries whose Hash is already stored and reports how
// many rows were actually written.
type Repository interface {
	rules.Persister

	InsertEntries(ctx context.Context, entries []Entry) (int64, error)
	ListEntries(ctx context.Context, f EntryFilter) ([]Entry, error)

	// Close releases connections. Call it once.
	Close() error
}

// Factory opens a repository for cfg. Backends must create their schema
// idempotently before returning.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a backend available under kind. Call it from the backend's
// init function.
//
// Register panics if kind is empty, f is nil or kind is already taken.
func Register(kind string, f Factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New opens the repository registered under cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	repo, err := f(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("storage %s: %w", cfg.Kind, err)
	}
	return repo, nil
}

// Kinds lists the registered backend kinds, sorted.
func Kinds() []string {
	mu.RLock()
	defer mu.RUnlock()

	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
