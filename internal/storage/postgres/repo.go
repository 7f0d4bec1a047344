// Package postgres stores rule sets and entries in PostgreSQL through a
// pgx connection pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"vocabetl/internal/rules"
	"vocabetl/internal/storage"
)

// Postgres allows 65535 bind parameters per statement.
const insertChunk = 1000

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ` + storage.RuleSetsTable + ` (
		source_key TEXT PRIMARY KEY,
		rules      JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ` + storage.EntriesTable + ` (
		id         UUID PRIMARY KEY,
		word       TEXT NOT NULL,
		category   TEXT NOT NULL,
		scenario   TEXT NOT NULL DEFAULT '',
		source_key TEXT NOT NULL,
		record     JSONB NOT NULL,
		hash       TEXT NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ` + storage.EntriesTable + `_word_idx ON ` + storage.EntriesTable + ` (word)`,
}

// Repo implements storage.Repository for Postgres.
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return Open(ctx, cfg.DSN)
	})
}

// Open creates the pool and the schema.
func Open(ctx context.Context, dsn string) (*Repo, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres: create schema: %w", err)
		}
	}
	return &Repo{pool: pool}, nil
}

func (r *Repo) Close() error {
	r.pool.Close()
	return nil
}

func (r *Repo) LoadRules(ctx context.Context, sourceKey string) (rules.Snapshot, error) {
	q, args, err := psql.Select("rules", "updated_at").
		From(storage.RuleSetsTable).
		Where(sq.Eq{"source_key": sourceKey}).
		ToSql()
	if err != nil {
		return rules.Snapshot{}, err
	}

	var (
		raw     []byte
		updated time.Time
	)
	err = r.pool.QueryRow(ctx, q, args...).Scan(&raw, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return rules.Snapshot{}, storage.NotFound(sourceKey)
	}
	if err != nil {
		return rules.Snapshot{}, fmt.Errorf("postgres: load rules: %w", err)
	}
	return storage.DecodeSnapshot(sourceKey, raw, updated)
}

func (r *Repo) SaveRules(ctx context.Context, snap rules.Snapshot) error {
	q, args, err := saveRulesQuery(snap)
	if err != nil {
		return err
	}
	if _, err := r.pool.Exec(ctx, q, args...); err != nil {
		return fmt.Errorf("postgres: save rules: %w", err)
	}
	return nil
}

func saveRulesQuery(snap rules.Snapshot) (string, []any, error) {
	raw, err := storage.EncodeRuleSet(snap.Rules)
	if err != nil {
		return "", nil, err
	}
	return psql.Insert(storage.RuleSetsTable).
		Columns("source_key", "rules", "updated_at").
		Values(snap.SourceKey, raw, snap.UpdatedAt.UTC()).
		Suffix("ON CONFLICT (source_key) DO UPDATE SET rules = EXCLUDED.rules, updated_at = EXCLUDED.updated_at").
		ToSql()
}

func (r *Repo) InsertEntries(ctx context.Context, entries []storage.Entry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var total int64
	for start := 0; start < len(entries); start += insertChunk {
		end := min(start+insertChunk, len(entries))
		q, args, err := insertEntriesQuery(entries[start:end])
		if err != nil {
			return 0, err
		}
		tag, err := tx.Exec(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("postgres: insert entries: %w", err)
		}
		total += tag.RowsAffected()
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return total, nil
}

// insertEntriesQuery builds one multi-row INSERT. Duplicate hashes are
// skipped by ON CONFLICT so reprocessing a word is idempotent.
func insertEntriesQuery(entries []storage.Entry) (string, []any, error) {
	b := psql.Insert(storage.EntriesTable).Columns(storage.EntryColumns...)
	for _, e := range entries {
		raw, err := storage.EncodeRecord(e.Record)
		if err != nil {
			return "", nil, err
		}
		b = b.Values(e.ID.String(), e.Word, e.Category, e.Scenario, e.SourceKey, raw, e.Hash, e.CreatedAt.UTC())
	}
	return b.Suffix("ON CONFLICT (hash) DO NOTHING").ToSql()
}

func (r *Repo) ListEntries(ctx context.Context, f storage.EntryFilter) ([]storage.Entry, error) {
	q, args, err := listEntriesQuery(f)
	if err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list entries: %w", err)
	}
	defer rows.Close()

	var out []storage.Entry
	for rows.Next() {
		var (
			e   storage.Entry
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &e.Word, &e.Category, &e.Scenario, &e.SourceKey, &raw, &e.Hash, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("postgres: entry id %q: %w", id, err)
		}
		if e.Record, err = storage.DecodeRecord(raw); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

func listEntriesQuery(f storage.EntryFilter) (string, []any, error) {
	cols := append([]string(nil), storage.EntryColumns...)
	cols[0] = "id::text"
	b := psql.Select(cols...).From(storage.EntriesTable)
	if eq := f.Eq(); len(eq) > 0 {
		b = b.Where(eq)
	}
	b = b.OrderBy("created_at", "id")
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	return b.ToSql()
}
