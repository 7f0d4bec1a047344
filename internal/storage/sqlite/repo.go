// Package sqlite is the default storage backend, backed by modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"vocabetl/internal/rules"
	"vocabetl/internal/storage"
)

// SQLite has no timestamp type. Times are stored as fixed-width UTC text so
// lexical order matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// insertChunk bounds the rows per INSERT so the bound-variable count stays
// well below SQLite's limit.
const insertChunk = 500

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Question)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ` + storage.RuleSetsTable + ` (
		source_key TEXT PRIMARY KEY,
		rules      TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ` + storage.EntriesTable + ` (
		id         TEXT PRIMARY KEY,
		word       TEXT NOT NULL,
		category   TEXT NOT NULL,
		scenario   TEXT NOT NULL DEFAULT '',
		source_key TEXT NOT NULL,
		record     TEXT NOT NULL,
		hash       TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS ` + storage.EntriesTable + `_word_idx ON ` + storage.EntriesTable + ` (word)`,
}

// Repo implements storage.Repository for SQLite.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return Open(ctx, cfg.DSN)
	})
}

// Open connects to dsn (a file path or "file::memory:") and creates the
// schema if needed.
func Open(ctx context.Context, dsn string) (*Repo, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// One writer at a time; also keeps in-memory databases on one connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: create schema: %w", err)
		}
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) LoadRules(ctx context.Context, sourceKey string) (rules.Snapshot, error) {
	q, args, err := psql.Select("rules", "updated_at").
		From(storage.RuleSetsTable).
		Where(sq.Eq{"source_key": sourceKey}).
		ToSql()
	if err != nil {
		return rules.Snapshot{}, err
	}

	var raw, updated string
	err = r.db.QueryRowContext(ctx, q, args...).Scan(&raw, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return rules.Snapshot{}, storage.NotFound(sourceKey)
	}
	if err != nil {
		return rules.Snapshot{}, fmt.Errorf("sqlite: load rules: %w", err)
	}

	ts, err := parseTime(updated)
	if err != nil {
		return rules.Snapshot{}, err
	}
	return storage.DecodeSnapshot(sourceKey, []byte(raw), ts)
}

func (r *Repo) SaveRules(ctx context.Context, snap rules.Snapshot) error {
	q, args, err := saveRulesQuery(snap)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		return fmt.Errorf("sqlite: save rules: %w", err)
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
		Values(snap.SourceKey, string(raw), formatTime(snap.UpdatedAt)).
		Suffix("ON CONFLICT (source_key) DO UPDATE SET rules = excluded.rules, updated_at = excluded.updated_at").
		ToSql()
}

// InsertEntries relies on the UNIQUE hash column: OR IGNORE skips duplicates
// and RowsAffected counts only new rows.
func (r *Repo) InsertEntries(ctx context.Context, entries []storage.Entry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for start := 0; start < len(entries); start += insertChunk {
		end := min(start+insertChunk, len(entries))
		q, args, err := insertEntriesQuery(entries[start:end])
		if err != nil {
			return 0, err
		}
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return 0, fmt.Errorf("sqlite: insert entries: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, err
		}
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

func insertEntriesQuery(entries []storage.Entry) (string, []any, error) {
	b := psql.Insert(storage.EntriesTable).Options("OR IGNORE").Columns(storage.EntryColumns...)
	for _, e := range entries {
		raw, err := storage.EncodeRecord(e.Record)
		if err != nil {
			return "", nil, err
		}
		b = b.Values(e.ID.String(), e.Word, e.Category, e.Scenario, e.SourceKey, string(raw), e.Hash, formatTime(e.CreatedAt))
	}
	return b.ToSql()
}

func (r *Repo) ListEntries(ctx context.Context, f storage.EntryFilter) ([]storage.Entry, error) {
	q, args, err := listEntriesQuery(f)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list entries: %w", err)
	}
	defer rows.Close()

	var out []storage.Entry
	for rows.Next() {
		var (
			e                  storage.Entry
			id, raw, createdAt string
		)
		if err := rows.Scan(&id, &e.Word, &e.Category, &e.Scenario, &e.SourceKey, &raw, &e.Hash, &createdAt); err != nil {
			return nil, err
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("sqlite: entry id %q: %w", id, err)
		}
		if e.Record, err = storage.DecodeRecord([]byte(raw)); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func listEntriesQuery(f storage.EntryFilter) (string, []any, error) {
	b := psql.Select(storage.EntryColumns...).From(storage.EntriesTable)
	if eq := f.Eq(); len(eq) > 0 {
		b = b.Where(eq)
	}
	b = b.OrderBy("created_at", "rowid")
	if f.Limit > 0 {
		b = b.Limit(uint64(f.Limit))
	}
	return b.ToSql()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parse time %q: %w", s, err)
	}
	return t.UTC(), nil
}
