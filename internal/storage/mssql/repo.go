// Package mssql stores rule sets and entries in Microsoft SQL Server.
//
// This package does not import a driver. The "sqlserver" driver must be
// registered with database/sql before Open is called; internal/storage/all
// does that.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"vocabetl/internal/rules"
	"vocabetl/internal/storage"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.AtP)

var schema = []string{
	`IF OBJECT_ID(N'` + storage.RuleSetsTable + `', N'U') IS NULL
	CREATE TABLE ` + storage.RuleSetsTable + ` (
		source_key NVARCHAR(450) NOT NULL PRIMARY KEY,
		rules      NVARCHAR(MAX) NOT NULL,
		updated_at DATETIME2 NOT NULL
	)`,
	`IF OBJECT_ID(N'` + storage.EntriesTable + `', N'U') IS NULL
	CREATE TABLE ` + storage.EntriesTable + ` (
		id         NVARCHAR(36) NOT NULL PRIMARY KEY,
		word       NVARCHAR(450) NOT NULL,
		category   NVARCHAR(200) NOT NULL,
		scenario   NVARCHAR(450) NOT NULL DEFAULT '',
		source_key NVARCHAR(2000) NOT NULL,
		record     NVARCHAR(MAX) NOT NULL,
		hash       NVARCHAR(64) NOT NULL UNIQUE,
		created_at DATETIME2 NOT NULL
	)`,
}

// Repo implements storage.Repository for SQL Server.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return Open(ctx, cfg.DSN)
	})
}

// Open connects with the "sqlserver" driver and creates the schema.
func Open(ctx context.Context, dsn string) (*Repo, error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(8)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("mssql: create schema: %w", err)
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

	var (
		raw     string
		updated time.Time
	)
	err = r.db.QueryRowContext(ctx, q, args...).Scan(&raw, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return rules.Snapshot{}, storage.NotFound(sourceKey)
	}
	if err != nil {
		return rules.Snapshot{}, fmt.Errorf("mssql: load rules: %w", err)
	}
	return storage.DecodeSnapshot(sourceKey, []byte(raw), updated)
}

// SaveRules updates the row for the key and inserts it when the update
// touched nothing. The UPDLOCK read serializes concurrent writers per key.
func (r *Repo) SaveRules(ctx context.Context, snap rules.Snapshot) error {
	raw, err := storage.EncodeRuleSet(snap.Rules)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	upd, args, err := psql.Update(storage.RuleSetsTable+" WITH (UPDLOCK, HOLDLOCK)").
		Set("rules", string(raw)).
		Set("updated_at", snap.UpdatedAt.UTC()).
		Where(sq.Eq{"source_key": snap.SourceKey}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, upd, args...)
	if err != nil {
		return fmt.Errorf("mssql: update rules: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		ins, args, err := psql.Insert(storage.RuleSetsTable).
			Columns("source_key", "rules", "updated_at").
			Values(snap.SourceKey, string(raw), snap.UpdatedAt.UTC()).
			ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, ins, args...); err != nil {
			return fmt.Errorf("mssql: insert rules: %w", err)
		}
	}
	return tx.Commit()
}

// InsertEntries writes row by row inside one transaction, skipping hashes
// that already exist in the table or earlier in the batch.
func (r *Repo) InsertEntries(ctx context.Context, entries []storage.Entry) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	seen := make(map[string]struct{}, len(entries))
	var total int64
	for _, e := range entries {
		if _, dup := seen[e.Hash]; dup {
			continue
		}
		seen[e.Hash] = struct{}{}

		exists, err := hashExists(ctx, tx, e.Hash)
		if err != nil {
			return 0, err
		}
		if exists {
			continue
		}

		q, args, err := insertEntryQuery(e)
		if err != nil {
			return 0, err
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return 0, fmt.Errorf("mssql: insert entry %s: %w", e.Word, err)
		}
		total++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

func hashExists(ctx context.Context, tx *sql.Tx, hash string) (bool, error) {
	q, args, err := hashExistsQuery(hash)
	if err != nil {
		return false, err
	}
	var n int
	if err := tx.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return false, fmt.Errorf("mssql: check hash: %w", err)
	}
	return n > 0, nil
}

func hashExistsQuery(hash string) (string, []any, error) {
	return psql.Select("COUNT(1)").
		From(storage.EntriesTable + " WITH (UPDLOCK, HOLDLOCK)").
		Where(sq.Eq{"hash": hash}).
		ToSql()
}

func insertEntryQuery(e storage.Entry) (string, []any, error) {
	raw, err := storage.EncodeRecord(e.Record)
	if err != nil {
		return "", nil, err
	}
	return psql.Insert(storage.EntriesTable).
		Columns(storage.EntryColumns...).
		Values(e.ID.String(), e.Word, e.Category, e.Scenario, e.SourceKey, string(raw), e.Hash, e.CreatedAt.UTC()).
		ToSql()
}

func (r *Repo) ListEntries(ctx context.Context, f storage.EntryFilter) ([]storage.Entry, error) {
	q, args, err := listEntriesQuery(f)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("mssql: list entries: %w", err)
	}
	defer rows.Close()

	var out []storage.Entry
	for rows.Next() {
		var (
			e       storage.Entry
			id, raw string
		)
		if err := rows.Scan(&id, &e.Word, &e.Category, &e.Scenario, &e.SourceKey, &raw, &e.Hash, &e.CreatedAt); err != nil {
			return nil, err
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("mssql: entry id %q: %w", id, err)
		}
		if e.Record, err = storage.DecodeRecord([]byte(raw)); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// listEntriesQuery uses TOP because SQL Server has no LIMIT clause.
func listEntriesQuery(f storage.EntryFilter) (string, []any, error) {
	b := psql.Select(storage.EntryColumns...).From(storage.EntriesTable)
	if f.Limit > 0 {
		b = b.Options(fmt.Sprintf("TOP (%d)", f.Limit))
	}
	if eq := f.Eq(); len(eq) > 0 {
		b = b.Where(eq)
	}
	return b.OrderBy("created_at", "id").ToSql()
}
