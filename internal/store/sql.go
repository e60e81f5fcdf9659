package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQL is a Store backed by a single table, one row per prefix, as described
// in spec.md §4.1 and §6 ("a single table with columns (prefix PK, target,
// last_activity, data-as-JSON)"). Writes are single-row transactions.
type SQL struct {
	db    *sql.DB
	table string
}

// SQLConfig configures the backend. DriverName defaults to "sqlite"
// (modernc.org/sqlite, pure Go, no cgo) but any database/sql driver
// registered under a different name can be substituted.
type SQLConfig struct {
	DriverName string
	DSN        string
	Table      string
}

// NewSQL opens the database, creates Table if absent, and returns a ready
// Store. The table name comes from CHP_DATABASE_TABLE (spec.md §6),
// defaulting to "routes".
func NewSQL(ctx context.Context, cfg SQLConfig) (*SQL, error) {
	driver := cfg.DriverName
	if driver == "" {
		driver = "sqlite"
	}
	table := cfg.Table
	if table == "" {
		table = "routes"
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("store: open sql backend: %w", err)
	}
	s := &SQL{db: db, table: table}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQL) migrate(ctx context.Context) error {
	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		prefix TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		last_activity INTEGER NOT NULL,
		data TEXT
	)`, s.table)
	_, err := s.db.ExecContext(ctx, stmt)
	if err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (s *SQL) scanRow(prefix, target string, lastActivityMs int64, data sql.NullString) Record {
	var raw json.RawMessage
	if data.Valid && data.String != "" {
		raw = json.RawMessage(data.String)
	}
	return Record{
		Prefix:       prefix,
		Target:       target,
		LastActivity: time.UnixMilli(lastActivityMs).UTC(),
		Data:         raw,
	}
}

func (s *SQL) GetTarget(ctx context.Context, path string) (Record, error) {
	norm, err := Normalize(path)
	if err != nil {
		return Record{}, err
	}
	all, err := s.GetAll(ctx)
	if err != nil {
		return Record{}, err
	}
	prefix, rec, ok := LongestMatch(all, norm)
	if !ok {
		return Record{}, ErrNotFound
	}
	rec.Prefix = prefix
	return rec, nil
}

func (s *SQL) Get(ctx context.Context, prefix string) (Record, error) {
	norm, err := Normalize(prefix)
	if err != nil {
		return Record{}, err
	}
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT prefix, target, last_activity, data FROM %s WHERE prefix = ?", s.table), norm)
	var p, target string
	var lastActivity int64
	var data sql.NullString
	if err := row.Scan(&p, &target, &lastActivity, &data); err != nil {
		if err == sql.ErrNoRows {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("store: get %q: %w", norm, err)
	}
	return s.scanRow(p, target, lastActivity, data), nil
}

func (s *SQL) GetAll(ctx context.Context) (map[string]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT prefix, target, last_activity, data FROM %s", s.table))
	if err != nil {
		return nil, fmt.Errorf("store: get_all: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Record)
	for rows.Next() {
		var p, target string
		var lastActivity int64
		var data sql.NullString
		if err := rows.Scan(&p, &target, &lastActivity, &data); err != nil {
			return nil, fmt.Errorf("store: get_all scan: %w", err)
		}
		out[p] = s.scanRow(p, target, lastActivity, data)
	}
	return out, rows.Err()
}

func (s *SQL) Add(ctx context.Context, prefix string, rec Record) error {
	norm, err := Normalize(prefix)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: add begin tx: %w", err)
	}
	defer tx.Rollback()

	var data sql.NullString
	if existing, err := s.getTx(ctx, tx, norm); err == nil {
		merged, err := MergeData(existing.Data, rec.Data)
		if err != nil {
			return err
		}
		if len(merged) > 0 {
			data = sql.NullString{String: string(merged), Valid: true}
		}
	} else if len(rec.Data) > 0 {
		data = sql.NullString{String: string(rec.Data), Valid: true}
	}

	stmt := fmt.Sprintf(`INSERT INTO %s (prefix, target, last_activity, data) VALUES (?, ?, ?, ?)
		ON CONFLICT(prefix) DO UPDATE SET target = excluded.target, last_activity = excluded.last_activity, data = excluded.data`, s.table)
	if _, err := tx.ExecContext(ctx, stmt, norm, rec.Target, rec.LastActivity.UnixMilli(), data); err != nil {
		return fmt.Errorf("store: add %q: %w", norm, err)
	}
	return tx.Commit()
}

func (s *SQL) getTx(ctx context.Context, tx *sql.Tx, prefix string) (Record, error) {
	row := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT prefix, target, last_activity, data FROM %s WHERE prefix = ?", s.table), prefix)
	var p, target string
	var lastActivity int64
	var data sql.NullString
	if err := row.Scan(&p, &target, &lastActivity, &data); err != nil {
		return Record{}, err
	}
	return s.scanRow(p, target, lastActivity, data), nil
}

func (s *SQL) Update(ctx context.Context, prefix string, p Patch) error {
	norm, err := Normalize(prefix)
	if err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: update begin tx: %w", err)
	}
	defer tx.Rollback()

	rec, err := s.getTx(ctx, tx, norm)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return fmt.Errorf("store: update %q: %w", norm, err)
	}
	if p.Target != nil {
		rec.Target = *p.Target
	}
	if p.LastActivity != nil {
		rec.LastActivity = *p.LastActivity
	}
	if len(p.Data) > 0 {
		merged, err := MergeData(rec.Data, p.Data)
		if err != nil {
			return err
		}
		rec.Data = merged
	}
	var data sql.NullString
	if len(rec.Data) > 0 {
		data = sql.NullString{String: string(rec.Data), Valid: true}
	}
	stmt := fmt.Sprintf("UPDATE %s SET target = ?, last_activity = ?, data = ? WHERE prefix = ?", s.table)
	if _, err := tx.ExecContext(ctx, stmt, rec.Target, rec.LastActivity.UnixMilli(), data, norm); err != nil {
		return fmt.Errorf("store: update exec %q: %w", norm, err)
	}
	return tx.Commit()
}

func (s *SQL) Remove(ctx context.Context, prefix string) error {
	norm, err := Normalize(prefix)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE prefix = ?", s.table), norm)
	if err != nil {
		return fmt.Errorf("store: remove %q: %w", norm, err)
	}
	return nil
}

func (s *SQL) Close() error { return s.db.Close() }
