/*
Package sqlite provides a SQLite-backed implementation of the storage
ports.

PURPOSE:
  Durable, indexed persistence for ledger entries and exemption
  windows. The same patterns apply to PostgreSQL - only minor SQL
  dialect differences.

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE statements ever touch the entries table.
  Corrections are made via adjustment entries only.

KEY TABLES:
  entries: Immutable ledger of all balance changes
  windows: Snapshot of currently-active exemption windows

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging): multiple readers
  don't block, single writer at a time, better crash recovery. That
  matches the engine's own locking discipline.

USAGE:
  st, err := sqlite.New("./points.db")   // ":memory:" for tests
  defer st.Close()

SEE ALSO:
  - economy/store.go: Port definitions
  - economy/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/points-engine/economy"
)

// Store implements economy.Store and economy.WindowStore over SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens the database at dbPath (":memory:" for an in-memory one)
// and migrates the schema.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	-- Ledger entries (append-only)
	CREATE TABLE IF NOT EXISTS entries (
		id TEXT PRIMARY KEY,
		child_id TEXT NOT NULL,
		app_id TEXT NOT NULL DEFAULT '',
		entry_type TEXT NOT NULL,
		amount INTEGER NOT NULL,
		timestamp TEXT NOT NULL
	);

	-- Hot path: per-child balance folds
	CREATE INDEX IF NOT EXISTS idx_entries_child
		ON entries(child_id);
	CREATE INDEX IF NOT EXISTS idx_entries_child_app
		ON entries(child_id, app_id);
	CREATE INDEX IF NOT EXISTS idx_entries_child_time
		ON entries(child_id, timestamp DESC);

	-- Active exemption windows (full snapshot, replaced on save)
	CREATE TABLE IF NOT EXISTS windows (
		id TEXT PRIMARY KEY,
		child_id TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		start TEXT NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// LEDGER ENTRIES
// =============================================================================

func (s *Store) Append(ctx context.Context, e economy.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entries (id, child_id, app_id, entry_type, amount, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		string(e.ID), string(e.ChildID), string(e.AppID), string(e.Type),
		e.Amount, e.Timestamp.UTC().Format(time.RFC3339Nano))
	return err
}

func (s *Store) AppendBatch(ctx context.Context, es []economy.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entries (id, child_id, app_id, entry_type, amount, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range es {
		if _, err := stmt.ExecContext(ctx,
			string(e.ID), string(e.ChildID), string(e.AppID), string(e.Type),
			e.Amount, e.Timestamp.UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) LoadByChild(ctx context.Context, childID economy.ChildID) ([]economy.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, child_id, app_id, entry_type, amount, timestamp
		 FROM entries WHERE child_id = ? ORDER BY rowid`,
		string(childID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []economy.LedgerEntry
	for rows.Next() {
		var e economy.LedgerEntry
		var id, child, app, typ, ts string
		if err := rows.Scan(&id, &child, &app, &typ, &e.Amount, &ts); err != nil {
			return nil, err
		}
		e.ID = economy.EntryID(id)
		e.ChildID = economy.ChildID(child)
		e.AppID = economy.AppID(app)
		e.Type = economy.EntryType(typ)
		e.Timestamp, err = time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("corrupt timestamp for entry %s: %w", id, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) Children(ctx context.Context) ([]economy.ChildID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT child_id FROM entries ORDER BY child_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []economy.ChildID
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, economy.ChildID(c))
	}
	return out, rows.Err()
}

// =============================================================================
// EXEMPTION WINDOWS
// =============================================================================

// SaveWindows replaces the stored snapshot with the given set.
func (s *Store) SaveWindows(ctx context.Context, ws []economy.EarnedTimeWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM windows`); err != nil {
		return err
	}
	for _, w := range ws {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO windows (id, child_id, duration_ms, start) VALUES (?, ?, ?, ?)`,
			string(w.ID), string(w.ChildID), w.Duration.Milliseconds(),
			w.Start.UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) LoadWindows(ctx context.Context) ([]economy.EarnedTimeWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT id, child_id, duration_ms, start FROM windows`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []economy.EarnedTimeWindow
	for rows.Next() {
		var w economy.EarnedTimeWindow
		var id, child, start string
		var durMs int64
		if err := rows.Scan(&id, &child, &durMs, &start); err != nil {
			return nil, err
		}
		w.ID = economy.WindowID(id)
		w.ChildID = economy.ChildID(child)
		w.Duration = time.Duration(durMs) * time.Millisecond
		w.Start, err = time.Parse(time.RFC3339Nano, start)
		if err != nil {
			return nil, fmt.Errorf("corrupt start time for window %s: %w", id, err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

var (
	_ economy.Store       = (*Store)(nil)
	_ economy.WindowStore = (*Store)(nil)
)
