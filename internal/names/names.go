// Package names persists custom thread names and pin timestamps in SQLite,
// keyed by (workspace id, thread id).
package names

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrClosed is returned by every call after Close.
var ErrClosed = errors.New("names store closed")

// Record is the persisted naming state of one thread.
type Record struct {
	WorkspaceID string
	ThreadID    string
	Name        string
	PinnedAt    time.Time
}

// Store handles SQLite operations for thread names and pins
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	dbPath string
	closed bool
}

// Open opens (and creates if needed) the database at dbPath
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, dbPath: dbPath}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

// Close closes the database connection
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS thread_names (
		workspace_id TEXT NOT NULL,
		thread_id TEXT NOT NULL,
		name TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (workspace_id, thread_id)
	);

	CREATE TABLE IF NOT EXISTS thread_pins (
		workspace_id TEXT NOT NULL,
		thread_id TEXT NOT NULL,
		pinned_at INTEGER NOT NULL,
		PRIMARY KEY (workspace_id, thread_id)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Load returns every thread with a custom name or a pin, ordered by
// workspace and thread id.
func (s *Store) Load(ctx context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	records := make(map[[2]string]*Record)
	get := func(workspaceID, threadID string) *Record {
		key := [2]string{workspaceID, threadID}
		r, ok := records[key]
		if !ok {
			r = &Record{WorkspaceID: workspaceID, ThreadID: threadID}
			records[key] = r
		}
		return r
	}

	rows, err := s.db.QueryContext(ctx, `SELECT workspace_id, thread_id, name FROM thread_names`)
	if err != nil {
		return nil, fmt.Errorf("failed to query names: %w", err)
	}
	for rows.Next() {
		var workspaceID, threadID, name string
		if err := rows.Scan(&workspaceID, &threadID, &name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan name: %w", err)
		}
		get(workspaceID, threadID).Name = name
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to read names: %w", err)
	}
	rows.Close()

	rows, err = s.db.QueryContext(ctx, `SELECT workspace_id, thread_id, pinned_at FROM thread_pins`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pins: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var workspaceID, threadID string
		var pinnedAt int64
		if err := rows.Scan(&workspaceID, &threadID, &pinnedAt); err != nil {
			return nil, fmt.Errorf("failed to scan pin: %w", err)
		}
		get(workspaceID, threadID).PinnedAt = time.UnixMilli(pinnedAt).UTC()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pins: %w", err)
	}

	out := make([]Record, 0, len(records))
	for _, r := range records {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WorkspaceID != out[j].WorkspaceID {
			return out[i].WorkspaceID < out[j].WorkspaceID
		}
		return out[i].ThreadID < out[j].ThreadID
	})
	return out, nil
}

// SetName stores a custom name. An empty name removes the override.
func (s *Store) SetName(ctx context.Context, workspaceID, threadID, name string) error {
	if name == "" {
		return s.exec(ctx, "failed to clear name",
			`DELETE FROM thread_names WHERE workspace_id = ? AND thread_id = ?`,
			workspaceID, threadID)
	}
	return s.exec(ctx, "failed to save name", `
		INSERT INTO thread_names (workspace_id, thread_id, name, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (workspace_id, thread_id) DO UPDATE SET
			name = excluded.name,
			updated_at = excluded.updated_at`,
		workspaceID, threadID, name, time.Now().UnixMilli())
}

// SetPinned stores a pin timestamp.
func (s *Store) SetPinned(ctx context.Context, workspaceID, threadID string, pinnedAt time.Time) error {
	return s.exec(ctx, "failed to save pin", `
		INSERT INTO thread_pins (workspace_id, thread_id, pinned_at)
		VALUES (?, ?, ?)
		ON CONFLICT (workspace_id, thread_id) DO UPDATE SET pinned_at = excluded.pinned_at`,
		workspaceID, threadID, pinnedAt.UnixMilli())
}

// ClearPinned removes a pin.
func (s *Store) ClearPinned(ctx context.Context, workspaceID, threadID string) error {
	return s.exec(ctx, "failed to clear pin",
		`DELETE FROM thread_pins WHERE workspace_id = ? AND thread_id = ?`,
		workspaceID, threadID)
}

// DeleteThread forgets everything stored for a thread.
func (s *Store) DeleteThread(ctx context.Context, workspaceID, threadID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"thread_names", "thread_pins"} {
		query := fmt.Sprintf(`DELETE FROM %s WHERE workspace_id = ? AND thread_id = ?`, table)
		if _, err := tx.ExecContext(ctx, query, workspaceID, threadID); err != nil {
			return fmt.Errorf("failed to delete from %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// RelinkThread moves stored state from oldThreadID to newThreadID.
func (s *Store) RelinkThread(ctx context.Context, workspaceID, oldThreadID, newThreadID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"thread_names", "thread_pins"} {
		query := fmt.Sprintf(`UPDATE OR IGNORE %s SET thread_id = ? WHERE workspace_id = ? AND thread_id = ?`, table)
		if _, err := tx.ExecContext(ctx, query, newThreadID, workspaceID, oldThreadID); err != nil {
			return fmt.Errorf("failed to relink %s: %w", table, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

func (s *Store) exec(ctx context.Context, what, query string, args ...any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	return nil
}
