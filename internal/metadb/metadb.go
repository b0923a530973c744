// Package metadb persists user-assigned session metadata (tags, pins) in a
// SQLite database. The registry itself is ephemeral; this is the only state
// that survives a daemon restart.
package metadb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version.
const SchemaVersion = 1

// DB wraps the SQLite handle. Safe for concurrent use within one process;
// WAL mode plus a busy timeout keeps cross-process access safe too.
type DB struct {
	db *sql.DB
}

// Meta is the persisted per-session metadata row.
type Meta struct {
	SessionID string    `json:"session_id"`
	Tag       string    `json:"tag"`
	Pinned    bool      `json:"pinned"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Open creates or opens the database at dbPath and runs migrations.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("metadb: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("metadb: open: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("metadb: %s: %w", pragma, err)
		}
	}

	m := &DB{db: db}
	if err := m.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return m, nil
}

// Close releases the database handle.
func (m *DB) Close() error {
	return m.db.Close()
}

func (m *DB) migrate() error {
	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("metadb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("metadb: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS session_meta (
			session_id TEXT PRIMARY KEY,
			tag        TEXT NOT NULL DEFAULT '',
			pinned     INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("metadb: create session_meta: %w", err)
	}

	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)
	`, fmt.Sprintf("%d", SchemaVersion)); err != nil {
		return fmt.Errorf("metadb: set schema version: %w", err)
	}

	return tx.Commit()
}

// Set upserts the metadata row for a session.
func (m *DB) Set(meta Meta) error {
	if meta.UpdatedAt.IsZero() {
		meta.UpdatedAt = time.Now()
	}
	_, err := m.db.Exec(`
		INSERT INTO session_meta (session_id, tag, pinned, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			tag = excluded.tag,
			pinned = excluded.pinned,
			updated_at = excluded.updated_at
	`, meta.SessionID, meta.Tag, boolToInt(meta.Pinned), meta.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("metadb: set %s: %w", meta.SessionID, err)
	}
	return nil
}

// Get returns the metadata for a session, ok=false when none is stored.
func (m *DB) Get(sessionID string) (Meta, bool, error) {
	row := m.db.QueryRow(`
		SELECT session_id, tag, pinned, updated_at
		FROM session_meta WHERE session_id = ?
	`, sessionID)

	meta, err := scanMeta(row)
	if err == sql.ErrNoRows {
		return Meta{}, false, nil
	}
	if err != nil {
		return Meta{}, false, fmt.Errorf("metadb: get %s: %w", sessionID, err)
	}
	return meta, true, nil
}

// All returns every stored metadata row keyed by session id.
func (m *DB) All() (map[string]Meta, error) {
	rows, err := m.db.Query(`SELECT session_id, tag, pinned, updated_at FROM session_meta`)
	if err != nil {
		return nil, fmt.Errorf("metadb: list: %w", err)
	}
	defer rows.Close()

	out := make(map[string]Meta)
	for rows.Next() {
		meta, err := scanMeta(rows)
		if err != nil {
			return nil, fmt.Errorf("metadb: scan: %w", err)
		}
		out[meta.SessionID] = meta
	}
	return out, rows.Err()
}

// Delete removes a session's metadata.
func (m *DB) Delete(sessionID string) error {
	if _, err := m.db.Exec(`DELETE FROM session_meta WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("metadb: delete %s: %w", sessionID, err)
	}
	return nil
}

// Prune drops rows not updated since the cutoff, returning how many were
// removed. Keeps the table from accumulating metadata for long-dead panes.
func (m *DB) Prune(olderThan time.Time) (int64, error) {
	res, err := m.db.Exec(`DELETE FROM session_meta WHERE updated_at < ?`, olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("metadb: prune: %w", err)
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeta(row rowScanner) (Meta, error) {
	var meta Meta
	var pinned int
	var updatedAt int64
	if err := row.Scan(&meta.SessionID, &meta.Tag, &pinned, &updatedAt); err != nil {
		return Meta{}, err
	}
	meta.Pinned = pinned != 0
	meta.UpdatedAt = time.Unix(updatedAt, 0)
	return meta, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
