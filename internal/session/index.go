package session

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// IndexEntry is one row of the session index: enough to answer
// "what sessions exist and are they still running" across daemon
// restarts without replaying every JSONL file.
type IndexEntry struct {
	SessionID string
	DeviceID  string
	CreatedAt time.Time
	Status    string // "active" or "ended"
}

// Index is a small SQLite-backed session index, replacing the teacher's
// JSON-file SessionIndex with crash-safe durability across qorvexd
// restarts.
type Index struct {
	db *sql.DB
}

// OpenIndex opens (creating if absent) the session index database under
// dataDir.
func OpenIndex(dataDir string) (*Index, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("session: create index dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "sessions.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("session: open index: %w", err)
	}
	idx := &Index{db: db}
	if err := idx.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("session: migrate index: %w", err)
	}
	return idx, nil
}

func (idx *Index) migrate() error {
	_, err := idx.db.Exec(`
	CREATE TABLE IF NOT EXISTS sessions (
		session_id TEXT PRIMARY KEY,
		device_id  TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		status     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
	`)
	return err
}

// Close closes the underlying database handle.
func (idx *Index) Close() error {
	return idx.db.Close()
}

// Upsert records or updates a session's index row.
func (idx *Index) Upsert(entry IndexEntry) error {
	_, err := idx.db.Exec(`
	INSERT INTO sessions (session_id, device_id, created_at, status)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(session_id) DO UPDATE SET device_id = excluded.device_id,
		status = excluded.status`,
		entry.SessionID, entry.DeviceID, entry.CreatedAt, entry.Status)
	return err
}

// SetStatus updates just the status column for an existing session.
func (idx *Index) SetStatus(sessionID, status string) error {
	_, err := idx.db.Exec(`UPDATE sessions SET status = ? WHERE session_id = ?`, status, sessionID)
	return err
}

// Get retrieves one session's index row.
func (idx *Index) Get(sessionID string) (IndexEntry, bool, error) {
	row := idx.db.QueryRow(`SELECT session_id, device_id, created_at, status FROM sessions WHERE session_id = ?`, sessionID)
	var e IndexEntry
	if err := row.Scan(&e.SessionID, &e.DeviceID, &e.CreatedAt, &e.Status); err != nil {
		if err == sql.ErrNoRows {
			return IndexEntry{}, false, nil
		}
		return IndexEntry{}, false, err
	}
	return e, true, nil
}

// ListByStatus returns every session with the given status.
func (idx *Index) ListByStatus(status string) ([]IndexEntry, error) {
	rows, err := idx.db.Query(`SELECT session_id, device_id, created_at, status FROM sessions WHERE status = ?`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IndexEntry
	for rows.Next() {
		var e IndexEntry
		if err := rows.Scan(&e.SessionID, &e.DeviceID, &e.CreatedAt, &e.Status); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
