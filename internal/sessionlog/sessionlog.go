// Package sessionlog is the replay engine's append-only audit trail of
// control-plane operations: observability only, never
// read back to restore playback state.
package sessionlog

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/google/uuid"
)

// Operation is one recorded control-plane action.
type Operation string

const (
	OpStart  Operation = "start"
	OpStop   Operation = "stop"
	OpPause  Operation = "pause"
	OpResume Operation = "resume"
	OpSeek   Operation = "seek"
	OpSpeed  Operation = "speed"
)

// Entry is one row of the audit log.
type Entry struct {
	ID        string
	SessionID string
	Operation Operation
	Detail    string
	CreatedAt time.Time
}

// Store is a sqlite-backed append-only audit log, grounded on the
// teacher's SQLiteRepository (InitSchema/Create/List shape).
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open session log: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS session_operations (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	detail TEXT,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_operations_session_id ON session_operations(session_id);
CREATE INDEX IF NOT EXISTS idx_session_operations_created_at ON session_operations(created_at);
`)
	if err != nil {
		return fmt.Errorf("init session log schema: %w", err)
	}
	return nil
}

// Record appends one operation to the audit log.
func (s *Store) Record(sessionID string, op Operation, detail string) error {
	id := uuid.NewString()
	_, err := s.db.Exec(
		`INSERT INTO session_operations (id, session_id, operation, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, sessionID, string(op), detail, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("record session operation: %w", err)
	}
	return nil
}

// List returns every recorded operation for sessionID, oldest first.
func (s *Store) List(sessionID string) ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT id, session_id, operation, detail, created_at FROM session_operations WHERE session_id = ? ORDER BY created_at ASC`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("list session operations: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var op string
		if err := rows.Scan(&e.ID, &e.SessionID, &op, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session operation: %w", err)
		}
		e.Operation = Operation(op)
		out = append(out, e)
	}
	return out, rows.Err()
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
