package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store persists audit entries. Implementations must preserve append order.
type Store interface {
	AppendEntry(e *Entry) error
	LoadEntries() ([]*Entry, error)
	Close() error
}

// SQLiteStore keeps the chain in a single append-only sqlite table. The full
// entry is stored as JSON alongside the chain columns so the chain can be
// replayed and verified without schema churn.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	entry_id    TEXT NOT NULL UNIQUE,
	decision_id TEXT,
	prev_hash   TEXT NOT NULL,
	entry_hash  TEXT NOT NULL,
	body        TEXT NOT NULL,
	created_at  TEXT NOT NULL
);
`

// OpenSQLiteStore opens (and migrates) the audit database at path.
// ":memory:" is accepted for tests.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db %s: %w", path, err)
	}
	// Appends are serialized by the trail; one connection avoids sqlite
	// write contention.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit db: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// AppendEntry writes one entry.
func (s *SQLiteStore) AppendEntry(e *Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode entry: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO audit_entries (entry_id, decision_id, prev_hash, entry_hash, body, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.EntryID, e.DecisionID, e.PrevHash, e.EntryHash, string(body), e.Timestamp.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert entry %s: %w", e.EntryID, err)
	}
	return nil
}

// LoadEntries returns all entries in append order.
func (s *SQLiteStore) LoadEntries() ([]*Entry, error) {
	rows, err := s.db.Query(`SELECT body FROM audit_entries ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		var e Entry
		if err := json.Unmarshal([]byte(body), &e); err != nil {
			return nil, fmt.Errorf("decode stored entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
