// Package history provides the SQLite-backed intervention journal.
//
// The journal records what vigil did and when; the live counters
// themselves are in-memory only and never persisted.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Entry is one journal row.
type Entry struct {
	ID         int64     `json:"id"`
	PID        int       `json:"pid"`
	Kind       string    `json:"kind"` // intervention type or terminal transition
	Recovery   string    `json:"recovery,omitempty"`
	Attempt    int       `json:"attempt"`
	Message    string    `json:"message,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Journal is a single-writer SQLite store.
type Journal struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Open opens or creates the journal database at path. An empty path
// defaults to state-dir/history.db under the caller-provided directory.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("history: path required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	// SQLite supports only one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}

	j := &Journal{db: db, path: path}
	if err := j.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.db.Close()
}

// Path returns the database file path.
func (j *Journal) Path() string {
	return j.path
}

func (j *Journal) migrate() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(`
		CREATE TABLE IF NOT EXISTS interventions (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			pid         INTEGER NOT NULL,
			kind        TEXT NOT NULL,
			recovery    TEXT,
			attempt     INTEGER NOT NULL DEFAULT 0,
			message     TEXT,
			recorded_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_interventions_pid ON interventions(pid);
		CREATE INDEX IF NOT EXISTS idx_interventions_time ON interventions(recorded_at);
	`)
	if err != nil {
		return fmt.Errorf("migrate history db: %w", err)
	}
	return nil
}

// Record appends one entry to the journal.
func (j *Journal) Record(e *Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}

	result, err := j.db.Exec(`
		INSERT INTO interventions (pid, kind, recovery, attempt, message, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.PID, e.Kind, e.Recovery, e.Attempt, e.Message, e.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("record intervention: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get intervention id: %w", err)
	}
	e.ID = id
	return nil
}

// ListRecent returns the most recent entries, newest first. pid 0 means
// all instances.
func (j *Journal) ListRecent(pid int, limit int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	var rows *sql.Rows
	var err error
	if pid == 0 {
		rows, err = j.db.Query(`
			SELECT id, pid, kind, COALESCE(recovery, ''), attempt, COALESCE(message, ''), recorded_at
			FROM interventions ORDER BY id DESC LIMIT ?`, limit)
	} else {
		rows, err = j.db.Query(`
			SELECT id, pid, kind, COALESCE(recovery, ''), attempt, COALESCE(message, ''), recorded_at
			FROM interventions WHERE pid = ? ORDER BY id DESC LIMIT ?`, pid, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list interventions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.PID, &e.Kind, &e.Recovery, &e.Attempt, &e.Message, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan intervention: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries older than the retention period.
func (j *Journal) Prune(retention time.Duration) (int64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	cutoff := time.Now().UTC().Add(-retention)
	result, err := j.db.Exec(`DELETE FROM interventions WHERE recorded_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune interventions: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
