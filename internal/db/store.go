package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/madhatter5501/blaze/kanban"
)

// DefaultHistory is how many superseded documents Store keeps.
const DefaultHistory = 20

// Store keeps the board document in SQLite. It implements kanban.Backend:
// the board is still one JSON document, saved in a single transaction.
type Store struct {
	db      *DB
	history int
}

// Revision is a previously saved board document.
type Revision struct {
	Revision int64
	Body     []byte
	SavedAt  time.Time
}

// NewStore creates a store over db keeping history superseded documents.
func NewStore(db *DB, history int) *Store {
	if history < 0 {
		history = 0
	}
	return &Store{db: db, history: history}
}

var _ kanban.Backend = (*Store)(nil)

// Load returns the current document or kanban.ErrNoDocument.
func (s *Store) Load() ([]byte, error) {
	var body string
	err := s.db.QueryRow("SELECT body FROM board_document WHERE id = 1").Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, kanban.ErrNoDocument
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read board document: %w", err)
	}
	return []byte(body), nil
}

// Save replaces the current document, moving the previous one into the
// revision history and trimming it to the configured size.
func (s *Store) Save(data []byte) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(time.RFC3339Nano)

	var (
		prevBody    string
		prevRev     int64
		prevSavedAt string
	)
	err = tx.QueryRow("SELECT body, revision, saved_at FROM board_document WHERE id = 1").
		Scan(&prevBody, &prevRev, &prevSavedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to read current document: %w", err)
	case s.history > 0:
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO board_revisions (revision, body, saved_at) VALUES (?, ?, ?)",
			prevRev, prevBody, prevSavedAt,
		); err != nil {
			return fmt.Errorf("failed to record revision: %w", err)
		}
		if _, err := tx.Exec(
			"DELETE FROM board_revisions WHERE revision <= ?",
			prevRev-int64(s.history),
		); err != nil {
			return fmt.Errorf("failed to trim revisions: %w", err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO board_document (id, body, revision, saved_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET body = excluded.body, revision = excluded.revision, saved_at = excluded.saved_at`,
		string(data), prevRev+1, now,
	); err != nil {
		return fmt.Errorf("failed to write board document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit board document: %w", err)
	}
	return nil
}

// Revision returns the revision number of the current document, or 0.
func (s *Store) Revision() (int64, error) {
	var rev int64
	err := s.db.QueryRow("SELECT revision FROM board_document WHERE id = 1").Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read revision: %w", err)
	}
	return rev, nil
}

// History returns superseded documents, newest first.
func (s *Store) History() ([]Revision, error) {
	rows, err := s.db.Query("SELECT revision, body, saved_at FROM board_revisions ORDER BY revision DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query revisions: %w", err)
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		var (
			r       Revision
			body    string
			savedAt string
		)
		if err := rows.Scan(&r.Revision, &body, &savedAt); err != nil {
			return nil, fmt.Errorf("failed to scan revision: %w", err)
		}
		r.Body = []byte(body)
		if r.SavedAt, err = time.Parse(time.RFC3339Nano, savedAt); err != nil {
			return nil, fmt.Errorf("failed to parse revision time: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
