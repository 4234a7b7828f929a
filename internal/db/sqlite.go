// Package db provides SQLite-based persistence for the board.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps the SQL database connection.
type DB struct {
	*sql.DB
	path string
}

// Open opens or creates a SQLite database at the given path.
func Open(dbPath string) (*DB, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The board has a single writer; one connection keeps writes ordered.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if _, err := db.Exec("PRAGMA synchronous=FULL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}

	d := &DB{DB: db, path: dbPath}

	// Run migrations
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	return d, nil
}

// Path returns the database file location.
func (d *DB) Path() string {
	return d.path
}

// migrate runs database migrations.
func (d *DB) migrate() error {
	// Create migrations table
	_, err := d.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	// Get current version
	var version int
	row := d.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&version); err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	// Apply migrations
	migrations := []struct {
		version int
		sql     string
	}{
		{1, migration1},
		{2, migration2},
	}

	for _, m := range migrations {
		if m.version <= version {
			continue
		}

		if _, err := d.Exec(m.sql); err != nil {
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}

		if _, err := d.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
	}

	return nil
}

// Migration 1: the current board document, always a single row.
const migration1 = `
CREATE TABLE IF NOT EXISTS board_document (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    body TEXT NOT NULL,
    revision INTEGER NOT NULL,
    saved_at TEXT NOT NULL
);
`

// Migration 2: bounded history of previous documents.
const migration2 = `
CREATE TABLE IF NOT EXISTS board_revisions (
    revision INTEGER PRIMARY KEY,
    body TEXT NOT NULL,
    saved_at TEXT NOT NULL
);
`
