package kanban

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoDocument is returned by a Backend that has never been written.
var ErrNoDocument = errors.New("no board document")

// Backend persists the board as a single opaque JSON document.
// Both the JSON file backend and the SQLite store in internal/db implement it.
type Backend interface {
	// Load returns the last saved document, or ErrNoDocument.
	Load() ([]byte, error)
	// Save replaces the document. It must be atomic: after a crash the
	// previous or the new document is readable, never a mix.
	Save(data []byte) error
}

// FileBackend stores the board document in a file on disk.
type FileBackend struct {
	path string
}

// NewFileBackend creates a backend writing to path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Path returns the board file location.
func (f *FileBackend) Path() string {
	return f.path
}

// Load reads the board file.
func (f *FileBackend) Load() ([]byte, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoDocument
		}
		return nil, fmt.Errorf("failed to read board file: %w", err)
	}
	return data, nil
}

// Save writes the document to a temporary file in the same directory,
// syncs it, and renames it over the board file.
func (f *FileBackend) Save(data []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create board directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp board file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write board file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync board file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close board file: %w", err)
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		return fmt.Errorf("failed to chmod board file: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return fmt.Errorf("failed to rename board file: %w", err)
	}
	committed = true
	return nil
}
