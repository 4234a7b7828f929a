package kanban

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a card id is unknown.
var ErrNotFound = errors.New("card not found")

// ValidationError reports malformed or out-of-range input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// PersistenceError reports that the board could not be durably written.
// The in-memory board is left at its last durably written value.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s board: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func notFound(id string) error {
	return fmt.Errorf("card %s: %w", id, ErrNotFound)
}
