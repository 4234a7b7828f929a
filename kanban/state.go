package kanban

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State owns the canonical board and serializes access to it.
// Reads share the lock; a mutation holds it exclusively until the
// new document is durable and its events have been handed off.
type State struct {
	mu        sync.RWMutex
	board     *Board
	backend   Backend
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewState creates a board store over backend. publisher may be nil.
func NewState(backend Backend, publisher Publisher, logger *slog.Logger) *State {
	if logger == nil {
		logger = slog.Default()
	}
	return &State{
		board:     NewBoard(),
		backend:   backend,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Load reads the board from the backend. A backend with no document is
// initialized with an empty board so the file exists from the first start.
func (s *State) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.backend.Load()
	if errors.Is(err, ErrNoDocument) {
		board := NewBoard()
		board.UpdatedAt = s.now()
		encoded, err := board.marshal()
		if err != nil {
			return fmt.Errorf("failed to serialize board: %w", err)
		}
		if err := s.backend.Save(encoded); err != nil {
			return &PersistenceError{Op: "initialize", Err: err}
		}
		s.board = board
		s.logger.Info("Initialized empty board")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load board: %w", err)
	}

	board, err := unmarshalBoard(data)
	if err != nil {
		return fmt.Errorf("failed to parse board: %w", err)
	}
	if err := board.validate(); err != nil {
		return fmt.Errorf("invalid board document: %w", err)
	}

	s.board = board
	s.logger.Info("Loaded board", "cards", len(board.Cards))
	return nil
}

// Snapshot returns a deep copy of the board. It reflects every mutation
// committed before the call.
func (s *State) Snapshot() *Board {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.board.Clone()
}

// Card returns a copy of a single card.
func (s *State) Card(id string) (Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.board.Card(id)
	if !ok {
		return Card{}, notFound(id)
	}
	return c, nil
}

// Mutate applies fn to a working copy of the board under the write lock.
// When fn succeeds and the copy passes validation, the copy is persisted
// and only then installed as the canonical board. The events fn returns are
// published in commit order before the lock is released. On any error the
// canonical board is untouched and nothing is published.
func (s *State) Mutate(origin string, fn func(b *Board, now time.Time) ([]Event, error)) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	work := s.board.Clone()

	events, err := fn(work, now)
	if err != nil {
		return nil, err
	}
	if err := work.validate(); err != nil {
		return nil, fmt.Errorf("mutation broke board invariants: %w", err)
	}

	work.UpdatedAt = now
	data, err := work.marshal()
	if err != nil {
		return nil, &PersistenceError{Op: "encode", Err: err}
	}
	if err := s.backend.Save(data); err != nil {
		s.logger.Error("Failed to persist board", "error", err)
		return nil, &PersistenceError{Op: "save", Err: err}
	}
	s.board = work

	for i := range events {
		events[i].Origin = origin
		if s.publisher != nil {
			s.publisher.Publish(events[i])
		}
	}
	return events, nil
}
