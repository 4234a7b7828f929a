package kanban

import (
	"sort"
	"time"
)

// Filter selects cards for ListCards. Zero fields match everything.
type Filter struct {
	Column          Column
	Priority        Priority
	Tag             string
	Overdue         bool
	IncludeArchived bool
}

// Match reports whether c passes the filter at time now.
func (f Filter) Match(c *Card, now time.Time) bool {
	if c.Archived && !f.IncludeArchived {
		return false
	}
	if f.Column != "" && c.Column != f.Column {
		return false
	}
	if f.Priority != "" && c.Priority != f.Priority {
		return false
	}
	if f.Tag != "" && !c.HasTag(f.Tag) {
		return false
	}
	if f.Overdue && !c.IsOverdue(now) {
		return false
	}
	return true
}

// Stats summarizes the live (non-archived) cards on the board.
type Stats struct {
	TotalCards   int              `json:"total_cards"`
	ByColumn     map[Column]int   `json:"by_column"`
	ByPriority   map[Priority]int `json:"by_priority"`
	OverdueCount int              `json:"overdue_count"`
}

// ListCards returns the cards matching f ordered by column, then by
// position within the column.
func (s *Service) ListCards(f Filter) ([]Card, error) {
	if f.Column != "" && !f.Column.Valid() {
		return nil, invalid("column", "unknown column %q", f.Column)
	}
	if f.Priority != "" && !f.Priority.Valid() {
		return nil, invalid("priority", "unknown priority %q", f.Priority)
	}

	s.state.mu.RLock()
	defer s.state.mu.RUnlock()
	return sortedCards(s.state.board, f, s.state.now()), nil
}

// GetCard returns one card, archived or not.
func (s *Service) GetCard(id string) (Card, error) {
	return s.state.Card(id)
}

// Columns returns the live cards grouped by column.
func (s *Service) Columns() map[Column][]Card {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()

	out := make(map[Column][]Card, len(Columns))
	for _, col := range Columns {
		out[col] = []Card{}
	}
	for _, c := range sortedCards(s.state.board, Filter{}, s.state.now()) {
		out[c.Column] = append(out[c.Column], c)
	}
	return out
}

// Stats returns totals by column and priority plus the overdue count.
func (s *Service) Stats() Stats {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()

	stats := Stats{
		ByColumn:   make(map[Column]int, len(Columns)),
		ByPriority: make(map[Priority]int, len(Priorities)),
	}
	for _, col := range Columns {
		stats.ByColumn[col] = 0
	}
	for _, p := range Priorities {
		stats.ByPriority[p] = 0
	}

	now := s.state.now()
	for _, c := range s.state.board.Cards {
		if c.Archived {
			continue
		}
		stats.TotalCards++
		stats.ByColumn[c.Column]++
		stats.ByPriority[c.Priority]++
		if c.IsOverdue(now) {
			stats.OverdueCount++
		}
	}
	return stats
}

// AgentReady returns live agent-assignable cards waiting for an agent.
func (s *Service) AgentReady() []Card {
	s.state.mu.RLock()
	defer s.state.mu.RUnlock()

	var out []Card
	for _, c := range sortedCards(s.state.board, Filter{}, s.state.now()) {
		if c.AgentAssignable && c.AgentStatus == AgentReady {
			out = append(out, c)
		}
	}
	return out
}

// sortedCards filters the board (caller holds the lock) and orders the
// result by column index and column position. Cards absent from the order
// list sort after the listed ones by creation time.
func sortedCards(b *Board, f Filter, now time.Time) []Card {
	result := []Card{}
	for _, c := range b.Cards {
		if f.Match(c, now) {
			result = append(result, c.Clone())
		}
	}

	pos := make(map[string]int, len(result))
	for _, c := range result {
		p := b.position(c.ID, c.Column)
		if p < 0 {
			p = len(b.Cards)
		}
		pos[c.ID] = p
	}

	sort.Slice(result, func(i, j int) bool {
		ci, cj := result[i].Column.Index(), result[j].Column.Index()
		if ci != cj {
			return ci < cj
		}
		if pos[result[i].ID] != pos[result[j].ID] {
			return pos[result[i].ID] < pos[result[j].ID]
		}
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result
}
