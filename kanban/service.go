package kanban

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const (
	maxTitleLen       = 200
	maxDescriptionLen = 2000
	maxTagLen         = 50
)

// NewID returns a short random card id.
func NewID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

type originKey struct{}

// WithOrigin tags ctx with the id of the realtime client that issued a mutation.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey{}, origin)
}

// OriginFrom returns the client id set by WithOrigin.
func OriginFrom(ctx context.Context) string {
	origin, _ := ctx.Value(originKey{}).(string)
	return origin
}

// CardInput carries the user-editable fields of a card.
type CardInput struct {
	Title              string
	Description        string
	Column             Column
	Priority           Priority
	DueDate            *time.Time
	Tags               []string
	AgentAssignable    bool
	AcceptanceCriteria []Criterion
}

// Service is the mutation boundary between untrusted input and the store.
// Every successful write produces its events through the store exactly once.
type Service struct {
	state *State
}

// NewService creates a service over state.
func NewService(state *State) *Service {
	return &Service{state: state}
}

// State returns the underlying store.
func (s *Service) State() *State {
	return s.state
}

// CreateCard adds a card, defaulting column to backlog and priority to medium.
func (s *Service) CreateCard(ctx context.Context, in CardInput) (Card, error) {
	in, err := normalizeInput(in)
	if err != nil {
		return Card{}, err
	}
	if in.Column == "" {
		in.Column = ColumnBacklog
	}

	var created Card
	_, err = s.state.Mutate(OriginFrom(ctx), func(b *Board, now time.Time) ([]Event, error) {
		id := NewID()
		for b.Cards[id] != nil {
			id = NewID()
		}
		c := &Card{
			ID:                 id,
			Title:              in.Title,
			Description:        in.Description,
			Column:             in.Column,
			Priority:           in.Priority,
			DueDate:            in.DueDate,
			Tags:               in.Tags,
			CreatedAt:          now,
			UpdatedAt:          now,
			AgentAssignable:    in.AgentAssignable,
			AcceptanceCriteria: in.AcceptanceCriteria,
			ProgressLog:        []ProgressEntry{},
		}
		if c.AgentAssignable {
			c.AgentStatus = AgentReady
		}
		b.Cards[id] = c
		b.place(id, c.Column)
		created = c.Clone()
		return []Event{cardEvent(EventCardCreated, c)}, nil
	})
	if err != nil {
		return Card{}, err
	}
	return created, nil
}

// UpdateCard replaces the editable fields of a card. An empty column keeps
// the current one; archive state and agent progress are left alone.
func (s *Service) UpdateCard(ctx context.Context, id string, in CardInput) (Card, error) {
	in, err := normalizeInput(in)
	if err != nil {
		return Card{}, err
	}
	return s.mutateCard(ctx, id, EventCardUpdated, func(b *Board, c *Card, now time.Time) error {
		c.Title = in.Title
		c.Description = in.Description
		c.Priority = in.Priority
		c.DueDate = in.DueDate
		c.Tags = in.Tags
		c.AcceptanceCriteria = in.AcceptanceCriteria
		if in.AgentAssignable && !c.AgentAssignable && c.AgentStatus == "" {
			c.AgentStatus = AgentReady
		}
		c.AgentAssignable = in.AgentAssignable
		if in.Column != "" && in.Column != c.Column {
			c.Column = in.Column
			b.place(c.ID, c.Column)
		}
		return nil
	})
}

// MoveCard changes only the column of a card.
func (s *Service) MoveCard(ctx context.Context, id string, column Column) (Card, error) {
	if !column.Valid() {
		return Card{}, invalid("column", "unknown column %q", column)
	}
	return s.mutateCard(ctx, id, EventCardMoved, func(b *Board, c *Card, now time.Time) error {
		c.Column = column
		b.place(c.ID, column)
		return nil
	})
}

// ArchiveCard hides a card from default reads. Its column is kept.
func (s *Service) ArchiveCard(ctx context.Context, id string) (Card, error) {
	return s.mutateCard(ctx, id, EventCardArchived, func(b *Board, c *Card, now time.Time) error {
		c.Archived = true
		return nil
	})
}

// UnarchiveCard restores an archived card to default reads at the end of
// its column.
func (s *Service) UnarchiveCard(ctx context.Context, id string) (Card, error) {
	return s.mutateCard(ctx, id, EventCardUnarchived, func(b *Board, c *Card, now time.Time) error {
		c.Archived = false
		b.place(c.ID, c.Column)
		return nil
	})
}

// DeleteCard removes a card permanently.
func (s *Service) DeleteCard(ctx context.Context, id string) error {
	_, err := s.state.Mutate(OriginFrom(ctx), func(b *Board, now time.Time) ([]Event, error) {
		if _, ok := b.Cards[id]; !ok {
			return nil, notFound(id)
		}
		b.unplace(id)
		delete(b.Cards, id)
		return []Event{{Type: EventCardDeleted, CardID: id}}, nil
	})
	return err
}

// ArchiveColumn archives every live card in column as one write. It emits
// card_archived per card followed by a column_archived summary.
func (s *Service) ArchiveColumn(ctx context.Context, column Column) (int, error) {
	if !column.Valid() {
		return 0, invalid("column", "unknown column %q", column)
	}

	count := 0
	_, err := s.state.Mutate(OriginFrom(ctx), func(b *Board, now time.Time) ([]Event, error) {
		var events []Event
		for _, id := range b.ColumnOrder[column] {
			c := b.Cards[id]
			if c.Archived {
				continue
			}
			c.Archived = true
			c.UpdatedAt = now
			events = append(events, cardEvent(EventCardArchived, c))
		}
		// Cards missing from the order list are still members of the column.
		for _, c := range b.Cards {
			if c.Column != column || c.Archived || b.position(c.ID, column) >= 0 {
				continue
			}
			c.Archived = true
			c.UpdatedAt = now
			events = append(events, cardEvent(EventCardArchived, c))
		}
		count = len(events)
		return append(events, columnArchivedEvent(column, count)), nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// AddProgress appends a message to an agent-assignable card's progress log.
func (s *Service) AddProgress(ctx context.Context, id, message string) (Card, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Card{}, invalid("message", "must not be empty")
	}
	return s.mutateCard(ctx, id, EventCardUpdated, func(b *Board, c *Card, now time.Time) error {
		if !c.AgentAssignable {
			return invalid("agent_assignable", "card is not agent-assignable")
		}
		c.ProgressLog = append(c.ProgressLog, ProgressEntry{Timestamp: now, Message: message})
		return nil
	})
}

// SetAgentStatus updates the agent status. A blocked reason is kept only
// while the card is blocked.
func (s *Service) SetAgentStatus(ctx context.Context, id string, status AgentStatus, reason string) (Card, error) {
	if !status.Valid() {
		return Card{}, invalid("status", "unknown agent status %q", status)
	}
	return s.mutateCard(ctx, id, EventCardUpdated, func(b *Board, c *Card, now time.Time) error {
		if !c.AgentAssignable {
			return invalid("agent_assignable", "card is not agent-assignable")
		}
		c.AgentStatus = status
		switch {
		case status != AgentBlocked:
			c.BlockedReason = ""
		case strings.TrimSpace(reason) != "":
			c.BlockedReason = strings.TrimSpace(reason)
		}
		return nil
	})
}

// CheckCriterion sets the checked state of one acceptance criterion.
func (s *Service) CheckCriterion(ctx context.Context, id string, index int, checked bool) (Card, error) {
	return s.mutateCard(ctx, id, EventCardUpdated, func(b *Board, c *Card, now time.Time) error {
		if index < 0 || index >= len(c.AcceptanceCriteria) {
			return invalid("index", "invalid criterion index: %d", index)
		}
		c.AcceptanceCriteria[index].Checked = checked
		return nil
	})
}

// mutateCard runs fn against one existing card, refreshes updated_at,
// and emits a single event of type t carrying the result.
func (s *Service) mutateCard(ctx context.Context, id string, t EventType, fn func(b *Board, c *Card, now time.Time) error) (Card, error) {
	var out Card
	_, err := s.state.Mutate(OriginFrom(ctx), func(b *Board, now time.Time) ([]Event, error) {
		c, ok := b.Cards[id]
		if !ok {
			return nil, notFound(id)
		}
		if err := fn(b, c, now); err != nil {
			return nil, err
		}
		c.UpdatedAt = now
		out = c.Clone()
		return []Event{cardEvent(t, c)}, nil
	})
	if err != nil {
		return Card{}, err
	}
	return out, nil
}

// normalizeInput validates and cleans user input.
func normalizeInput(in CardInput) (CardInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return in, invalid("title", "must not be empty")
	}
	if utf8.RuneCountInString(in.Title) > maxTitleLen {
		return in, invalid("title", "must be at most %d characters", maxTitleLen)
	}
	if utf8.RuneCountInString(in.Description) > maxDescriptionLen {
		return in, invalid("description", "must be at most %d characters", maxDescriptionLen)
	}
	if in.Column != "" && !in.Column.Valid() {
		return in, invalid("column", "unknown column %q", in.Column)
	}
	if in.Priority == "" {
		in.Priority = PriorityMedium
	} else if !in.Priority.Valid() {
		return in, invalid("priority", "unknown priority %q", in.Priority)
	}
	if in.DueDate != nil {
		d := in.DueDate.UTC()
		in.DueDate = &d
	}

	tags, err := normalizeTags(in.Tags)
	if err != nil {
		return in, err
	}
	in.Tags = tags

	criteria := make([]Criterion, 0, len(in.AcceptanceCriteria))
	for _, cr := range in.AcceptanceCriteria {
		cr.Text = strings.TrimSpace(cr.Text)
		if cr.Text != "" {
			criteria = append(criteria, cr)
		}
	}
	in.AcceptanceCriteria = criteria
	return in, nil
}

// normalizeTags trims tags, drops empty ones, and collapses duplicates
// keeping the first occurrence.
func normalizeTags(tags []string) ([]string, error) {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		if utf8.RuneCountInString(t) > maxTagLen {
			return nil, invalid("tags", "tag %q is longer than %d characters", t, maxTagLen)
		}
		seen[t] = true
		out = append(out, t)
	}
	return out, nil
}
