package kanban

// EventType tags a change event on the realtime channel.
type EventType string

const (
	EventCardCreated    EventType = "card_created"
	EventCardUpdated    EventType = "card_updated"
	EventCardMoved      EventType = "card_moved"
	EventCardArchived   EventType = "card_archived"
	EventCardUnarchived EventType = "card_unarchived"
	EventCardDeleted    EventType = "card_deleted"
	EventColumnArchived EventType = "column_archived"
)

// Event describes one committed state transition. Events are never persisted.
type Event struct {
	Type   EventType `json:"type"`
	Card   *Card     `json:"card,omitempty"`
	CardID string    `json:"card_id,omitempty"`
	Column Column    `json:"column,omitempty"`
	Count  *int      `json:"count,omitempty"` // column_archived only

	// Origin identifies the client connection that caused the change, if known.
	Origin string `json:"-"`
}

// Publisher receives events after the board write that produced them is durable.
// Publish must not block on slow consumers.
type Publisher interface {
	Publish(ev Event)
}

// PublisherFunc adapts a function to a Publisher.
type PublisherFunc func(ev Event)

// Publish calls f(ev).
func (f PublisherFunc) Publish(ev Event) {
	f(ev)
}

func cardEvent(t EventType, c *Card) Event {
	cp := c.Clone()
	return Event{Type: t, Card: &cp, CardID: c.ID}
}

func columnArchivedEvent(col Column, count int) Event {
	return Event{Type: EventColumnArchived, Column: col, Count: &count}
}
