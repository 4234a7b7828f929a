// Package client mirrors a remote board locally and keeps it consistent
// with the server over the realtime channel.
package client

import (
	"sync"

	"github.com/madhatter5501/blaze/kanban"
)

// Element is one rendered card. An Element keeps its identity for as long
// as its card is shown, so holders of an *Element (an in-flight drag, a
// selection) see moves and updates instead of a detached copy. Its fields
// are owned by the view and read through the view's lock.
type Element struct {
	view   *View
	card   kanban.Card
	column kanban.Column
}

// Card returns a copy of the element's current card.
func (e *Element) Card() kanban.Card {
	e.view.mu.RLock()
	defer e.view.mu.RUnlock()
	return e.card.Clone()
}

// Column returns the column the element is rendered in.
func (e *Element) Column() kanban.Column {
	e.view.mu.RLock()
	defer e.view.mu.RUnlock()
	return e.column
}

// View is the locally rendered board, keyed by card id. Each id appears in
// exactly one column container at a time.
type View struct {
	mu       sync.RWMutex
	elements map[string]*Element
	columns  map[kanban.Column][]*Element
}

// NewView returns an empty view with every board column.
func NewView() *View {
	v := &View{
		elements: make(map[string]*Element),
		columns:  make(map[kanban.Column][]*Element, len(kanban.Columns)),
	}
	for _, c := range kanban.Columns {
		v.columns[c] = nil
	}
	return v
}

// Apply merges one event into the view and reports whether anything changed.
// Applying an event the view already reflects is a no-op.
func (v *View) Apply(ev kanban.Event) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	switch ev.Type {
	case kanban.EventCardCreated, kanban.EventCardUnarchived:
		if ev.Card == nil || ev.Card.Archived {
			return false
		}
		if _, ok := v.elements[ev.Card.ID]; ok {
			return false
		}
		v.insert(*ev.Card)
		return true

	case kanban.EventCardUpdated:
		if ev.Card == nil {
			return false
		}
		el, ok := v.elements[ev.Card.ID]
		if !ok || stale(el, *ev.Card) {
			return false
		}
		if ev.Card.Archived {
			v.remove(el)
			return true
		}
		return v.replace(el, *ev.Card)

	case kanban.EventCardMoved:
		if ev.Card == nil {
			return false
		}
		el, ok := v.elements[ev.Card.ID]
		if !ok {
			if ev.Card.Archived {
				return false
			}
			// The create was missed; synthesize from the move.
			v.insert(*ev.Card)
			return true
		}
		if stale(el, *ev.Card) {
			return false
		}
		if ev.Card.Archived {
			v.remove(el)
			return true
		}
		return v.replace(el, *ev.Card)

	case kanban.EventCardArchived, kanban.EventCardDeleted:
		id := ev.CardID
		if id == "" && ev.Card != nil {
			id = ev.Card.ID
		}
		el, ok := v.elements[id]
		if !ok {
			return false
		}
		v.remove(el)
		return true

	case kanban.EventColumnArchived:
		shown := v.columns[ev.Column]
		if len(shown) == 0 {
			return false
		}
		for _, el := range append([]*Element(nil), shown...) {
			v.remove(el)
		}
		return true
	}
	return false
}

// Reload replaces the view with an authoritative board. Elements for cards
// that are still present keep their identity.
func (v *View) Reload(board map[kanban.Column][]kanban.Card) {
	v.mu.Lock()
	defer v.mu.Unlock()

	elements := make(map[string]*Element, len(v.elements))
	columns := make(map[kanban.Column][]*Element, len(kanban.Columns))
	for _, col := range kanban.Columns {
		columns[col] = nil
		for _, c := range board[col] {
			if c.Archived || elements[c.ID] != nil {
				continue
			}
			el, ok := v.elements[c.ID]
			if !ok {
				el = &Element{view: v}
			}
			el.card = c
			el.column = col
			elements[c.ID] = el
			columns[col] = append(columns[col], el)
		}
	}
	v.elements = elements
	v.columns = columns
}

// Upsert records a card the local client created or edited itself, so the
// server's echo of that change merges as a no-op.
func (v *View) Upsert(c kanban.Card) *Element {
	v.mu.Lock()
	defer v.mu.Unlock()

	if el, ok := v.elements[c.ID]; ok {
		v.replace(el, c)
		return el
	}
	return v.insert(c)
}

// MoveLocal optimistically relocates a rendered card, as a drag does.
func (v *View) MoveLocal(id string, col kanban.Column) (*Element, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	el, ok := v.elements[id]
	if !ok || !col.Valid() {
		return nil, false
	}
	c := el.card
	c.Column = col
	v.replace(el, c)
	return el, true
}

// Element returns the rendered element for id.
func (v *View) Element(id string) (*Element, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	el, ok := v.elements[id]
	return el, ok
}

// Position returns a copy of the card rendered for id and its column.
func (v *View) Position(id string) (kanban.Column, kanban.Card, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	el, ok := v.elements[id]
	if !ok {
		return "", kanban.Card{}, false
	}
	return el.column, el.card.Clone(), true
}

// Column returns copies of the cards rendered in col, in display order.
func (v *View) Column(col kanban.Column) []kanban.Card {
	v.mu.RLock()
	defer v.mu.RUnlock()

	out := make([]kanban.Card, 0, len(v.columns[col]))
	for _, el := range v.columns[col] {
		out = append(out, el.card.Clone())
	}
	return out
}

// Len returns the number of rendered cards.
func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.elements)
}

func stale(el *Element, incoming kanban.Card) bool {
	return incoming.UpdatedAt.Before(el.card.UpdatedAt)
}

func (v *View) insert(c kanban.Card) *Element {
	el := &Element{view: v, card: c, column: c.Column}
	v.elements[c.ID] = el
	v.columns[c.Column] = append(v.columns[c.Column], el)
	return el
}

// replace updates el in place, relocating it when the column changed.
func (v *View) replace(el *Element, c kanban.Card) bool {
	changed := !sameCard(el.card, c)
	el.card = c
	if el.column == c.Column {
		return changed
	}
	v.detach(el)
	el.column = c.Column
	v.columns[c.Column] = append(v.columns[c.Column], el)
	return true
}

func (v *View) remove(el *Element) {
	v.detach(el)
	delete(v.elements, el.card.ID)
}

func (v *View) detach(el *Element) {
	shown := v.columns[el.column]
	for i, e := range shown {
		if e == el {
			v.columns[el.column] = append(shown[:i:i], shown[i+1:]...)
			return
		}
	}
}

func sameCard(a, b kanban.Card) bool {
	return a.Column == b.Column &&
		a.Title == b.Title &&
		a.Description == b.Description &&
		a.Priority == b.Priority &&
		a.Archived == b.Archived &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}
