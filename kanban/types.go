// Package kanban provides the board model and its persistent, concurrency-safe store.
// Cards live in a fixed set of columns and the whole board is kept as a single JSON document.
package kanban

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Column represents a stage of the board a card can occupy.
type Column string

const (
	ColumnBacklog    Column = "backlog"
	ColumnTodo       Column = "todo"
	ColumnInProgress Column = "in_progress"
	ColumnReview     Column = "review"
	ColumnDone       Column = "done"
)

// Columns is the fixed, ordered list of board columns.
var Columns = []Column{ColumnBacklog, ColumnTodo, ColumnInProgress, ColumnReview, ColumnDone}

// Valid reports whether c is one of the board columns.
func (c Column) Valid() bool {
	return c.Index() >= 0
}

// Index returns the position of c in Columns, or -1.
func (c Column) Index() int {
	for i, col := range Columns {
		if col == c {
			return i
		}
	}
	return -1
}

// Label returns a human readable name, e.g. "In Progress".
func (c Column) Label() string {
	return cases.Title(language.English).String(strings.ReplaceAll(string(c), "_", " "))
}

// ParseColumn validates a column name.
func ParseColumn(s string) (Column, error) {
	c := Column(strings.TrimSpace(s))
	if !c.Valid() {
		return "", &ValidationError{Field: "column", Message: fmt.Sprintf("unknown column %q", s)}
	}
	return c, nil
}

// Priority determines how urgently a card should be worked on.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent" // Highest priority
)

// Priorities lists every priority from lowest to highest.
var Priorities = []Priority{PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	for _, known := range Priorities {
		if p == known {
			return true
		}
	}
	return false
}

// ParsePriority validates a priority name.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.TrimSpace(s))
	if !p.Valid() {
		return "", &ValidationError{Field: "priority", Message: fmt.Sprintf("unknown priority %q", s)}
	}
	return p, nil
}

// AgentStatus tracks an agent-assignable card through automated work.
type AgentStatus string

const (
	AgentReady       AgentStatus = "ready"
	AgentInProgress  AgentStatus = "in_progress"
	AgentBlocked     AgentStatus = "blocked"
	AgentNeedsReview AgentStatus = "needs_review"
)

// Valid reports whether s is a known agent status.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentReady, AgentInProgress, AgentBlocked, AgentNeedsReview:
		return true
	}
	return false
}

// Criterion is one acceptance criterion of a card.
type Criterion struct {
	Text    string `json:"text"`
	Checked bool   `json:"checked"`
}

// ProgressEntry is one line of an agent's progress log.
type ProgressEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// Card is a unit of work on the board.
type Card struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Column      Column     `json:"column"`
	Priority    Priority   `json:"priority"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Tags        []string   `json:"tags"`
	Archived    bool       `json:"archived"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// Agent workflow
	AgentAssignable    bool            `json:"agent_assignable"`
	AgentStatus        AgentStatus     `json:"agent_status,omitempty"`
	BlockedReason      string          `json:"blocked_reason,omitempty"`
	AcceptanceCriteria []Criterion     `json:"acceptance_criteria"`
	ProgressLog        []ProgressEntry `json:"progress_log"`
}

// Clone returns a deep copy of the card.
func (c Card) Clone() Card {
	out := c
	if c.DueDate != nil {
		d := *c.DueDate
		out.DueDate = &d
	}
	out.Tags = append([]string{}, c.Tags...)
	out.AcceptanceCriteria = append([]Criterion{}, c.AcceptanceCriteria...)
	out.ProgressLog = append([]ProgressEntry{}, c.ProgressLog...)
	return out
}

// IsOverdue reports whether the card has a due date in the past and is not done.
func (c Card) IsOverdue(now time.Time) bool {
	return c.DueDate != nil && c.DueDate.Before(now) && c.Column != ColumnDone
}

// HasTag reports whether the card carries tag.
func (c Card) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Board is the persisted aggregate: the fixed columns and every card.
type Board struct {
	Columns     []Column            `json:"columns"`
	Cards       map[string]*Card    `json:"cards"`
	ColumnOrder map[Column][]string `json:"column_order"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

// NewBoard creates an empty board.
func NewBoard() *Board {
	b := &Board{
		Columns:     append([]Column{}, Columns...),
		Cards:       make(map[string]*Card),
		ColumnOrder: make(map[Column][]string),
	}
	for _, col := range Columns {
		b.ColumnOrder[col] = []string{}
	}
	return b
}

// Clone returns a deep copy of the board.
func (b *Board) Clone() *Board {
	out := &Board{
		Columns:     append([]Column{}, b.Columns...),
		Cards:       make(map[string]*Card, len(b.Cards)),
		ColumnOrder: make(map[Column][]string, len(b.ColumnOrder)),
		UpdatedAt:   b.UpdatedAt,
	}
	for id, c := range b.Cards {
		cp := c.Clone()
		out.Cards[id] = &cp
	}
	for col, ids := range b.ColumnOrder {
		out.ColumnOrder[col] = append([]string{}, ids...)
	}
	return out
}

// Card returns a copy of the card with the given id.
func (b *Board) Card(id string) (Card, bool) {
	c, ok := b.Cards[id]
	if !ok {
		return Card{}, false
	}
	return c.Clone(), true
}

// place appends id to the end of col.
func (b *Board) place(id string, col Column) {
	b.unplace(id)
	b.ColumnOrder[col] = append(b.ColumnOrder[col], id)
}

// unplace removes id from every column order list.
func (b *Board) unplace(id string) {
	for col, ids := range b.ColumnOrder {
		for i, other := range ids {
			if other != id {
				continue
			}
			b.ColumnOrder[col] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
}

// position returns the index of id within its column order, or -1.
func (b *Board) position(id string, col Column) int {
	for i, other := range b.ColumnOrder[col] {
		if other == id {
			return i
		}
	}
	return -1
}

// validate checks the board invariants after a load or a mutation.
func (b *Board) validate() error {
	for id, c := range b.Cards {
		if c.ID != id {
			return fmt.Errorf("card %s stored under key %s", c.ID, id)
		}
		if !c.Column.Valid() {
			return fmt.Errorf("card %s has unknown column %q", id, c.Column)
		}
	}
	for col, ids := range b.ColumnOrder {
		if !col.Valid() {
			return fmt.Errorf("column order has unknown column %q", col)
		}
		for _, id := range ids {
			c, ok := b.Cards[id]
			if !ok {
				return fmt.Errorf("column %s lists unknown card %s", col, id)
			}
			if c.Column != col {
				return fmt.Errorf("card %s listed under %s but belongs to %s", id, col, c.Column)
			}
		}
	}
	return nil
}

// marshal encodes the board as the persisted JSON document.
func (b *Board) marshal() ([]byte, error) {
	return json.MarshalIndent(b, "", "  ")
}

// unmarshalBoard decodes a persisted JSON document and fills in missing structure.
func unmarshalBoard(data []byte) (*Board, error) {
	var b Board
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	if b.Cards == nil {
		b.Cards = make(map[string]*Card)
	}
	if b.ColumnOrder == nil {
		b.ColumnOrder = make(map[Column][]string)
	}
	if len(b.Columns) == 0 {
		b.Columns = append([]Column{}, Columns...)
	}
	for _, col := range Columns {
		if b.ColumnOrder[col] == nil {
			b.ColumnOrder[col] = []string{}
		}
	}
	for _, c := range b.Cards {
		if c.Tags == nil {
			c.Tags = []string{}
		}
		if c.AcceptanceCriteria == nil {
			c.AcceptanceCriteria = []Criterion{}
		}
		if c.ProgressLog == nil {
			c.ProgressLog = []ProgressEntry{}
		}
	}
	return &b, nil
}

// ParseDueDate accepts a calendar date (2006-01-02) or an RFC 3339
// timestamp. An empty string means no due date.
func ParseDueDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, &ValidationError{Field: "due_date", Message: fmt.Sprintf("invalid date %q", s)}
}
