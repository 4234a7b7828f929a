package web

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/madhatter5501/blaze/kanban"
)

// CardRequest is the request body for creating or replacing a card.
type CardRequest struct {
	Title              string        `json:"title"`
	Description        string        `json:"description"`
	Column             string        `json:"column"`
	Priority           string        `json:"priority"`
	DueDate            string        `json:"due_date"`
	Tags               []string      `json:"tags"`
	AgentAssignable    bool          `json:"agent_assignable"`
	AcceptanceCriteria criteriaInput `json:"acceptance_criteria"`
}

func (req CardRequest) input() (kanban.CardInput, error) {
	due, err := kanban.ParseDueDate(req.DueDate)
	if err != nil {
		return kanban.CardInput{}, err
	}
	return kanban.CardInput{
		Title:              req.Title,
		Description:        req.Description,
		Column:             kanban.Column(req.Column),
		Priority:           kanban.Priority(req.Priority),
		DueDate:            due,
		Tags:               req.Tags,
		AgentAssignable:    req.AgentAssignable,
		AcceptanceCriteria: req.AcceptanceCriteria,
	}, nil
}

// criteriaInput accepts criteria as plain strings or as {text, checked}.
type criteriaInput []kanban.Criterion

func (c *criteriaInput) UnmarshalJSON(data []byte) error {
	var texts []string
	if err := json.Unmarshal(data, &texts); err == nil {
		out := make([]kanban.Criterion, 0, len(texts))
		for _, t := range texts {
			out = append(out, kanban.Criterion{Text: t})
		}
		*c = out
		return nil
	}
	var full []kanban.Criterion
	if err := json.Unmarshal(data, &full); err != nil {
		return err
	}
	*c = full
	return nil
}

// BoardResponse is the full board grouped by column.
type BoardResponse struct {
	Columns map[kanban.Column][]kanban.Card `json:"columns"`
	Stats   kanban.Stats                    `json:"stats"`
}

// ColumnInfo describes one board column.
type ColumnInfo struct {
	ID    kanban.Column `json:"id"`
	Label string        `json:"label"`
}

// decode reads a JSON body, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// apiLogin exchanges the shared password for the API token.
func (s *Server) apiLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if err := s.auth.Check(req.Password); err != nil {
		s.logger.Warn("Failed login attempt", "remote", r.RemoteAddr)
		s.jsonError(w, "Invalid password", http.StatusUnauthorized)
		return
	}
	s.logger.Info("Successful login", "remote", r.RemoteAddr)
	s.jsonResponse(w, map[string]string{"token": s.auth.Token()})
}

func (s *Server) apiGetBoard(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, BoardResponse{
		Columns: s.svc.Columns(),
		Stats:   s.svc.Stats(),
	})
}

func (s *Server) apiGetStats(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, s.svc.Stats())
}

func (s *Server) apiGetColumns(w http.ResponseWriter, r *http.Request) {
	cols := make([]ColumnInfo, 0, len(kanban.Columns))
	for _, c := range kanban.Columns {
		cols = append(cols, ColumnInfo{ID: c, Label: c.Label()})
	}
	s.jsonResponse(w, cols)
}

// apiListCards returns cards filtered by column, priority, tag, overdue
// and include_archived query parameters.
func (s *Server) apiListCards(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := kanban.Filter{
		Column:   kanban.Column(q.Get("column")),
		Priority: kanban.Priority(q.Get("priority")),
		Tag:      q.Get("tag"),
	}

	var err error
	if f.Overdue, err = queryBool(q.Get("overdue")); err != nil {
		s.jsonError(w, "overdue: must be a boolean", http.StatusBadRequest)
		return
	}
	if f.IncludeArchived, err = queryBool(q.Get("include_archived")); err != nil {
		s.jsonError(w, "include_archived: must be a boolean", http.StatusBadRequest)
		return
	}

	cards, err := s.svc.ListCards(f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, cards)
}

func (s *Server) apiGetCard(w http.ResponseWriter, r *http.Request) {
	card, err := s.svc.GetCard(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, card)
}

// apiGetDescription renders the card description as HTML.
func (s *Server) apiGetDescription(w http.ResponseWriter, r *http.Request) {
	card, err := s.svc.GetCard(r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(card.Description), &buf); err != nil {
		s.logger.Error("Failed to render description", "id", card.ID, "error", err)
		s.jsonError(w, "Failed to render description", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) apiCreateCard(w http.ResponseWriter, r *http.Request) {
	var req CardRequest
	if !s.decode(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		s.writeError(w, err)
		return
	}

	card, err := s.svc.CreateCard(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("Card created", "id", card.ID, "column", card.Column)
	s.jsonStatus(w, card, http.StatusCreated)
}

func (s *Server) apiUpdateCard(w http.ResponseWriter, r *http.Request) {
	var req CardRequest
	if !s.decode(w, r, &req) {
		return
	}
	in, err := req.input()
	if err != nil {
		s.writeError(w, err)
		return
	}

	card, err := s.svc.UpdateCard(r.Context(), r.PathValue("id"), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, card)
}

func (s *Server) apiMoveCard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Column string `json:"column"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	col, err := kanban.ParseColumn(req.Column)
	if err != nil {
		s.writeError(w, err)
		return
	}

	card, err := s.svc.MoveCard(r.Context(), r.PathValue("id"), col)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("Card moved", "id", card.ID, "column", card.Column)
	s.jsonResponse(w, card)
}

func (s *Server) apiArchiveCard(w http.ResponseWriter, r *http.Request) {
	card, err := s.svc.ArchiveCard(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, card)
}

func (s *Server) apiUnarchiveCard(w http.ResponseWriter, r *http.Request) {
	card, err := s.svc.UnarchiveCard(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, card)
}

func (s *Server) apiDeleteCard(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.svc.DeleteCard(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("Card deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) apiArchiveColumn(w http.ResponseWriter, r *http.Request) {
	col, err := kanban.ParseColumn(r.PathValue("column"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	n, err := s.svc.ArchiveColumn(r.Context(), col)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("Column archived", "column", col, "count", n)
	w.WriteHeader(http.StatusNoContent)
}

func queryBool(v string) (bool, error) {
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}
