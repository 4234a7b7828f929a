package web

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/madhatter5501/blaze/internal/auth"
	"github.com/madhatter5501/blaze/internal/hub"
	"github.com/madhatter5501/blaze/kanban"
)

const testToken = "test-token"

type testEnv struct {
	svc *kanban.Service
	hub *hub.Hub
	srv *Server
	ts  *httptest.Server
}

func newTestEnv(t *testing.T, cfg hub.Config) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := hub.New(cfg, logger)
	state := kanban.NewState(kanban.NewFileBackend(filepath.Join(t.TempDir(), "board.json")), h, logger)
	if err := state.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	svc := kanban.NewService(state)
	srv := NewServer(svc, h, auth.NewChecker(testToken), logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		h.Close()
		ts.Close()
	})
	return &testEnv{svc: svc, hub: h, srv: srv, ts: ts}
}

func (e *testEnv) do(t *testing.T, method, path string, body any, header ...string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.ts.URL+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected status %d, got %d: %s", want, resp.StatusCode, body)
	}
}

func (e *testEnv) create(t *testing.T, body map[string]any) kanban.Card {
	t.Helper()
	resp := e.do(t, http.MethodPost, "/api/cards", body)
	expectStatus(t, resp, http.StatusCreated)
	return decodeBody[kanban.Card](t, resp)
}

func TestHealthNeedsNoToken(t *testing.T) {
	env := newTestEnv(t, hub.Config{})

	resp, err := http.Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusOK)
}

func TestShutdownStopsServer(t *testing.T) {
	tests := []struct {
		name          string
		shutdownFirst bool
	}{
		{"shutdown before start", true},
		{"shutdown racing start", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, hub.Config{})
			if tt.shutdownFirst {
				if err := env.srv.Shutdown(context.Background()); err != nil {
					t.Fatalf("shutdown: %v", err)
				}
			}

			done := make(chan error, 1)
			go func() { done <- env.srv.Start("127.0.0.1:0") }()

			if !tt.shutdownFirst {
				if err := env.srv.Shutdown(context.Background()); err != nil {
					t.Fatalf("shutdown: %v", err)
				}
			}

			select {
			case err := <-done:
				if err != nil {
					t.Fatalf("expected clean stop, got %v", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatal("server still running after Shutdown")
			}
		})
	}
}

func TestMissingTokenIsRejected(t *testing.T) {
	env := newTestEnv(t, hub.Config{})

	resp, err := http.Get(env.ts.URL + "/api/board")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	expectStatus(t, resp, http.StatusUnauthorized)
	if resp.Header.Get("WWW-Authenticate") != "Bearer" {
		t.Errorf("missing WWW-Authenticate header")
	}
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, hub.Config{})

	resp := env.do(t, http.MethodPost, "/api/auth", map[string]string{"password": testToken})
	expectStatus(t, resp, http.StatusOK)
	if got := decodeBody[map[string]string](t, resp); got["token"] != testToken {
		t.Errorf("unexpected token %q", got["token"])
	}

	resp = env.do(t, http.MethodPost, "/api/auth", map[string]string{"password": "guess"})
	expectStatus(t, resp, http.StatusUnauthorized)
}

func TestCreateCardDefaults(t *testing.T) {
	env := newTestEnv(t, hub.Config{})

	card := env.create(t, map[string]any{"title": "Fix bug"})
	if card.ID == "" {
		t.Error("expected an id")
	}
	if card.Column != kanban.ColumnBacklog || card.Priority != kanban.PriorityMedium {
		t.Errorf("unexpected defaults %s/%s", card.Column, card.Priority)
	}
}

func TestCreateCardValidation(t *testing.T) {
	env := newTestEnv(t, hub.Config{})

	tests := []struct {
		name string
		body map[string]any
	}{
		{"empty title", map[string]any{"title": "  "}},
		{"bad column", map[string]any{"title": "x", "column": "bogus"}},
		{"bad priority", map[string]any{"title": "x", "priority": "whenever"}},
		{"bad due date", map[string]any{"title": "x", "due_date": "tomorrow"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPost, "/api/cards", tt.body)
			expectStatus(t, resp, http.StatusBadRequest)
			if msg := decodeBody[map[string]string](t, resp)["error"]; msg == "" {
				t.Error("expected an error message")
			}
		})
	}
}

func TestCreateCardAcceptsCriteriaStrings(t *testing.T) {
	env := newTestEnv(t, hub.Config{})

	card := env.create(t, map[string]any{
		"title":               "Agent task",
		"agent_assignable":    true,
		"acceptance_criteria": []string{"tests pass", "docs updated"},
		"due_date":            "2030-01-15",
	})
	if len(card.AcceptanceCriteria) != 2 || card.AcceptanceCriteria[1].Text != "docs updated" {
		t.Fatalf("unexpected criteria %+v", card.AcceptanceCriteria)
	}
	if card.AgentStatus != kanban.AgentReady {
		t.Errorf("expected agent status ready, got %q", card.AgentStatus)
	}
	if card.DueDate == nil || card.DueDate.Format("2006-01-02") != "2030-01-15" {
		t.Errorf("unexpected due date %v", card.DueDate)
	}
}

func TestMoveCardErrors(t *testing.T) {
	env := newTestEnv(t, hub.Config{})
	card := env.create(t, map[string]any{"title": "Stay put", "column": "todo"})

	resp := env.do(t, http.MethodPatch, "/api/cards/doesnotexist/move", map[string]string{"column": "in_progress"})
	expectStatus(t, resp, http.StatusNotFound)

	resp = env.do(t, http.MethodPatch, "/api/cards/"+card.ID+"/move", map[string]string{"column": "bogus"})
	expectStatus(t, resp, http.StatusBadRequest)

	got, err := env.svc.GetCard(card.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Column != kanban.ColumnTodo || !got.UpdatedAt.Equal(card.UpdatedAt) {
		t.Errorf("card changed by rejected move: %+v", got)
	}
}

func TestMoveAndArchiveFlow(t *testing.T) {
	env := newTestEnv(t, hub.Config{})
	card := env.create(t, map[string]any{"title": "Ship", "tags": []string{"release"}})

	resp := env.do(t, http.MethodPatch, "/api/cards/"+card.ID+"/move", map[string]string{"column": "done"})
	expectStatus(t, resp, http.StatusOK)
	moved := decodeBody[kanban.Card](t, resp)
	if moved.Column != kanban.ColumnDone {
		t.Fatalf("expected done, got %s", moved.Column)
	}

	resp = env.do(t, http.MethodPatch, "/api/cards/"+card.ID+"/archive", nil)
	expectStatus(t, resp, http.StatusOK)
	archived := decodeBody[kanban.Card](t, resp)
	if !archived.Archived || archived.Column != kanban.ColumnDone {
		t.Fatalf("archive changed column or flag: %+v", archived)
	}

	resp = env.do(t, http.MethodGet, "/api/cards", nil)
	expectStatus(t, resp, http.StatusOK)
	if cards := decodeBody[[]kanban.Card](t, resp); len(cards) != 0 {
		t.Fatalf("archived card listed by default: %+v", cards)
	}

	resp = env.do(t, http.MethodGet, "/api/cards?include_archived=true&tag=release", nil)
	expectStatus(t, resp, http.StatusOK)
	if cards := decodeBody[[]kanban.Card](t, resp); len(cards) != 1 {
		t.Fatalf("expected archived card with include_archived, got %d", len(cards))
	}

	resp = env.do(t, http.MethodPatch, "/api/cards/"+card.ID+"/unarchive", nil)
	expectStatus(t, resp, http.StatusOK)
	if decodeBody[kanban.Card](t, resp).Archived {
		t.Fatal("expected unarchived card")
	}
}

func TestListCardsRejectsBadQuery(t *testing.T) {
	env := newTestEnv(t, hub.Config{})

	expectStatus(t, env.do(t, http.MethodGet, "/api/cards?overdue=maybe", nil), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodGet, "/api/cards?column=bogus", nil), http.StatusBadRequest)
}

func TestUpdateAndDeleteCard(t *testing.T) {
	env := newTestEnv(t, hub.Config{})
	card := env.create(t, map[string]any{"title": "Draft", "priority": "high"})

	resp := env.do(t, http.MethodPut, "/api/cards/"+card.ID, map[string]any{
		"title":       "Final",
		"description": "# Heading",
		"priority":    "urgent",
	})
	expectStatus(t, resp, http.StatusOK)
	updated := decodeBody[kanban.Card](t, resp)
	if updated.Title != "Final" || updated.Priority != kanban.PriorityUrgent || updated.Column != card.Column {
		t.Fatalf("unexpected update %+v", updated)
	}

	resp = env.do(t, http.MethodGet, "/api/cards/"+card.ID+"/description", nil)
	expectStatus(t, resp, http.StatusOK)
	html, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(html), "<h1>Heading</h1>") {
		t.Errorf("unexpected rendered description %s", html)
	}

	expectStatus(t, env.do(t, http.MethodDelete, "/api/cards/"+card.ID, nil), http.StatusNoContent)
	expectStatus(t, env.do(t, http.MethodGet, "/api/cards/"+card.ID, nil), http.StatusNotFound)
	expectStatus(t, env.do(t, http.MethodDelete, "/api/cards/"+card.ID, nil), http.StatusNotFound)
}

func TestArchiveColumn(t *testing.T) {
	env := newTestEnv(t, hub.Config{})
	env.create(t, map[string]any{"title": "a", "column": "done"})
	env.create(t, map[string]any{"title": "b", "column": "done"})
	keep := env.create(t, map[string]any{"title": "c", "column": "review"})

	expectStatus(t, env.do(t, http.MethodPost, "/api/columns/done/archive", nil), http.StatusNoContent)
	expectStatus(t, env.do(t, http.MethodPost, "/api/columns/bogus/archive", nil), http.StatusBadRequest)

	resp := env.do(t, http.MethodGet, "/api/board", nil)
	expectStatus(t, resp, http.StatusOK)
	board := decodeBody[BoardResponse](t, resp)
	if len(board.Columns[kanban.ColumnDone]) != 0 {
		t.Errorf("done column not archived: %+v", board.Columns[kanban.ColumnDone])
	}
	if len(board.Columns[kanban.ColumnReview]) != 1 || board.Columns[kanban.ColumnReview][0].ID != keep.ID {
		t.Errorf("review column affected: %+v", board.Columns[kanban.ColumnReview])
	}
	if board.Stats.TotalCards != 1 {
		t.Errorf("expected 1 live card in stats, got %d", board.Stats.TotalCards)
	}
}

func TestColumns(t *testing.T) {
	env := newTestEnv(t, hub.Config{})

	resp := env.do(t, http.MethodGet, "/api/columns", nil)
	expectStatus(t, resp, http.StatusOK)
	cols := decodeBody[[]ColumnInfo](t, resp)
	if len(cols) != len(kanban.Columns) {
		t.Fatalf("expected %d columns, got %d", len(kanban.Columns), len(cols))
	}
	if cols[2].ID != kanban.ColumnInProgress || cols[2].Label != "In Progress" {
		t.Errorf("unexpected column %+v", cols[2])
	}
}

func TestAgentEndpoints(t *testing.T) {
	env := newTestEnv(t, hub.Config{})
	plain := env.create(t, map[string]any{"title": "Human task"})
	agent := env.create(t, map[string]any{
		"title":               "Agent task",
		"agent_assignable":    true,
		"acceptance_criteria": []map[string]any{{"text": "compiles"}},
	})

	resp := env.do(t, http.MethodGet, "/api/agent/ready", nil)
	expectStatus(t, resp, http.StatusOK)
	if ready := decodeBody[[]kanban.Card](t, resp); len(ready) != 1 || ready[0].ID != agent.ID {
		t.Fatalf("unexpected ready cards %+v", ready)
	}

	expectStatus(t, env.do(t, http.MethodPost, "/api/cards/"+plain.ID+"/agent-progress",
		map[string]string{"message": "hi"}), http.StatusBadRequest)

	resp = env.do(t, http.MethodPost, "/api/cards/"+agent.ID+"/agent-progress", map[string]string{"message": "started"})
	expectStatus(t, resp, http.StatusOK)
	if log := decodeBody[kanban.Card](t, resp).ProgressLog; len(log) != 1 || log[0].Message != "started" {
		t.Fatalf("unexpected progress log %+v", log)
	}

	resp = env.do(t, http.MethodPatch, "/api/cards/"+agent.ID+"/agent-status",
		map[string]string{"status": "blocked", "blocked_reason": "waiting on API key"})
	expectStatus(t, resp, http.StatusOK)
	if c := decodeBody[kanban.Card](t, resp); c.AgentStatus != kanban.AgentBlocked || c.BlockedReason != "waiting on API key" {
		t.Fatalf("unexpected status %+v", c)
	}

	expectStatus(t, env.do(t, http.MethodPatch, "/api/cards/"+agent.ID+"/agent-status",
		map[string]string{"status": "sleeping"}), http.StatusBadRequest)

	resp = env.do(t, http.MethodPost, "/api/cards/"+agent.ID+"/criteria/0/check", map[string]bool{"checked": true})
	expectStatus(t, resp, http.StatusOK)
	if c := decodeBody[kanban.Card](t, resp); !c.AcceptanceCriteria[0].Checked {
		t.Fatal("criterion not checked")
	}
	expectStatus(t, env.do(t, http.MethodPost, "/api/cards/"+agent.ID+"/criteria/5/check",
		map[string]bool{"checked": true}), http.StatusBadRequest)
	expectStatus(t, env.do(t, http.MethodPost, "/api/cards/"+agent.ID+"/criteria/x/check",
		map[string]bool{"checked": true}), http.StatusBadRequest)
}

func (e *testEnv) dialWS(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.ts.URL, "http") + "/ws?" + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func (e *testEnv) waitForClients(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for e.hub.Count() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d realtime clients, have %d", n, e.hub.Count())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEvent(t *testing.T, ws *websocket.Conn, timeout time.Duration) (kanban.Event, error) {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := ws.ReadMessage()
	if err != nil {
		return kanban.Event{}, err
	}
	var ev kanban.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return ev, nil
}

func TestWebSocketRequiresToken(t *testing.T) {
	env := newTestEnv(t, hub.Config{})

	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/ws?token=wrong"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", resp)
	}
}

func TestCreateIsBroadcastToOtherClient(t *testing.T) {
	env := newTestEnv(t, hub.Config{})
	author := env.dialWS(t, "token="+testToken)
	observer := env.dialWS(t, "token="+testToken)
	env.waitForClients(t, 2)

	card := env.create(t, map[string]any{"title": "Realtime"})

	ev, err := readEvent(t, observer, 2*time.Second)
	if err != nil {
		t.Fatalf("observer read: %v", err)
	}
	if ev.Type != kanban.EventCardCreated || ev.Card == nil || ev.Card.ID != card.ID {
		t.Fatalf("unexpected event %+v", ev)
	}
	if _, err := readEvent(t, observer, 100*time.Millisecond); err == nil {
		t.Fatal("observer received a second event for one create")
	}

	// The author sees its own echo; merging it is the client's job.
	if ev, err := readEvent(t, author, 2*time.Second); err != nil || ev.Type != kanban.EventCardCreated {
		t.Fatalf("author echo: %+v %v", ev, err)
	}
}

func TestSkipOriginDoesNotEchoToAuthor(t *testing.T) {
	env := newTestEnv(t, hub.Config{SkipOrigin: true})
	author := env.dialWS(t, "token="+testToken+"&client_id=tab-a")
	observer := env.dialWS(t, "token="+testToken+"&client_id=tab-b")
	env.waitForClients(t, 2)

	resp := env.do(t, http.MethodPost, "/api/cards", map[string]any{"title": "Mine"}, ClientIDHeader, "tab-a")
	expectStatus(t, resp, http.StatusCreated)
	env.create(t, map[string]any{"title": "Someone else's"})

	first, err := readEvent(t, author, 2*time.Second)
	if err != nil {
		t.Fatalf("author read: %v", err)
	}
	if first.Card == nil || first.Card.Title != "Someone else's" {
		t.Fatalf("author received its own echo: %+v", first)
	}

	for _, want := range []string{"Mine", "Someone else's"} {
		ev, err := readEvent(t, observer, 2*time.Second)
		if err != nil {
			t.Fatalf("observer read: %v", err)
		}
		if ev.Card == nil || ev.Card.Title != want {
			t.Fatalf("observer expected %q, got %+v", want, ev)
		}
	}
}

func TestKeepaliveOverServer(t *testing.T) {
	env := newTestEnv(t, hub.Config{})
	ws := env.dialWS(t, "token="+testToken)
	env.waitForClients(t, 1)

	if err := ws.WriteMessage(websocket.TextMessage, []byte(hub.KeepaliveToken)); err != nil {
		t.Fatal(err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil || string(data) != hub.AckToken {
		t.Fatalf("expected %q, got %q %v", hub.AckToken, data, err)
	}
}
