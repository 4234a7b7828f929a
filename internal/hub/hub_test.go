package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"
	"github.com/gorilla/websocket"

	"github.com/madhatter5501/blaze/kanban"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, cfg Config) (*Hub, *httptest.Server) {
	t.Helper()
	h := New(cfg, testLogger())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.ServeWS(w, r, r.URL.Query().Get("client_id"))
	}))
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return h, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func readEvent(t *testing.T, ws *websocket.Conn) kanban.Event {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev kanban.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return ev
}

func TestPublishReachesEveryClientInOrder(t *testing.T) {
	h, srv := newTestServer(t, Config{})
	first := dial(t, srv, "")
	second := dial(t, srv, "")
	eventually(t, func() bool { return h.Count() == 2 })

	card := &kanban.Card{ID: "abc123", Title: "Ship it", Column: kanban.ColumnTodo}
	h.Publish(kanban.Event{Type: kanban.EventCardCreated, Card: card, CardID: card.ID})
	h.Publish(kanban.Event{Type: kanban.EventCardMoved, Card: card, CardID: card.ID})
	h.Publish(kanban.Event{Type: kanban.EventCardDeleted, CardID: card.ID})

	for _, ws := range []*websocket.Conn{first, second} {
		got := []kanban.EventType{readEvent(t, ws).Type, readEvent(t, ws).Type, readEvent(t, ws).Type}
		assert.Equal(t, got, []kanban.EventType{kanban.EventCardCreated, kanban.EventCardMoved, kanban.EventCardDeleted})
	}
}

func TestKeepaliveIsAcknowledged(t *testing.T) {
	h, srv := newTestServer(t, Config{})
	ws := dial(t, srv, "")
	eventually(t, func() bool { return h.Count() == 1 })

	if err := ws.WriteMessage(websocket.TextMessage, []byte(KeepaliveToken)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	assert.Equal(t, err, nil)
	assert.Equal(t, string(data), AckToken)
}

func TestBinaryFrameClosesConnection(t *testing.T) {
	h, srv := newTestServer(t, Config{})
	ws := dial(t, srv, "")
	eventually(t, func() bool { return h.Count() == 1 })

	if err := ws.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("write: %v", err)
	}
	eventually(t, func() bool { return h.Count() == 0 })

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	assert.NotEqual(t, err, nil)
}

func TestSilentClientTimesOut(t *testing.T) {
	h, srv := newTestServer(t, Config{PingInterval: time.Hour, PongTimeout: 100 * time.Millisecond})
	dial(t, srv, "")
	eventually(t, func() bool { return h.Count() == 1 })

	// The client never reads, so it never answers pings or sends frames.
	eventually(t, func() bool { return h.Count() == 0 })
}

func TestReadEndReason(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()
	_ = a.SetReadDeadline(time.Now().Add(-time.Second))
	_, timeoutErr := a.Read(make([]byte, 1))

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"deadline exceeded", timeoutErr, "liveness timeout"},
		{"wrapped deadline", fmt.Errorf("read frame: %w", timeoutErr), "liveness timeout"},
		{"normal close", &websocket.CloseError{Code: websocket.CloseNormalClosure}, "client closed"},
		{"going away", &websocket.CloseError{Code: websocket.CloseGoingAway}, "client closed"},
		{"text mentions timeout", errors.New("upstream timeout header"), "read error"},
		{"eof", io.ErrUnexpectedEOF, "read error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, readEndReason(tt.err), tt.want)
		})
	}
}

func TestCloseDisconnectsClients(t *testing.T) {
	h, srv := newTestServer(t, Config{})
	ws := dial(t, srv, "")
	eventually(t, func() bool { return h.Count() == 1 })

	h.Close()
	assert.Equal(t, h.Count(), 0)

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := ws.ReadMessage()
	assert.Equal(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), true)
}

func TestSlowClientIsEvicted(t *testing.T) {
	h := New(Config{SendBuffer: 1}, testLogger())
	slow := h.newConn("")
	healthy := h.newConn("")
	assert.Equal(t, h.register(slow), true)
	assert.Equal(t, h.register(healthy), true)

	h.Publish(kanban.Event{Type: kanban.EventCardDeleted, CardID: "one"})
	<-healthy.send
	h.Publish(kanban.Event{Type: kanban.EventCardDeleted, CardID: "two"})

	assert.Equal(t, h.Count(), 1)
	eventually(t, func() bool { return slow.State() == StateClosed })
	assert.Equal(t, healthy.State(), StateOpen)
	assert.Equal(t, len(healthy.send), 1)

	// A closed connection never receives another frame.
	assert.Equal(t, slow.enqueue([]byte("late")), false)
}

func TestSkipOriginSuppressesEcho(t *testing.T) {
	h := New(Config{SkipOrigin: true}, testLogger())
	author := h.newConn("tab-a")
	other := h.newConn("tab-b")
	h.register(author)
	h.register(other)

	h.Publish(kanban.Event{Type: kanban.EventCardDeleted, CardID: "x", Origin: "tab-a"})
	assert.Equal(t, len(author.send), 0)
	assert.Equal(t, len(other.send), 1)

	h.Publish(kanban.Event{Type: kanban.EventCardDeleted, CardID: "y"})
	assert.Equal(t, len(author.send), 1)
}

func TestRegisterRefusedAfterClose(t *testing.T) {
	h := New(Config{}, testLogger())
	h.Close()

	c := h.newConn("")
	assert.Equal(t, h.register(c), false)
	assert.Equal(t, c.State(), StateConnecting)
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, StateOpen.String(), "open")
	assert.Equal(t, StateFailed.String(), "failed")
	assert.Equal(t, ConnState(42).String(), "unknown")
}
