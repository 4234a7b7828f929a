package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/madhatter5501/blaze/kanban"
)

// Keepalive wire tokens, matching the server.
const (
	keepaliveToken = "ping"
	ackToken       = "pong"
)

// State is the realtime connection state of a Syncer.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "unknown"
}

// SyncConfig tunes keepalive and reconnect timing.
type SyncConfig struct {
	KeepaliveInterval time.Duration // how often "ping" is sent
	PongTimeout       time.Duration // how long to wait for any frame after a ping
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	HandshakeTimeout  time.Duration
}

// DefaultSyncConfig returns the standard client timing.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		KeepaliveInterval: 25 * time.Second,
		PongTimeout:       10 * time.Second,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
		HandshakeTimeout:  10 * time.Second,
	}
}

// Syncer keeps a View consistent with the server: it reloads the full
// board on every (re)connect and merges realtime events in between.
type Syncer struct {
	api    *API
	view   *View
	cfg    SyncConfig
	logger *slog.Logger
	dialer *websocket.Dialer

	mu       sync.Mutex
	state    State
	onChange func()
	onState  func(State)
}

// NewSyncer creates a syncer for view. Zero config fields use defaults.
func NewSyncer(api *API, view *View, cfg SyncConfig, logger *slog.Logger) *Syncer {
	def := DefaultSyncConfig()
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = def.KeepaliveInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Syncer{
		api:    api,
		view:   view,
		cfg:    cfg,
		logger: logger,
		dialer: &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout},
	}
}

// OnChange registers a callback run after the view changes.
func (s *Syncer) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// OnState registers a callback run on every state transition.
func (s *Syncer) OnState(fn func(State)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// State returns the current connection state.
func (s *Syncer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Syncer) setState(st State) {
	s.mu.Lock()
	if s.state == st {
		s.mu.Unlock()
		return
	}
	s.state = st
	fn := s.onState
	s.mu.Unlock()

	if fn != nil {
		fn(st)
	}
}

func (s *Syncer) changed() {
	s.mu.Lock()
	fn := s.onChange
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Run connects and keeps reconnecting with exponential backoff until ctx
// is cancelled. A successful connection resets the backoff.
func (s *Syncer) Run(ctx context.Context) error {
	backoff := NewBackoff(s.cfg.BaseDelay, s.cfg.MaxDelay)

	for {
		s.setState(StateConnecting)
		err := s.session(ctx, backoff)
		s.setState(StateDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay := backoff.Next()
		s.logger.Warn("Realtime connection lost", "error", err, "retry_in", delay, "attempt", backoff.Attempts())

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// session runs one connection until it fails.
func (s *Syncer) session(ctx context.Context, backoff *Backoff) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.api.Token())

	ws, resp, err := s.dialer.DialContext(ctx, s.api.WebSocketURL(), header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial: %w", err)
	}
	defer ws.Close()

	s.setState(StateConnected)
	backoff.Reset()
	s.logger.Info("Realtime connected", "url", s.api.WebSocketURL())

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = ws.Close()
		case <-done:
		}
	}()

	// Subscribe first, then reload, so nothing committed in between is missed.
	board, err := s.api.Board(ctx)
	if err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	s.view.Reload(board)
	s.changed()

	deadline := s.cfg.KeepaliveInterval + s.cfg.PongTimeout
	_ = ws.SetReadDeadline(time.Now().Add(deadline))
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(deadline))
		return ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(s.cfg.PongTimeout))
	})

	go s.keepalive(ws, done)

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return errors.New("server closed connection")
			}
			return err
		}
		_ = ws.SetReadDeadline(time.Now().Add(deadline))

		if messageType != websocket.TextMessage {
			continue
		}
		if strings.TrimSpace(string(data)) == ackToken {
			continue
		}

		var ev kanban.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Warn("Ignoring malformed event", "error", err)
			continue
		}
		if s.view.Apply(ev) {
			s.changed()
		}
	}
}

// keepalive sends the keepalive token until done. A failed write closes
// the connection, which ends the read loop.
func (s *Syncer) keepalive(ws *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(s.cfg.PongTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, []byte(keepaliveToken)); err != nil {
				_ = ws.Close()
				return
			}
		}
	}
}
