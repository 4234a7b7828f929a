// Package hub tracks realtime websocket connections and fans board change
// events out to them.
package hub

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Wire tokens for the client keepalive.
const (
	KeepaliveToken = "ping"
	AckToken       = "pong"
)

// Config controls liveness and buffering of realtime connections.
type Config struct {
	PingInterval   time.Duration // how often the server pings each client
	PongTimeout    time.Duration // silence after which a client is considered dead
	WriteTimeout   time.Duration
	SendBuffer     int // queued events per connection before it is evicted
	MaxMessageSize int64
	SkipOrigin     bool // do not echo an event to the connection that caused it
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		SendBuffer:     64,
		MaxMessageSize: 4096,
	}
}

// Hub is the registry of open connections. Its lock is independent of the
// board store so broadcasts never wait on unrelated mutations.
type Hub struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu     sync.RWMutex
	conns  map[*Conn]struct{}
	closed bool
}

// New creates an empty hub.
func New(cfg Config, logger *slog.Logger) *Hub {
	def := DefaultConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = def.PongTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		cfg:    cfg,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Browser tabs on any origin may subscribe; the token check guards access.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*Conn]struct{}),
	}
}

// ServeWS upgrades the request and serves the connection until it closes.
// clientID is an optional caller-chosen identity used for origin skipping.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, clientID string) {
	c := h.newConn(clientID)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.setState(StateFailed)
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}
	c.ws = ws

	if !h.register(c) {
		c.close("server shutting down")
		return
	}

	go c.writePump()
	c.readPump()
}

func (h *Hub) newConn(clientID string) *Conn {
	return &Conn{
		id:       uuid.New().String(),
		clientID: clientID,
		hub:      h,
		send:     make(chan []byte, h.cfg.SendBuffer),
		done:     make(chan struct{}),
		state:    StateConnecting,
	}
}

// Count returns the number of open connections.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()

	for _, c := range h.snapshot() {
		c.close("server shutting down")
	}
}

// register adds c to the broadcast set and marks it open.
func (h *Hub) register(c *Conn) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	c.setState(StateOpen)
	h.conns[c] = struct{}{}
	active := len(h.conns)
	h.mu.Unlock()

	h.logger.Info("WebSocket connected", "id", c.id, "client", c.clientID, "active", active)
	return true
}

// remove drops c from the broadcast set. It reports whether c was present.
func (h *Hub) remove(c *Conn) bool {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	active := len(h.conns)
	h.mu.Unlock()

	if ok {
		h.logger.Info("WebSocket disconnected", "id", c.id, "active", active)
	}
	return ok
}

// snapshot copies the current connection set so callers can iterate
// without holding the registry lock.
func (h *Hub) snapshot() []*Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		out = append(out, c)
	}
	return out
}
