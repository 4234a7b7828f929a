package hub

import (
	"errors"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ConnState is the lifecycle stage of a realtime connection.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
	StateFailed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Conn is one client websocket. Only writePump writes data frames.
type Conn struct {
	id       string
	clientID string
	hub      *Hub
	ws       *websocket.Conn
	send     chan []byte
	done     chan struct{}

	mu    sync.Mutex
	state ConnState
	once  sync.Once
}

// State returns the connection's lifecycle stage.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Conn) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// enqueue queues msg without blocking. It fails when the connection is
// no longer open or its buffer is full.
func (c *Conn) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateOpen {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close removes c from the registry before tearing the socket down, so a
// broadcast can never reach a closed connection.
func (c *Conn) close(reason string) {
	c.once.Do(func() {
		c.hub.remove(c)
		c.setState(StateClosing)
		close(c.done)

		if c.ws != nil {
			deadline := time.Now().Add(c.hub.cfg.WriteTimeout)
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason), deadline)
			_ = c.ws.Close()
		}

		c.setState(StateClosed)
		c.hub.logger.Debug("WebSocket closed", "id", c.id, "reason", reason)
	})
}

// readPump handles client frames and enforces liveness. Any frame, and
// any pong, extends the read deadline; silence past PongTimeout closes.
func (c *Conn) readPump() {
	cfg := c.hub.cfg
	c.ws.SetReadLimit(cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))
	})

	for {
		messageType, message, err := c.ws.ReadMessage()
		if err != nil {
			reason := readEndReason(err)
			c.hub.logger.Debug("WebSocket read ended", "id", c.id, "reason", reason, "error", err)
			c.close(reason)
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(cfg.PongTimeout))

		switch messageType {
		case websocket.TextMessage:
			if strings.TrimSpace(string(message)) == KeepaliveToken {
				c.enqueue([]byte(AckToken))
			}
		default:
			c.hub.logger.Warn("WebSocket protocol error", "id", c.id, "type", messageType)
			c.close("protocol error")
			return
		}
	}
}

// readEndReason classifies the error that ended a read loop.
func readEndReason(err error) string {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return "client closed"
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return "liveness timeout"
	}
	return "read error"
}

// writePump delivers queued frames in order and pings the client.
func (c *Conn) writePump() {
	cfg := c.hub.cfg
	ticker := time.NewTicker(cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.logger.Debug("WebSocket write failed", "id", c.id, "error", err)
				c.close("write error")
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(cfg.WriteTimeout)); err != nil {
				c.close("ping failed")
				return
			}
		}
	}
}
