package hub

import (
	"encoding/json"

	"github.com/madhatter5501/blaze/kanban"
)

var _ kanban.Publisher = (*Hub)(nil)

// Publish serializes ev once and queues it on every open connection.
// It never blocks: a connection whose buffer is full is evicted and is
// expected to resynchronize with a full reload when it reconnects.
func (h *Hub) Publish(ev kanban.Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("Failed to encode event", "type", ev.Type, "error", err)
		return
	}

	for _, c := range h.snapshot() {
		if h.cfg.SkipOrigin && ev.Origin != "" && c.clientID == ev.Origin {
			continue
		}
		if c.enqueue(msg) {
			continue
		}
		if h.remove(c) {
			h.logger.Warn("Evicting slow WebSocket client", "id", c.id)
			go c.close("send buffer full")
		}
	}
}
