// Package realtime pushes discovery session events to websocket clients.
package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/stwalsh4118/homefinder/api/internal/logger"
)

// Event types.
const (
	EventURL      = "url"
	EventNavigate = "navigate"
	EventListing  = "listing"
	EventMap      = "map"
	EventNotice   = "notice"
)

// replayed lists the event types whose latest value a new client receives on
// connect, in delivery order. Navigations and notices are one-shot.
var replayed = []string{EventURL, EventListing, EventMap}

// sendBuffer is the number of queued messages a client may fall behind by
// before it is dropped.
const sendBuffer = 64

// Event is the wire envelope.
type Event struct {
	Type string      `json:"type"`
	Seq  uint64      `json:"seq"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data"`
}

// Hub fans events out to the clients of one session. It is safe for
// concurrent use.
type Hub struct {
	log *logger.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string][]byte
	seq     uint64
	closed  bool
}

// NewHub creates an empty Hub.
func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:     log.WithComponent("realtime"),
		clients: make(map[*Client]bool),
		latest:  make(map[string][]byte),
	}
}

// Publish sends an event to every client. Clients that cannot keep up are
// disconnected rather than blocking the publisher.
func (h *Hub) Publish(eventType string, data interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.seq++
	msg, err := json.Marshal(Event{
		Type: eventType,
		Seq:  h.seq,
		Time: time.Now().UTC(),
		Data: data,
	})
	if err != nil {
		h.log.Error("Failed to marshal event", err, map[string]interface{}{
			"type": eventType,
		})
		return
	}

	for _, t := range replayed {
		if t == eventType {
			h.latest[eventType] = msg
			break
		}
	}

	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			h.dropLocked(c)
			h.log.Warn("Dropped slow websocket client", map[string]interface{}{
				"type": eventType,
			})
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client. Later publishes are ignored and later
// registrations are refused.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for c := range h.clients {
		h.dropLocked(c)
	}
}

// register adds c and queues the latest replayed events for it. It reports
// false when the hub is closed.
func (h *Hub) register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}
	h.clients[c] = true
	for _, t := range replayed {
		if msg, ok := h.latest[t]; ok {
			c.send <- msg
		}
	}
	return true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c] {
		h.dropLocked(c)
	}
}

// dropLocked must be called with mu held.
func (h *Hub) dropLocked(c *Client) {
	delete(h.clients, c)
	close(c.send)
}
