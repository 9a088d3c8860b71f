package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

const (
	EventPeerAdded   = "peer_added"
	EventPeerRemoved = "peer_removed"

	eventBuffer = 32
	writeWait   = 5 * time.Second
)

// Event is one message on the admin event stream.
type Event struct {
	Type     string    `json:"type"`
	Endpoint string    `json:"endpoint,omitempty"`
	Actor    string    `json:"actor,omitempty"`
	Time     time.Time `json:"time"`
}

// EventHub fans admin events out to websocket subscribers. Each subscriber
// has its own buffered queue; a subscriber that falls behind is dropped.
type EventHub struct {
	upgrader websocket.Upgrader
	logger   hclog.Logger

	mu     sync.Mutex
	subs   map[*websocket.Conn]chan []byte
	closed bool
}

func NewEventHub(logger hclog.Logger) *EventHub {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &EventHub{
		logger: logger.Named("events"),
		subs:   map[*websocket.Conn]chan []byte{},
	}
}

// ServeHTTP upgrades the request and subscribes the connection.
func (h *EventHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	c, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ch := make(chan []byte, eventBuffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = c.Close()
		return
	}
	h.subs[c] = ch
	h.mu.Unlock()

	h.logger.Debug("event subscriber connected", "remote", r.RemoteAddr)
	go h.writeLoop(c, ch)
	go h.readLoop(c)
}

// Publish queues ev for every subscriber without blocking.
func (h *EventHub) Publish(ev Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Warn("encode event failed", "type", ev.Type, "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c, ch := range h.subs {
		select {
		case ch <- msg:
		default:
			h.logger.Warn("dropping slow event subscriber", "remote", c.RemoteAddr().String())
			delete(h.subs, c)
			close(ch)
		}
	}
}

// Len returns the number of connected subscribers.
func (h *EventHub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber and refuses new ones.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c, ch := range h.subs {
		delete(h.subs, c)
		close(ch)
	}
}

func (h *EventHub) remove(c *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subs[c]; ok {
		delete(h.subs, c)
		close(ch)
	}
}

func (h *EventHub) writeLoop(c *websocket.Conn, ch <-chan []byte) {
	defer c.Close()
	for msg := range ch {
		_ = c.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.remove(c)
			return
		}
	}
	_ = c.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(writeWait))
	h.logger.Debug("event subscriber disconnected", "remote", c.RemoteAddr().String())
}

// readLoop discards client frames and notices disconnects.
func (h *EventHub) readLoop(c *websocket.Conn) {
	for {
		if _, _, err := c.NextReader(); err != nil {
			h.remove(c)
			return
		}
	}
}
