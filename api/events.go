/*
events.go - Websocket feed of cache notices

PURPOSE:
  Pushes a NoticeDTO to every connected browser whenever the Synchronization
  Controller replaces a collection or the session changes, so the UI knows
  to re-fetch its view instead of polling.

DELIVERY:
  Notify runs on the controller's goroutines and must not block. Each client
  has a small buffered queue; a client that falls behind misses notices
  rather than stalling the controller. A missed notice is harmless because
  the next one prompts the same re-fetch.

USAGE:
  GET /api/events  (websocket upgrade)
*/
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/warp/airblock/booking"
)

const (
	clientQueueSize = 16
	writeWait       = 10 * time.Second
	pingPeriod      = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type eventClient struct {
	send chan []byte
}

// EventHub fans notices out to websocket clients. It implements booking.NoticeSink.
type EventHub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[*eventClient]struct{}
	closed  bool
}

func NewEventHub(logger *slog.Logger) *EventHub {
	return &EventHub{
		logger:  logger.With("component", "events"),
		clients: make(map[*eventClient]struct{}),
	}
}

// Notify broadcasts n to every client without blocking.
func (h *EventHub) Notify(n booking.Notice) {
	data, err := json.Marshal(toNoticeDTO(n))
	if err != nil {
		h.logger.Error("encode notice", "err", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Client is slow, skip
		}
	}
}

// Clients returns the number of connected clients.
func (h *EventHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *EventHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *EventHub) register(c *eventClient) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	return true
}

func (h *EventHub) unregister(c *eventClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeWS upgrades the request and streams notices until either side closes.
func (h *EventHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	// Registered before the upgrade so no notice sent after the handshake is lost.
	c := &eventClient{send: make(chan []byte, clientQueueSize)}
	if !h.register(c) {
		writeError(w, http.StatusServiceUnavailable, "Event feed closed", nil)
		return
	}
	defer h.unregister(c)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()
	h.logger.Debug("client connected", "remote", r.RemoteAddr)

	// The reader only exists to notice the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			h.logger.Debug("client disconnected", "remote", r.RemoteAddr)
			return
		}
	}
}
