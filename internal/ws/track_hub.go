// Package ws streams live track state to browser clients over websockets.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"pantheravision/internal/pipeline"
)

type hubClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *hubClient) write(messageType int, data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteMessage(messageType, data)
}

// TrackHub fans out track messages to connected websocket clients
type TrackHub struct {
	label func(string) string

	mu      sync.RWMutex
	clients map[*websocket.Conn]*hubClient
	last    []byte
}

// NewTrackHub creates a hub; label maps detector classes to display labels
func NewTrackHub(label func(string) string) *TrackHub {
	return &TrackHub{
		label:   label,
		clients: make(map[*websocket.Conn]*hubClient),
	}
}

// register adds a connection and replays the last message to it
func (h *TrackHub) register(conn *websocket.Conn) *hubClient {
	client := &hubClient{conn: conn}

	h.mu.Lock()
	h.clients[conn] = client
	last := h.last
	n := len(h.clients)
	h.mu.Unlock()

	log.Printf("[TrackHub] Client registered (total: %d)", n)
	if last != nil {
		if err := client.write(websocket.TextMessage, last, 10*time.Second); err != nil {
			log.Printf("[TrackHub] Error sending to client: %v", err)
		}
	}
	return client
}

// Unregister removes a connection
func (h *TrackHub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		log.Printf("[TrackHub] Client unregistered (total: %d)", len(h.clients))
	}
}

// ClientCount returns the number of connected clients
func (h *TrackHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends a raw text message to every client
func (h *TrackHub) Broadcast(message []byte) {
	h.mu.Lock()
	h.last = message
	clients := make([]*hubClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		if err := c.write(websocket.TextMessage, message, 10*time.Second); err != nil {
			log.Printf("[TrackHub] Error sending to client: %v", err)
			h.Unregister(c.conn)
			c.conn.Close()
		}
	}
}

// BroadcastResult encodes a frame result and sends it to every client
func (h *TrackHub) BroadcastResult(result *pipeline.FrameResult) {
	data, err := json.Marshal(NewTrackMessage(result, h.label))
	if err != nil {
		log.Printf("[TrackHub] Error marshaling track message: %v", err)
		return
	}
	h.Broadcast(data)
}

// Run forwards results from the pipeline bus until ctx is done or the
// channel closes. Only frames where the detector ran carry new track state.
func (h *TrackHub) Run(ctx context.Context, results <-chan *pipeline.FrameResult) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case result, ok := <-results:
			if !ok {
				h.closeAll()
				return
			}
			if result.Inferred {
				h.BroadcastResult(result)
			}
		}
	}
}

func (h *TrackHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		delete(h.clients, conn)
	}
}
