package ws

import (
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades /ws/tracks requests and attaches them to the hub
type Handler struct {
	hub *TrackHub
}

// NewHandler creates a new WebSocket handler
func NewHandler(hub *TrackHub) *Handler {
	return &Handler{hub: hub}
}

// ServeHTTP handles WebSocket upgrade requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[TrackHub] Upgrade error: %v", err)
		return
	}

	log.Printf("[TrackHub] New connection from %s", r.RemoteAddr)
	client := h.hub.register(conn)
	h.readPump(client)
}

// readPump keeps the connection alive and detects disconnection
func (h *Handler) readPump(client *hubClient) {
	conn := client.conn
	stop := make(chan struct{})
	defer func() {
		close(stop)
		h.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := client.write(websocket.PingMessage, nil, 10*time.Second); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[TrackHub] Read error: %v", err)
			}
			return
		}
	}
}
