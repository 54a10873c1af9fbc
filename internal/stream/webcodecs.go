package stream

import (
	"context"
	"encoding/binary"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Message types on the binary video socket
const (
	FramePlaceholder byte = 0
	FrameAnnotated   byte = 1
)

// frameHeaderSize is 1 byte type + 8 bytes sequence + 4 bytes length
const frameHeaderSize = 13

var videoUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 256 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type videoClient struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (c *videoClient) write(messageType int, data []byte, timeout time.Duration) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(timeout))
	return c.conn.WriteMessage(messageType, data)
}

// VideoSocket pushes published frames to websocket viewers as binary
// messages, for browsers that decode JPEG with WebCodecs.
type VideoSocket struct {
	pub *Publisher

	mu      sync.RWMutex
	clients map[*websocket.Conn]*videoClient
}

// NewVideoSocket creates a socket fed by pub; call Run to start broadcasting
func NewVideoSocket(pub *Publisher) *VideoSocket {
	return &VideoSocket{
		pub:     pub,
		clients: make(map[*websocket.Conn]*videoClient),
	}
}

// EncodeFrameMessage builds a binary frame message
func EncodeFrameMessage(kind byte, seq uint64, frame []byte) []byte {
	msg := make([]byte, frameHeaderSize+len(frame))
	msg[0] = kind
	binary.BigEndian.PutUint64(msg[1:9], seq)
	binary.BigEndian.PutUint32(msg[9:13], uint32(len(frame)))
	copy(msg[frameHeaderSize:], frame)
	return msg
}

// Run broadcasts every new frame until ctx is done or the publisher closes.
// When no frame arrives within the stale window the placeholder is sent.
func (s *VideoSocket) Run(ctx context.Context) {
	stale := time.NewTicker(s.pub.StaleAfter())
	defer stale.Stop()

	var sent uint64
	for {
		updated, version, open := s.pub.Updated()
		if !open {
			s.closeAll()
			return
		}
		if version > sent && s.ClientCount() > 0 {
			if snap, ok := s.pub.Latest(); ok {
				s.broadcast(EncodeFrameMessage(FrameAnnotated, snap.Seq, snap.JPEG))
				sent = snap.Version
			}
		}

		select {
		case <-ctx.Done():
			s.closeAll()
			return
		case <-updated:
		case <-stale.C:
			if s.ClientCount() == 0 {
				continue
			}
			if snap, ok := s.pub.Latest(); !ok || s.pub.Stale(snap.Timestamp) {
				s.broadcast(EncodeFrameMessage(FramePlaceholder, 0, s.pub.Placeholder()))
			}
		}
	}
}

func (s *VideoSocket) broadcast(msg []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, client := range s.clients {
		if err := client.write(websocket.BinaryMessage, msg, 100*time.Millisecond); err != nil {
			// The read pump removes the client
			log.Printf("[VideoSocket] Write error to client: %v", err)
		}
	}
}

// ClientCount returns the number of connected viewers
func (s *VideoSocket) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *VideoSocket) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		conn.Close()
		delete(s.clients, conn)
	}
}

// ServeHTTP upgrades the request and keeps the connection until the client leaves
func (s *VideoSocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := videoUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[VideoSocket] Upgrade error: %v", err)
		return
	}

	client := &videoClient{conn: conn}
	s.mu.Lock()
	s.clients[conn] = client
	n := len(s.clients)
	s.mu.Unlock()
	log.Printf("[VideoSocket] Client connected from %s (%d clients)", r.RemoteAddr, n)

	// Send the current frame immediately so the viewer is not blank
	if snap, ok := s.pub.Latest(); ok && !s.pub.Stale(snap.Timestamp) {
		client.write(websocket.BinaryMessage, EncodeFrameMessage(FrameAnnotated, snap.Seq, snap.JPEG), time.Second)
	} else {
		client.write(websocket.BinaryMessage, EncodeFrameMessage(FramePlaceholder, 0, s.pub.Placeholder()), time.Second)
	}

	s.readPump(client)
}

// readPump reads from the websocket to detect disconnection
func (s *VideoSocket) readPump(client *videoClient) {
	conn := client.conn
	stop := make(chan struct{})
	defer func() {
		close(stop)
		s.mu.Lock()
		delete(s.clients, conn)
		n := len(s.clients)
		s.mu.Unlock()
		conn.Close()
		log.Printf("[VideoSocket] Client disconnected (%d clients remaining)", n)
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
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
