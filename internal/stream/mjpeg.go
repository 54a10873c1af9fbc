package stream

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"
)

// MJPEGHandler serves the live view as multipart/x-mixed-replace
type MJPEGHandler struct {
	pub      *Publisher
	interval time.Duration
	clients  atomic.Int32
}

// NewMJPEGHandler creates a handler limited to fps frames per second per client
func NewMJPEGHandler(pub *Publisher, fps int) *MJPEGHandler {
	if fps <= 0 {
		fps = 15
	}
	return &MJPEGHandler{pub: pub, interval: time.Second / time.Duration(fps)}
}

// Clients returns the number of connected viewers
func (h *MJPEGHandler) Clients() int {
	return int(h.clients.Load())
}

// ServeHTTP streams frames until the client disconnects or the publisher closes
func (h *MJPEGHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	n := h.clients.Add(1)
	defer h.clients.Add(-1)
	log.Printf("[MJPEG] Client connected from %s (%d viewers)", r.RemoteAddr, n)
	defer log.Printf("[MJPEG] Client disconnected from %s", r.RemoteAddr)

	// Re-send the placeholder at the stale interval so a stalled camera is visible
	idle := time.NewTicker(h.pub.StaleAfter())
	defer idle.Stop()

	var lastWrite time.Time
	for {
		updated, _, open := h.pub.Updated()
		if !open {
			return
		}

		if wait := h.interval - time.Since(lastWrite); wait > 0 {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(wait):
			}
		}

		if err := writePart(w, h.pub.Current()); err != nil {
			return
		}
		flusher.Flush()
		lastWrite = time.Now()

		select {
		case <-r.Context().Done():
			return
		case <-updated:
		case <-idle.C:
		}
	}
}

func writePart(w http.ResponseWriter, frame []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return err
	}
	_, err := fmt.Fprint(w, "\r\n")
	return err
}

// SnapshotHandler serves the newest frame as a single JPEG
type SnapshotHandler struct {
	pub *Publisher
}

// NewSnapshotHandler creates a new snapshot handler
func NewSnapshotHandler(pub *Publisher) *SnapshotHandler {
	return &SnapshotHandler{pub: pub}
}

// ServeHTTP serves a single JPEG snapshot
func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.pub.Latest()
	if !ok {
		http.Error(w, "No frame available", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(snap.JPEG)))
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Frame-Seq", strconv.FormatUint(snap.Seq, 10))
	w.Write(snap.JPEG)
}
