// Package stream publishes annotated frames to the live view, the snapshot
// endpoint, websocket viewers and the video recorder.
package stream

import (
	"bytes"
	"image"
	"image/jpeg"
	"sync"
	"time"
)

const (
	DefaultQuality    = 80
	DefaultStaleAfter = 5 * time.Second
)

// PublisherConfig controls JPEG encoding and the stale-frame placeholder
type PublisherConfig struct {
	Quality     int
	StaleAfter  time.Duration
	Placeholder string // Text shown when no fresh frame exists
	Width       int    // Placeholder size
	Height      int
}

func (c PublisherConfig) withDefaults() PublisherConfig {
	if c.Quality <= 0 || c.Quality > 100 {
		c.Quality = DefaultQuality
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = DefaultStaleAfter
	}
	if c.Placeholder == "" {
		c.Placeholder = "Waiting for camera..."
	}
	if c.Width <= 0 || c.Height <= 0 {
		c.Width, c.Height = 640, 480
	}
	return c
}

// Snapshot is an encoded published frame. The bytes are shared between
// readers and must not be modified.
type Snapshot struct {
	JPEG      []byte
	Seq       uint64
	Version   uint64
	Timestamp time.Time
}

// Publisher is a single-slot holder of the most recent annotated frame.
// Publish never waits on readers; frames are encoded lazily, once per version.
type Publisher struct {
	cfg PublisherConfig
	now func() time.Time

	mu      sync.Mutex
	img     image.Image
	seq     uint64
	at      time.Time
	version uint64
	changed chan struct{}
	closed  bool

	encoded *Snapshot

	placeholderOnce sync.Once
	placeholder     []byte
}

// NewPublisher creates an empty publisher
func NewPublisher(cfg PublisherConfig) *Publisher {
	return &Publisher{
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		changed: make(chan struct{}),
	}
}

// Publish replaces the slot contents and wakes any waiting readers
func (p *Publisher) Publish(img image.Image, seq uint64) {
	if img == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.img = img
	p.seq = seq
	p.at = p.now()
	p.version++
	close(p.changed)
	p.changed = make(chan struct{})
}

// Updated returns a channel closed on the next publish, with the version
// current at the time of the call. ok is false once the publisher is closed.
func (p *Publisher) Updated() (ch <-chan struct{}, version uint64, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.changed, p.version, !p.closed
}

// Version returns the number of frames published so far
func (p *Publisher) Version() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.version
}

// Latest returns the newest frame as JPEG
func (p *Publisher) Latest() (Snapshot, bool) {
	p.mu.Lock()
	img, seq, at, version := p.img, p.seq, p.at, p.version
	if p.encoded != nil && p.encoded.Version == version {
		snap := *p.encoded
		p.mu.Unlock()
		return snap, true
	}
	p.mu.Unlock()

	if img == nil {
		return Snapshot{}, false
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.cfg.Quality}); err != nil {
		return Snapshot{}, false
	}
	snap := Snapshot{JPEG: buf.Bytes(), Seq: seq, Version: version, Timestamp: at}

	p.mu.Lock()
	if p.encoded == nil || p.encoded.Version < version {
		p.encoded = &snap
	}
	p.mu.Unlock()
	return snap, true
}

// LatestJPEG returns the newest frame and its publish time
func (p *Publisher) LatestJPEG() ([]byte, time.Time, bool) {
	snap, ok := p.Latest()
	if !ok {
		return nil, time.Time{}, false
	}
	return snap.JPEG, snap.Timestamp, true
}

// Current returns the frame to show on the live view: the newest frame while
// it is fresh, the placeholder otherwise.
func (p *Publisher) Current() []byte {
	snap, ok := p.Latest()
	if !ok || p.Stale(snap.Timestamp) {
		return p.Placeholder()
	}
	return snap.JPEG
}

// Stale reports whether a frame published at t is too old to display
func (p *Publisher) Stale(t time.Time) bool {
	return p.now().Sub(t) > p.cfg.StaleAfter
}

// StaleAfter returns the configured freshness window
func (p *Publisher) StaleAfter() time.Duration {
	return p.cfg.StaleAfter
}

// Placeholder returns the encoded "waiting" frame
func (p *Publisher) Placeholder() []byte {
	p.placeholderOnce.Do(func() {
		img := RenderPlaceholder(p.cfg.Width, p.cfg.Height, p.cfg.Placeholder)
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: p.cfg.Quality}); err == nil {
			p.placeholder = buf.Bytes()
		}
	})
	return p.placeholder
}

// Close wakes all readers and rejects further frames
func (p *Publisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.changed)
}
