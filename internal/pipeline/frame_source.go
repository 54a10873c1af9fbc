package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/jpeg"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBufferSize is the ring capacity used when none is configured
const DefaultBufferSize = 128

// FrameSourceConfig configures acquisition for one video input
type FrameSourceConfig struct {
	Source            string        // Address used in logs and stats
	Finite            bool          // File sources end instead of reconnecting
	BufferSize        int           // Ring capacity, default 128
	ReconnectInterval time.Duration // Wait before reopening a live source, default 5s
}

// FrameSource runs an acquisition loop decoupled from its consumer.
// Frames land in a bounded ring. For live sources a full ring drops the
// oldest unread frame so the producer never blocks, and Read skips to the
// newest frame. File sources are delivered in order: Read returns the
// oldest unread frame and the producer waits for room instead of dropping.
type FrameSource struct {
	cfg     FrameSourceConfig
	capture Capture

	mu    sync.Mutex
	ring  []*Frame
	head  int // Index of the oldest buffered frame
	count int
	stats CaptureStats
	space chan struct{} // Signalled when Read frees a slot

	seq     atomic.Uint64
	running atomic.Bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	done     chan struct{}
	doneOnce sync.Once
}

// NewFrameSource creates a frame source over a capture backend
func NewFrameSource(cfg FrameSourceConfig, capture Capture) *FrameSource {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	return &FrameSource{
		cfg:     cfg,
		capture: capture,
		ring:    make([]*Frame, cfg.BufferSize),
		stats:   CaptureStats{Source: cfg.Source, Finite: cfg.Finite},
		space:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start begins background acquisition
func (s *FrameSource) Start(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("frame source %s: %w", s.cfg.Source, ErrAlreadyRunning)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(ctx)

	log.Printf("[FrameSource] Started %s (buffer %d, finite %v)", s.cfg.Source, s.cfg.BufferSize, s.cfg.Finite)
	return nil
}

// Stop terminates acquisition, releases the capture handle and waits
// for the loop to exit
func (s *FrameSource) Stop() {
	if !s.running.Load() {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.running.Store(false)
	log.Printf("[FrameSource] Stopped %s", s.cfg.Source)
}

// Read returns the most recently produced frame without blocking. Older
// unread frames are discarded so the consumer never moves back in time.
// File sources return the oldest unread frame instead.
func (s *FrameSource) Read() (*Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.count == 0 {
		return nil, false
	}

	if s.cfg.Finite {
		frame := s.ring[s.head]
		s.ring[s.head] = nil
		s.head = (s.head + 1) % len(s.ring)
		s.count--
		select {
		case s.space <- struct{}{}:
		default:
		}
		return frame, true
	}

	newest := (s.head + s.count - 1) % len(s.ring)
	frame := s.ring[newest]
	s.stats.FramesSkipped += uint64(s.count - 1)

	for i := 0; i < s.count; i++ {
		s.ring[(s.head+i)%len(s.ring)] = nil
	}
	s.head = (newest + 1) % len(s.ring)
	s.count = 0

	return frame, true
}

// Finite reports whether the source is a file that ends
func (s *FrameSource) Finite() bool {
	return s.cfg.Finite
}

// Done is closed when a finite source reaches end of stream
func (s *FrameSource) Done() <-chan struct{} {
	return s.done
}

// Stats returns a copy of the capture statistics
func (s *FrameSource) Stats() *CaptureStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := s.stats
	stats.Buffered = s.count
	return &stats
}

func (s *FrameSource) run(ctx context.Context) {
	defer s.wg.Done()

	for {
		if ctx.Err() != nil {
			return
		}

		if err := s.capture.Open(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			if s.cfg.Finite {
				log.Printf("[FrameSource] Failed to open %s: %v", s.cfg.Source, err)
				s.endOfStream()
				return
			}
			log.Printf("[FrameSource] Failed to open %s: %v, retrying in %s", s.cfg.Source, err, s.cfg.ReconnectInterval)
			if !s.waitReconnect(ctx) {
				return
			}
			continue
		}

		err := s.pump(ctx)
		s.capture.Close()

		if ctx.Err() != nil {
			return
		}
		if s.cfg.Finite {
			if errors.Is(err, io.EOF) {
				log.Printf("[FrameSource] End of video file %s reached", s.cfg.Source)
			} else {
				log.Printf("[FrameSource] Error reading %s: %v, treating as end of stream", s.cfg.Source, err)
			}
			s.endOfStream()
			return
		}

		log.Printf("[FrameSource] Capture from %s failed: %v, reconnecting in %s", s.cfg.Source, err, s.cfg.ReconnectInterval)
		if !s.waitReconnect(ctx) {
			return
		}
	}
}

// pump reads frames until the capture fails
func (s *FrameSource) pump(ctx context.Context) error {
	for {
		captured, err := s.capture.Next(ctx)
		if errors.Is(err, ErrMalformedFrame) {
			s.discard(err)
			continue
		}
		if err != nil {
			return err
		}

		frame, err := s.toFrame(captured)
		if err != nil {
			s.discard(err)
			continue
		}
		if !s.push(ctx, frame) {
			return ctx.Err()
		}
	}
}

func (s *FrameSource) toFrame(captured *CapturedFrame) (*Frame, error) {
	if captured == nil {
		return nil, ErrMalformedFrame
	}

	img := captured.Image
	if img == nil {
		if len(captured.Data) == 0 {
			return nil, ErrMalformedFrame
		}
		decoded, err := jpeg.Decode(bytes.NewReader(captured.Data))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		img = decoded
	}

	bounds := img.Bounds()
	if bounds.Empty() {
		return nil, ErrMalformedFrame
	}

	return &Frame{
		Seq:       s.seq.Add(1),
		Timestamp: time.Now(),
		Width:     bounds.Dx(),
		Height:    bounds.Dy(),
		Image:     img,
		Data:      captured.Data,
	}, nil
}

// push admits a frame. A full ring drops the oldest unread frame of a live
// source; a file source waits for the consumer. It returns false only when
// ctx ends while waiting.
func (s *FrameSource) push(ctx context.Context, frame *Frame) bool {
	s.mu.Lock()
	for s.cfg.Finite && s.count == len(s.ring) {
		s.mu.Unlock()
		select {
		case <-ctx.Done():
			return false
		case <-s.space:
		}
		s.mu.Lock()
	}
	if s.count == len(s.ring) {
		s.ring[s.head] = nil
		s.head = (s.head + 1) % len(s.ring)
		s.count--
		s.stats.FramesDropped++
	}
	s.ring[(s.head+s.count)%len(s.ring)] = frame
	s.count++
	s.stats.FramesCaptured++
	s.stats.LastFrameTime = frame.Timestamp
	s.mu.Unlock()

	if frame.Seq%500 == 0 {
		log.Printf("[FrameSource] %s: frame %d", s.cfg.Source, frame.Seq)
	}
	return true
}

func (s *FrameSource) discard(err error) {
	s.mu.Lock()
	s.stats.FramesMalformed++
	n := s.stats.FramesMalformed
	s.mu.Unlock()

	if n == 1 || n%100 == 0 {
		log.Printf("[FrameSource] Discarded malformed frame from %s (%d total): %v", s.cfg.Source, n, err)
	}
}

func (s *FrameSource) waitReconnect(ctx context.Context) bool {
	s.mu.Lock()
	s.stats.ReconnectAttempts++
	s.mu.Unlock()

	timer := time.NewTimer(s.cfg.ReconnectInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *FrameSource) endOfStream() {
	s.mu.Lock()
	s.stats.EndOfStream = true
	s.mu.Unlock()
	s.doneOnce.Do(func() { close(s.done) })
}

var _ Source = (*FrameSource)(nil)
