// Package alert persists and announces confirmed detections off the
// processing path. A single worker drains a bounded queue in FIFO order.
package alert

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"pantheravision/internal/database"
	"pantheravision/internal/pipeline"
	"pantheravision/internal/telegram"
)

var (
	// ErrQueueFull is returned by Submit when the queue is at capacity
	ErrQueueFull = errors.New("alert queue full")
	// ErrDispatcherStopped is returned by Submit after Stop
	ErrDispatcherStopped = errors.New("alert dispatcher stopped")
)

// Store is the durable detection log
type Store interface {
	AppendDetection(ctx context.Context, rec *database.DetectionRecord) (int64, error)
	Close() error
}

// Notifier delivers an alert to an external channel
type Notifier interface {
	Name() string
	Notify(ctx context.Context, imagePath, caption string) error
}

// Config controls queueing and shutdown behaviour
type Config struct {
	QueueSize     int           // Default 64
	DrainOnStop   bool          // Process queued events on Stop instead of abandoning them
	ImageDir      string        // Where snapshots go when an event has no ImagePath, default output/images
	JPEGQuality   int           // Default 90
	NotifyTimeout time.Duration // Per-notifier deadline, default 15s

	// SharedStore leaves the store open on Stop; the caller closes it
	// once nothing else reads from it
	SharedStore bool
}

// DefaultConfig returns the stock dispatcher settings
func DefaultConfig() Config {
	return Config{
		QueueSize:     64,
		DrainOnStop:   true,
		ImageDir:      filepath.Join("output", "images"),
		JPEGQuality:   90,
		NotifyTimeout: 15 * time.Second,
	}
}

// Stats are the dispatcher counters
type Stats struct {
	Submitted     uint64 `json:"submitted"`
	Persisted     uint64 `json:"persisted"`
	PersistFailed uint64 `json:"persist_failed"`
	Notified      uint64 `json:"notified"`
	NotifyFailed  uint64 `json:"notify_failed"`
	NotifySkipped uint64 `json:"notify_skipped"`
	Rejected      uint64 `json:"rejected"`
	Abandoned     uint64 `json:"abandoned"`
	Queued        int    `json:"queued"`
}

// Dispatcher owns the alert queue and its worker
type Dispatcher struct {
	cfg       Config
	store     Store
	notifiers []Notifier

	queue chan pipeline.AlertEvent

	mu      sync.RWMutex
	started bool
	stopped bool

	abandon  atomic.Bool
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error

	submitted     atomic.Uint64
	persisted     atomic.Uint64
	persistFailed atomic.Uint64
	notified      atomic.Uint64
	notifyFailed  atomic.Uint64
	notifySkipped atomic.Uint64
	rejected      atomic.Uint64
	abandoned     atomic.Uint64
}

// NewDispatcher creates a dispatcher; call Start to launch the worker
func NewDispatcher(cfg Config, store Store, notifiers ...Notifier) *Dispatcher {
	defaults := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaults.QueueSize
	}
	if cfg.ImageDir == "" {
		cfg.ImageDir = defaults.ImageDir
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = defaults.JPEGQuality
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = defaults.NotifyTimeout
	}

	return &Dispatcher{
		cfg:       cfg,
		store:     store,
		notifiers: notifiers,
		queue:     make(chan pipeline.AlertEvent, cfg.QueueSize),
	}
}

// Start launches the worker
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrDispatcherStopped
	}
	if d.started {
		return fmt.Errorf("alert dispatcher: %w", pipeline.ErrAlreadyRunning)
	}
	d.started = true

	d.wg.Add(1)
	go d.worker()

	log.Printf("[Alert] Dispatcher started (queue %d, %d notifiers)", d.cfg.QueueSize, len(d.notifiers))
	return nil
}

// Submit enqueues an event without blocking
func (d *Dispatcher) Submit(event pipeline.AlertEvent) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		d.rejected.Add(1)
		return ErrDispatcherStopped
	}

	select {
	case d.queue <- event:
		d.submitted.Add(1)
		return nil
	default:
		n := d.rejected.Add(1)
		log.Printf("[Alert] Queue full, dropping alert (%d rejected so far)", n)
		return ErrQueueFull
	}
}

// Stop closes intake, drains or abandons what is queued, joins the worker
// and closes the store unless it is shared. If ctx expires while draining,
// the remaining events are abandoned.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.stopOnce.Do(func() {
		d.mu.Lock()
		d.stopped = true
		started := d.started
		close(d.queue)
		d.mu.Unlock()

		if !d.cfg.DrainOnStop {
			d.abandon.Store(true)
		}

		if started {
			done := make(chan struct{})
			go func() {
				d.wg.Wait()
				close(done)
			}()

			select {
			case <-done:
			case <-ctx.Done():
				log.Printf("[Alert] Drain interrupted, abandoning %d queued alerts", len(d.queue))
				d.abandon.Store(true)
				<-done
			}
		} else {
			d.abandonRemaining()
		}

		stats := d.Stats()
		log.Printf("[Alert] Dispatcher stopped (persisted %d, notified %d, abandoned %d)",
			stats.Persisted, stats.Notified, stats.Abandoned)

		if d.store != nil && !d.cfg.SharedStore {
			if err := d.store.Close(); err != nil {
				d.stopErr = fmt.Errorf("failed to close detection log: %w", err)
			}
		}
	})
	return d.stopErr
}

// Stats returns a snapshot of the counters
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Submitted:     d.submitted.Load(),
		Persisted:     d.persisted.Load(),
		PersistFailed: d.persistFailed.Load(),
		Notified:      d.notified.Load(),
		NotifyFailed:  d.notifyFailed.Load(),
		NotifySkipped: d.notifySkipped.Load(),
		Rejected:      d.rejected.Load(),
		Abandoned:     d.abandoned.Load(),
		Queued:        len(d.queue),
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for event := range d.queue {
		if d.abandon.Load() {
			d.abandoned.Add(1)
			continue
		}
		d.process(event)
	}
}

func (d *Dispatcher) abandonRemaining() {
	for range d.queue {
		d.abandoned.Add(1)
	}
}

// process handles one event: snapshot, log row, then notifications
func (d *Dispatcher) process(event pipeline.AlertEvent) {
	imagePath := event.ImagePath
	if event.Image != nil {
		if imagePath == "" {
			imagePath = ImagePath(d.cfg.ImageDir, event.Timestamp)
		}
		if err := writeJPEG(imagePath, event.Image, d.cfg.JPEGQuality); err != nil {
			log.Printf("[Alert] Failed to save snapshot: %v", err)
			imagePath = ""
		}
	}

	rec := toRecord(event, imagePath)
	if d.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		id, err := d.store.AppendDetection(ctx, rec)
		cancel()
		if err != nil {
			d.persistFailed.Add(1)
			log.Printf("[Alert] Failed to persist detection: %v", err)
		} else {
			d.persisted.Add(1)
			log.Printf("[Alert] Logged detection #%d (conf %.2f) %s", id, event.Confidence, imagePath)
		}
	}

	caption := event.Caption
	if caption == "" {
		label, _ := event.Metadata["label"].(string)
		caption = Caption(label, event.Confidence)
	}

	for _, n := range d.notifiers {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.NotifyTimeout)
		err := n.Notify(ctx, imagePath, caption)
		cancel()
		if errors.Is(err, telegram.ErrCooldown) {
			d.notifySkipped.Add(1)
			continue
		}
		if err != nil {
			d.notifyFailed.Add(1)
			log.Printf("[Alert] %s notification failed: %v", n.Name(), err)
			continue
		}
		d.notified.Add(1)
	}
}

func toRecord(event pipeline.AlertEvent, imagePath string) *database.DetectionRecord {
	meta := make(map[string]any, len(event.Metadata)+2)
	for k, v := range event.Metadata {
		meta[k] = v
	}
	meta["event_id"] = uuid.NewString()
	meta["bbox"] = []float32{event.BBox.X1, event.BBox.Y1, event.BBox.X2, event.BBox.Y2}

	rec := &database.DetectionRecord{
		Timestamp:  event.Timestamp,
		Confidence: float64(event.Confidence),
		ImagePath:  imagePath,
		VideoPath:  event.VideoPath,
		Metadata:   meta,
	}
	if label, ok := event.Metadata["label"].(string); ok {
		rec.Label = label
	}
	if id, ok := event.Metadata["track_id"].(int); ok && id != pipeline.NoTrackID {
		rec.TrackID = &id
	}
	return rec
}

func writeJPEG(path string, img image.Image, quality int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create image directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: quality}); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}

// ImagePath names a snapshot file for an alert raised at ts
func ImagePath(dir string, ts time.Time) string {
	id := uuid.New().String()[:8]
	return filepath.Join(dir, fmt.Sprintf("leopard_%s_%s.jpg", ts.Format("20060102_150405"), id))
}

// Caption formats the notification text for a detection
func Caption(label string, confidence float32) string {
	if label == "" {
		label = "Leopard"
	}
	return fmt.Sprintf("🐆 %s Detected! Conf: %.2f", label, confidence)
}
