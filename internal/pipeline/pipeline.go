package pipeline

import (
	"context"
	"fmt"
	"image"
	"log"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Config holds orchestration settings
type Config struct {
	Mode              DetectionMode
	Params            DetectParams
	IdleSleep         time.Duration // Sleep when no frame is ready, default 10ms
	AnonymousCooldown time.Duration // Minimum gap between anonymous alerts, default 30s
	LatencyWindow     int           // Inference samples kept for stats, default 100

	// Label maps a detector class to its alert label; nil keeps the class
	Label func(class string) string
}

// Components are the collaborators driven by the loop. Source, Motion,
// Strategy, Validator and Tracker are required; the rest may be nil.
type Components struct {
	Source     Source
	Motion     MotionGate
	Strategy   DetectionStrategy
	Detector   Detector
	Validator  Validator
	Associator Associator
	Tracker    Tracker
	Alerts     AlertSink
	Annotator  Annotator
	Publisher  FramePublisher
	Recorder   FrameRecorder
	Bus        *EventBus
}

// Pipeline runs the per-frame loop for one camera: motion gate, scheduler,
// detector, validation, association, tracking, alerting and publication.
// Everything except Stats and the event bus is confined to the loop goroutine.
type Pipeline struct {
	cfg Config
	c   Components

	// Loop-owned state. frameIndex counts processed frames, not capture
	// sequence numbers, so skipped frames never skip a forced check.
	frameIndex  uint64
	alerted     map[int]bool
	lastAnon    time.Time
	detectFails uint64

	statsMu   sync.RWMutex
	stats     PipelineStats
	latencies []float64
	latHead   int

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// New wires a pipeline; it does not start it
func New(cfg Config, c Components) (*Pipeline, error) {
	if c.Source == nil || c.Motion == nil || c.Strategy == nil || c.Validator == nil || c.Tracker == nil {
		return nil, fmt.Errorf("pipeline needs a source, motion gate, strategy, validator and tracker")
	}
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = 10 * time.Millisecond
	}
	if cfg.AnonymousCooldown <= 0 {
		cfg.AnonymousCooldown = 30 * time.Second
	}
	if cfg.LatencyWindow <= 0 {
		cfg.LatencyWindow = 100
	}
	if cfg.Mode == "" {
		cfg.Mode = DetectionModeHybrid
	}
	if c.Bus == nil {
		c.Bus = NewEventBus()
	}

	detector := "none"
	if c.Detector != nil {
		detector = c.Detector.Name()
	}

	return &Pipeline{
		cfg:     cfg,
		c:       c,
		alerted: make(map[int]bool),
		stats: PipelineStats{
			Rejected: make(map[string]uint64),
			Mode:     cfg.Mode,
			Detector: detector,
		},
		latencies: make([]float64, 0, cfg.LatencyWindow),
	}, nil
}

// Bus returns the per-frame result bus
func (p *Pipeline) Bus() *EventBus {
	return p.c.Bus
}

// Start runs the loop in the background
func (p *Pipeline) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if p.running || p.done != nil {
		return fmt.Errorf("pipeline: %w", ErrAlreadyRunning)
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.done = make(chan struct{})

	go func() {
		err := p.Run(ctx)

		p.runMu.Lock()
		p.err = err
		p.running = false
		p.runMu.Unlock()
		close(p.done)
	}()

	log.Printf("[Pipeline] Started (mode %s, detector %s)", p.cfg.Mode, p.stats.Detector)
	return nil
}

// Stop cancels the loop and waits for the current iteration to finish
func (p *Pipeline) Stop() {
	p.runMu.Lock()
	cancel, done := p.cancel, p.done
	p.runMu.Unlock()

	if done == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the loop has exited
func (p *Pipeline) Done() <-chan struct{} {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.done == nil {
		return nil
	}
	return p.done
}

// Err returns why the loop exited: nil on cancellation, ErrEndOfStream
// once a finite source has been drained
func (p *Pipeline) Err() error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return p.err
}

// Run is the blocking loop. Cancellation is only observed between frames.
func (p *Pipeline) Run(ctx context.Context) error {
	src := p.c.Source
	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, ok := src.Read()
		if !ok {
			if src.Finite() && isClosed(src.Done()) {
				if frame, ok = src.Read(); !ok {
					log.Printf("[Pipeline] Source drained after %d frames", p.Stats().FramesProcessed)
					return ErrEndOfStream
				}
			} else {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(p.cfg.IdleSleep):
				}
				continue
			}
		}

		p.ProcessFrame(ctx, frame)
	}
}

func isClosed(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// ProcessFrame runs one frame through every stage and returns its result
func (p *Pipeline) ProcessFrame(ctx context.Context, frame *Frame) *FrameResult {
	now := frame.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	result := &FrameResult{
		Seq:       frame.Seq,
		Timestamp: now,
	}

	result.Motion = p.c.Motion.Detect(frame)
	var motion *MotionResult
	if result.Motion.HasMotion {
		motion = &result.Motion
	}

	p.frameIndex++
	var alerts []AlertEvent
	if p.c.Detector != nil && p.c.Strategy.ShouldInfer(result.Motion.HasMotion, p.frameIndex, p.c.Source.Finite()) {
		result.Inferred = true
		raw := p.detect(ctx, frame, result)
		result.Detections = p.validateAndTrack(raw, motion, now)
		result.Tracks = p.c.Tracker.Tracks()
		alerts = p.alertPolicy(result, now)
	} else {
		result.Tracks = p.c.Tracker.Tracks()
	}

	for _, t := range result.Tracks {
		if t.Confirmed() {
			result.Warning = true
			break
		}
	}

	var view image.Image = frame.Image
	if p.c.Annotator != nil && frame.Image != nil {
		if annotated := p.c.Annotator.Annotate(frame, result); annotated != nil {
			view = annotated
		}
	}

	p.submit(alerts, view, result)

	if p.c.Publisher != nil && view != nil {
		p.c.Publisher.Publish(view, frame.Seq)
	}
	if p.c.Recorder != nil && view != nil {
		if err := p.c.Recorder.WriteFrame(view); err != nil && frame.Seq%100 == 1 {
			log.Printf("[Pipeline] Recorder write failed on frame %d: %v", frame.Seq, err)
		}
	}

	p.record(result)
	p.c.Bus.Publish(result)
	return result
}

// detect invokes the detector; failures mean no detections for this frame
func (p *Pipeline) detect(ctx context.Context, frame *Frame, result *FrameResult) []Detection {
	start := time.Now()
	dets, err := p.c.Detector.Detect(ctx, frame, p.cfg.Params)
	elapsed := float64(time.Since(start).Microseconds()) / 1000
	result.InferenceMs = float32(elapsed)

	p.statsMu.Lock()
	p.stats.Inferences++
	if err != nil {
		p.stats.InferenceErrors++
	} else {
		p.addLatency(elapsed)
	}
	p.statsMu.Unlock()

	if err != nil {
		p.detectFails++
		if p.detectFails == 1 || p.detectFails%50 == 0 {
			log.Printf("[Pipeline] Detection failed on frame %d (%d failures): %v", frame.Seq, p.detectFails, err)
		}
		return nil
	}
	return dets
}

// validateAndTrack applies the geometric and motion rules to anonymous
// copies, assigns identities, updates the tracker and finally applies the
// confirmation rule to the identified detections
func (p *Pipeline) validateAndTrack(raw []Detection, motion *MotionResult, now time.Time) []ValidatedDetection {
	out := make([]ValidatedDetection, 0, len(raw))
	passed := make([]Detection, 0, len(raw))

	for _, d := range raw {
		anon := d
		anon.TrackID = NoTrackID
		if v := p.c.Validator.Validate(anon, motion); !v.Accepted {
			v.TrackID = d.TrackID
			out = append(out, v)
			continue
		}
		passed = append(passed, d)
	}

	assigned := passed
	if p.c.Associator != nil {
		assigned = p.c.Associator.Assign(passed, p.c.Tracker.Tracks())
	}

	p.c.Tracker.Update(assigned, now)

	for _, d := range assigned {
		out = append(out, p.c.Validator.Validate(d, motion))
	}
	return out
}

// alertPolicy decides which accepted detections raise an alert: one per
// confirmed track id until the track is evicted, and anonymous detections
// at most once per cooldown
func (p *Pipeline) alertPolicy(result *FrameResult, now time.Time) []AlertEvent {
	live := make(map[int]bool, len(result.Tracks))
	for _, t := range result.Tracks {
		live[t.ID] = true
	}
	for id := range p.alerted {
		if !live[id] {
			delete(p.alerted, id)
		}
	}

	var events []AlertEvent
	for _, v := range result.Detections {
		if !v.Accepted {
			continue
		}

		meta := map[string]any{
			"label":     p.label(v.Class),
			"class":     v.Class,
			"class_id":  v.ClassID,
			"track_id":  v.TrackID,
			"frame_seq": result.Seq,
		}

		if v.Anonymous() {
			if !p.lastAnon.IsZero() && now.Sub(p.lastAnon) < p.cfg.AnonymousCooldown {
				continue
			}
			p.lastAnon = now
			meta["anonymous"] = true
		} else {
			if p.alerted[v.TrackID] {
				continue
			}
			p.alerted[v.TrackID] = true
		}

		events = append(events, AlertEvent{
			Timestamp:  now,
			Confidence: v.Confidence,
			BBox:       v.BBox,
			Metadata:   meta,
		})
	}
	return events
}

func (p *Pipeline) submit(events []AlertEvent, snapshot image.Image, result *FrameResult) {
	if len(events) == 0 || p.c.Alerts == nil {
		return
	}

	videoPath := ""
	if p.c.Recorder != nil {
		videoPath = p.c.Recorder.Path()
	}

	for _, ev := range events {
		ev.Image = snapshot
		ev.VideoPath = videoPath
		if err := p.c.Alerts.Submit(ev); err != nil {
			p.statsMu.Lock()
			p.stats.AlertsRejected++
			p.statsMu.Unlock()
			log.Printf("[Pipeline] Alert for frame %d rejected: %v", result.Seq, err)
			continue
		}
		result.Alerts++
		log.Printf("[Pipeline] Alert: %s (track %v, conf %.2f) on frame %d",
			ev.Metadata["label"], ev.Metadata["track_id"], ev.Confidence, result.Seq)
	}

	p.statsMu.Lock()
	p.stats.AlertsSubmitted += uint64(result.Alerts)
	p.statsMu.Unlock()
}

func (p *Pipeline) label(class string) string {
	if p.cfg.Label == nil {
		return class
	}
	return p.cfg.Label(class)
}

func (p *Pipeline) record(result *FrameResult) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	p.stats.FramesProcessed++
	p.stats.LiveTracks = len(result.Tracks)
	for _, v := range result.Detections {
		if v.Accepted {
			p.stats.Accepted++
			p.stats.LastDetection = result.Timestamp
		} else {
			p.stats.Rejected[v.Reason.String()]++
		}
	}
}

// addLatency stores a sample in the rolling window; statsMu must be held
func (p *Pipeline) addLatency(ms float64) {
	if len(p.latencies) < p.cfg.LatencyWindow {
		p.latencies = append(p.latencies, ms)
	} else {
		p.latencies[p.latHead] = ms
		p.latHead = (p.latHead + 1) % p.cfg.LatencyWindow
	}

	mean, std := stat.MeanStdDev(p.latencies, nil)
	if math.IsNaN(std) {
		std = 0
	}
	p.stats.AvgInferenceMs = mean
	p.stats.StdInferenceMs = std
}

// Stats returns a copy of the loop metrics
func (p *Pipeline) Stats() PipelineStats {
	p.statsMu.RLock()
	stats := p.stats
	stats.Rejected = make(map[string]uint64, len(p.stats.Rejected))
	for k, v := range p.stats.Rejected {
		stats.Rejected[k] = v
	}
	p.statsMu.RUnlock()

	stats.Capture = p.c.Source.Stats()
	return stats
}
