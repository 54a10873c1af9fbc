package pipeline

import (
	"context"
	"image"
	"time"
)

// DetectParams carries per-call detector thresholds
type DetectParams struct {
	Confidence float32 // Minimum confidence kept by the detector
	IoU        float32 // NMS IoU threshold
	Classes    []int   // Class filter, empty means all classes
}

// Detector is the unified interface for all detection backends
type Detector interface {
	// Name returns the detector identifier (e.g., "grpc", "http", "onnx")
	Name() string

	// IsHealthy returns true if the detector is operational
	IsHealthy(ctx context.Context) bool

	// Detect runs detection on a frame and returns raw detections
	// already filtered by confidence, NMS and class
	Detect(ctx context.Context, frame *Frame, params DetectParams) ([]Detection, error)

	// Close releases detector resources
	Close() error
}

// MotionGate reports frame-to-frame motion. Stateful: it keeps the previous
// frame internally, so the first call on a fresh gate reports no motion.
type MotionGate interface {
	Detect(frame *Frame) MotionResult
	Reset()
}

// DetectionStrategy decides per frame whether to invoke the detector
type DetectionStrategy interface {
	// Name returns the strategy identifier
	Name() string

	// ShouldInfer is a pure predicate over motion state and frame position
	ShouldInfer(hasMotion bool, frameIndex uint64, isFiniteSource bool) bool
}

// Source is the consumer side of a frame source
type Source interface {
	// Read returns the freshest unread frame without blocking
	Read() (*Frame, bool)

	// Finite reports whether the source is a file that ends
	Finite() bool

	// Done is closed once a finite source has reached end of stream
	Done() <-chan struct{}

	Stats() *CaptureStats
}

// Validator classifies raw detections; rejection is a reason, never an error.
// A nil motion result means no motion regions were supplied.
type Validator interface {
	Validate(d Detection, motion *MotionResult) ValidatedDetection
}

// Associator assigns track identities to detections before tracking
type Associator interface {
	Assign(detections []Detection, tracks []Track) []Detection
}

// Tracker performs track lifecycle bookkeeping
type Tracker interface {
	Update(detections []Detection, now time.Time) []Track
	Tracks() []Track
}

// AlertSink accepts alert events without blocking the caller
type AlertSink interface {
	Submit(event AlertEvent) error
}

// Annotator draws overlays on a copy of the frame; the input is never modified
type Annotator interface {
	Annotate(frame *Frame, result *FrameResult) *image.RGBA
}

// FramePublisher receives annotated frames for display
type FramePublisher interface {
	Publish(img image.Image, seq uint64)
}

// FrameRecorder persists annotated frames to a video file
type FrameRecorder interface {
	WriteFrame(img image.Image) error
	Path() string
}

// ResultHandler receives per-frame results
type ResultHandler interface {
	OnFrameResult(result *FrameResult)
}
