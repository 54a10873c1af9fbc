package pipeline

import (
	"image"
	"time"

	"github.com/chewxy/math32"
)

// DetectionMode defines when the detector should run
type DetectionMode string

const (
	// DetectionModeDisabled - no detection, streaming only
	DetectionModeDisabled DetectionMode = "disabled"
	// DetectionModeContinuous - run detection on every frame
	DetectionModeContinuous DetectionMode = "continuous"
	// DetectionModeMotionTriggered - detect only when motion is present
	DetectionModeMotionTriggered DetectionMode = "motion_triggered"
	// DetectionModeScheduled - run detection every N frames
	DetectionModeScheduled DetectionMode = "scheduled"
	// DetectionModeHybrid - run on motion OR every N frames, always for finite sources
	DetectionModeHybrid DetectionMode = "hybrid"
)

// NoTrackID marks a detection that carries no track identity
const NoTrackID = -1

// Frame represents a captured video frame
type Frame struct {
	Seq       uint64      // Monotonic sequence number, starting at 1
	Timestamp time.Time   // Capture timestamp
	Width     int         // Frame width in pixels
	Height    int         // Frame height in pixels
	Image     image.Image // Decoded pixels, never mutated once published
	Data      []byte      // Encoded JPEG as captured (may be nil)
}

// Region is an axis-aligned motion rectangle in full-frame pixel coordinates
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Area returns the region area in pixels
func (r Region) Area() int {
	if r.Width <= 0 || r.Height <= 0 {
		return 0
	}
	return r.Width * r.Height
}

// BBox represents a bounding box in pixel coordinates
type BBox struct {
	X1 float32 `json:"x1"` // Left
	Y1 float32 `json:"y1"` // Top
	X2 float32 `json:"x2"` // Right
	Y2 float32 `json:"y2"` // Bottom
}

func (b BBox) Width() float32  { return b.X2 - b.X1 }
func (b BBox) Height() float32 { return b.Y2 - b.Y1 }

// Area returns the box area, zero for degenerate boxes
func (b BBox) Area() float32 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// AspectRatio returns width / height; zero when the height is not positive
func (b BBox) AspectRatio() float32 {
	h := b.Height()
	if h <= 0 {
		return 0
	}
	return b.Width() / h
}

// Center returns the box centroid
func (b BBox) Center() (float32, float32) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Intersection returns the overlapping area of two boxes
func (b BBox) Intersection(o BBox) float32 {
	w := math32.Min(b.X2, o.X2) - math32.Max(b.X1, o.X1)
	h := math32.Min(b.Y2, o.Y2) - math32.Max(b.Y1, o.Y1)
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// IoU returns intersection over union of two boxes
func (b BBox) IoU(o BBox) float32 {
	inter := b.Intersection(o)
	if inter == 0 {
		return 0
	}
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// RegionBox converts a motion region to a bounding box
func RegionBox(r Region) BBox {
	return BBox{
		X1: float32(r.X),
		Y1: float32(r.Y),
		X2: float32(r.X + r.Width),
		Y2: float32(r.Y + r.Height),
	}
}

// Rect converts the box to an integer image rectangle
func (b BBox) Rect() image.Rectangle {
	return image.Rect(
		int(math32.Floor(b.X1+0.5)), int(math32.Floor(b.Y1+0.5)),
		int(math32.Floor(b.X2+0.5)), int(math32.Floor(b.Y2+0.5)),
	)
}

// Detection represents a single raw object detection
type Detection struct {
	Class      string  `json:"class"`      // Detector class name (cat, dog, ...)
	ClassID    int     `json:"class_id"`   // Detector class index
	Confidence float32 `json:"confidence"` // Detection confidence [0-1]
	BBox       BBox    `json:"bbox"`       // Bounding box
	TrackID    int     `json:"track_id"`   // Track identity, NoTrackID when anonymous
}

// Anonymous reports whether the detection carries no track identity
func (d Detection) Anonymous() bool {
	return d.TrackID == NoTrackID
}

// Reason explains a validation outcome
type Reason int

const (
	ReasonOK Reason = iota
	ReasonBadAspectRatio
	ReasonTooSmall
	ReasonNoMotionCorrelation
	ReasonAwaitingConfirmation
)

var reasonNames = [...]string{
	ReasonOK:                   "ok",
	ReasonBadAspectRatio:       "bad_aspect_ratio",
	ReasonTooSmall:             "too_small",
	ReasonNoMotionCorrelation:  "no_motion_correlation",
	ReasonAwaitingConfirmation: "awaiting_confirmation",
}

func (r Reason) String() string {
	if int(r) < 0 || int(r) >= len(reasonNames) {
		return "unknown"
	}
	return reasonNames[r]
}

// MarshalText encodes the reason by name
func (r Reason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// ValidatedDetection is a raw detection plus its validation verdict
type ValidatedDetection struct {
	Detection
	Accepted bool   `json:"accepted"`
	Reason   Reason `json:"reason"`
}

// MotionResult is the output of a motion gate for one frame
type MotionResult struct {
	HasMotion bool     `json:"has_motion"`
	Regions   []Region `json:"regions"`
}

// TrackStatus is the confirmation state of a track
type TrackStatus int

const (
	TrackProbationary TrackStatus = iota
	TrackConfirmed
)

func (s TrackStatus) String() string {
	if s == TrackConfirmed {
		return "confirmed"
	}
	return "probationary"
}

// MarshalText encodes the status by name
func (s TrackStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Track is the temporal identity of one subject across frames
type Track struct {
	ID         int         `json:"id"`
	ClassID    int         `json:"class_id"`
	Class      string      `json:"class"`
	BBox       BBox        `json:"bbox"`       // Latest box
	Confidence float32     `json:"confidence"` // Running maximum
	Hits       int         `json:"hits"`
	Status     TrackStatus `json:"status"`
	FirstSeen  time.Time   `json:"first_seen"`
	LastSeen   time.Time   `json:"last_seen"`
	History    []BBox      `json:"-"` // Most recent last
}

// Confirmed reports whether the track has passed probation
func (t Track) Confirmed() bool {
	return t.Status == TrackConfirmed
}

// AlertEvent is the unit of work for the alert dispatcher; immutable once built
type AlertEvent struct {
	Timestamp  time.Time
	Confidence float32
	BBox       BBox
	ImagePath  string         // Where the worker writes the snapshot
	VideoPath  string         // Recording the alert belongs to, if any
	Caption    string         // Notification caption
	Metadata   map[string]any // Serialized into the detection log
	Image      image.Image    // Annotated snapshot, owned by the event
}

// FrameResult summarizes one processed frame
type FrameResult struct {
	Seq         uint64               `json:"frame_seq"`
	Timestamp   time.Time            `json:"timestamp"`
	Motion      MotionResult         `json:"motion"`
	Inferred    bool                 `json:"inferred"`
	InferenceMs float32              `json:"inference_ms"`
	Detections  []ValidatedDetection `json:"detections"`
	Tracks      []Track              `json:"tracks"`
	Alerts      int                  `json:"alerts"`
	Warning     bool                 `json:"warning"` // A confirmed track is live
}

// CaptureStats contains frame capture statistics
type CaptureStats struct {
	Source            string    `json:"source"`
	Finite            bool      `json:"finite"`
	FramesCaptured    uint64    `json:"frames_captured"`
	FramesDropped     uint64    `json:"frames_dropped"`  // Evicted from a full ring
	FramesSkipped     uint64    `json:"frames_skipped"`  // Superseded by a newer frame at read time
	FramesMalformed   uint64    `json:"frames_malformed"`
	Buffered          int       `json:"buffered"`
	ReconnectAttempts uint64    `json:"reconnect_attempts"`
	LastFrameTime     time.Time `json:"last_frame_time"`
	EndOfStream       bool      `json:"end_of_stream"`
}

// PipelineStats contains orchestration loop metrics
type PipelineStats struct {
	FramesProcessed  uint64            `json:"frames_processed"`
	Inferences       uint64            `json:"inferences"`
	InferenceErrors  uint64            `json:"inference_errors"`
	Accepted         uint64            `json:"accepted"`
	Rejected         map[string]uint64 `json:"rejected"`
	AlertsSubmitted  uint64            `json:"alerts_submitted"`
	AlertsRejected   uint64            `json:"alerts_rejected"`
	LiveTracks       int               `json:"live_tracks"`
	AvgInferenceMs   float64           `json:"avg_inference_ms"`
	StdInferenceMs   float64           `json:"std_inference_ms"`
	LastDetection    time.Time         `json:"last_detection"`
	Mode             DetectionMode     `json:"mode"`
	Detector         string            `json:"detector"`
	Capture          *CaptureStats     `json:"capture,omitempty"`
}
