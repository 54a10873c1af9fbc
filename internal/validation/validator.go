// Package validation applies geometric and temporal plausibility rules to
// raw detections before they are tracked or alerted on.
package validation

import (
	"github.com/chewxy/math32"

	"pantheravision/internal/pipeline"
)

// Config holds the rule thresholds
type Config struct {
	MinAspect        float32 // Minimum width/height
	MaxAspect        float32 // Maximum width/height
	MinWidth         float32 // Pixels
	MinHeight        float32 // Pixels
	MinMotionOverlap float32 // Fraction of the box area that must overlap motion
	MinHits          int     // Hits a track needs before its detections count
}

// DefaultConfig returns the thresholds tuned for a leopard-shaped target
func DefaultConfig() Config {
	return Config{
		MinAspect:        0.5,
		MaxAspect:        4.0,
		MinWidth:         50,
		MinHeight:        50,
		MinMotionOverlap: 0.3,
		MinHits:          3,
	}
}

// HitLookup reports the hit count of a live track
type HitLookup interface {
	Hits(trackID int) (int, bool)
}

// Validator checks detections against ordered rules; the first failing rule
// decides the reason
type Validator struct {
	cfg  Config
	hits HitLookup
}

// New creates a validator. hits may be nil when no tracker is wired, in
// which case tracked detections are always awaiting confirmation.
func New(cfg Config, hits HitLookup) *Validator {
	def := DefaultConfig()
	if cfg.MinAspect <= 0 {
		cfg.MinAspect = def.MinAspect
	}
	if cfg.MaxAspect <= 0 {
		cfg.MaxAspect = def.MaxAspect
	}
	if cfg.MinWidth <= 0 {
		cfg.MinWidth = def.MinWidth
	}
	if cfg.MinHeight <= 0 {
		cfg.MinHeight = def.MinHeight
	}
	if cfg.MinMotionOverlap <= 0 {
		cfg.MinMotionOverlap = def.MinMotionOverlap
	}
	if cfg.MinHits <= 0 {
		cfg.MinHits = def.MinHits
	}
	return &Validator{cfg: cfg, hits: hits}
}

// Validate classifies a detection. A nil motion result means no motion
// regions were supplied and the motion rule is skipped; a supplied result
// with no regions fails it.
func (v *Validator) Validate(d pipeline.Detection, motion *pipeline.MotionResult) pipeline.ValidatedDetection {
	reason := v.check(d, motion)
	return pipeline.ValidatedDetection{
		Detection: d,
		Accepted:  reason == pipeline.ReasonOK,
		Reason:    reason,
	}
}

func (v *Validator) check(d pipeline.Detection, motion *pipeline.MotionResult) pipeline.Reason {
	// Comparisons are written so NaN and Inf geometry fails them
	if !finiteBox(d.BBox) || !(d.BBox.Height() > 0) {
		return pipeline.ReasonBadAspectRatio
	}
	ratio := d.BBox.AspectRatio()
	if !(ratio >= v.cfg.MinAspect && ratio <= v.cfg.MaxAspect) {
		return pipeline.ReasonBadAspectRatio
	}

	if !(d.BBox.Width() >= v.cfg.MinWidth && d.BBox.Height() >= v.cfg.MinHeight) {
		return pipeline.ReasonTooSmall
	}

	if motion != nil && !v.overlapsMotion(d.BBox, motion.Regions) {
		return pipeline.ReasonNoMotionCorrelation
	}

	if !d.Anonymous() {
		hits := 0
		if v.hits != nil {
			hits, _ = v.hits.Hits(d.TrackID)
		}
		if hits < v.cfg.MinHits {
			return pipeline.ReasonAwaitingConfirmation
		}
	}

	return pipeline.ReasonOK
}

func (v *Validator) overlapsMotion(box pipeline.BBox, regions []pipeline.Region) bool {
	need := v.cfg.MinMotionOverlap * box.Area()
	for _, r := range regions {
		if box.Intersection(pipeline.RegionBox(r)) >= need {
			return true
		}
	}
	return false
}

func finiteBox(b pipeline.BBox) bool {
	for _, x := range [...]float32{b.X1, b.Y1, b.X2, b.Y2} {
		if math32.IsNaN(x) || math32.IsInf(x, 0) {
			return false
		}
	}
	return true
}

var _ pipeline.Validator = (*Validator)(nil)
