package strategies

import (
	"pantheravision/internal/pipeline"
)

// DefaultForcedInterval is the frame period of forced inference without motion
const DefaultForcedInterval = 30

// HybridStrategy triggers detection on motion OR every forcedInterval frames,
// and on every frame of a finite source
type HybridStrategy struct {
	forcedInterval uint64
}

// NewHybridStrategy creates a hybrid detection strategy
func NewHybridStrategy(forcedInterval int) *HybridStrategy {
	if forcedInterval <= 0 {
		forcedInterval = DefaultForcedInterval
	}
	return &HybridStrategy{forcedInterval: uint64(forcedInterval)}
}

func (s *HybridStrategy) Name() string {
	return string(pipeline.DetectionModeHybrid)
}

func (s *HybridStrategy) ShouldInfer(hasMotion bool, frameIndex uint64, isFiniteSource bool) bool {
	if isFiniteSource {
		return true
	}
	if hasMotion {
		return true
	}
	return frameIndex%s.forcedInterval == 0
}

var _ pipeline.DetectionStrategy = (*HybridStrategy)(nil)
