package strategies

import (
	"pantheravision/internal/pipeline"
)

// ScheduledStrategy triggers detection every interval frames
// Useful for periodic sampling without motion detection
type ScheduledStrategy struct {
	interval uint64
}

// NewScheduledStrategy creates a scheduled detection strategy
func NewScheduledStrategy(interval int) *ScheduledStrategy {
	if interval <= 0 {
		interval = DefaultForcedInterval
	}
	return &ScheduledStrategy{interval: uint64(interval)}
}

func (s *ScheduledStrategy) Name() string {
	return string(pipeline.DetectionModeScheduled)
}

func (s *ScheduledStrategy) ShouldInfer(hasMotion bool, frameIndex uint64, isFiniteSource bool) bool {
	return frameIndex%s.interval == 0
}
