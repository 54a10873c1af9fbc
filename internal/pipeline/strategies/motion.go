package strategies

import (
	"pantheravision/internal/pipeline"
)

// MotionTriggeredStrategy triggers detection only while motion is present
type MotionTriggeredStrategy struct{}

// NewMotionTriggeredStrategy creates a motion-triggered detection strategy
func NewMotionTriggeredStrategy() *MotionTriggeredStrategy {
	return &MotionTriggeredStrategy{}
}

func (s *MotionTriggeredStrategy) Name() string {
	return string(pipeline.DetectionModeMotionTriggered)
}

func (s *MotionTriggeredStrategy) ShouldInfer(hasMotion bool, frameIndex uint64, isFiniteSource bool) bool {
	return hasMotion
}
