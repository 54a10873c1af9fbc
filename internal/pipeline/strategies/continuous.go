package strategies

import (
	"pantheravision/internal/pipeline"
)

// ContinuousStrategy triggers detection on every frame
type ContinuousStrategy struct{}

// NewContinuousStrategy creates a continuous detection strategy
func NewContinuousStrategy() *ContinuousStrategy {
	return &ContinuousStrategy{}
}

func (s *ContinuousStrategy) Name() string {
	return string(pipeline.DetectionModeContinuous)
}

func (s *ContinuousStrategy) ShouldInfer(hasMotion bool, frameIndex uint64, isFiniteSource bool) bool {
	return true
}
