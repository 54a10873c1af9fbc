package strategies

import (
	"pantheravision/internal/pipeline"
)

// DisabledStrategy never triggers detection
// Used when streaming only is desired
type DisabledStrategy struct{}

// NewDisabledStrategy creates a disabled detection strategy
func NewDisabledStrategy() *DisabledStrategy {
	return &DisabledStrategy{}
}

func (s *DisabledStrategy) Name() string {
	return string(pipeline.DetectionModeDisabled)
}

func (s *DisabledStrategy) ShouldInfer(hasMotion bool, frameIndex uint64, isFiniteSource bool) bool {
	return false
}
