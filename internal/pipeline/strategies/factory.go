package strategies

import (
	"fmt"

	"pantheravision/internal/pipeline"
)

// Create builds the detection strategy for a mode; an empty mode means hybrid
func Create(mode pipeline.DetectionMode, forcedInterval int) (pipeline.DetectionStrategy, error) {
	switch mode {
	case "", pipeline.DetectionModeHybrid:
		return NewHybridStrategy(forcedInterval), nil
	case pipeline.DetectionModeContinuous:
		return NewContinuousStrategy(), nil
	case pipeline.DetectionModeMotionTriggered:
		return NewMotionTriggeredStrategy(), nil
	case pipeline.DetectionModeScheduled:
		return NewScheduledStrategy(forcedInterval), nil
	case pipeline.DetectionModeDisabled:
		return NewDisabledStrategy(), nil
	default:
		return nil, fmt.Errorf("unknown detection mode: %s", mode)
	}
}
