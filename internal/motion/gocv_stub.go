//go:build !gocv

package motion

import (
	"errors"

	"pantheravision/internal/pipeline"
)

func newGoCVGate(cfg Config) (pipeline.MotionGate, error) {
	return nil, errors.New("motion backend gocv requires a build with -tags gocv")
}
