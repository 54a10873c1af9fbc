//go:build !onnx

package detection

import (
	"context"

	"github.com/pkg/errors"
)

// ONNXDetector is unavailable without the onnx build tag
type ONNXDetector struct{}

// NewONNXDetector always fails in builds without ONNX Runtime
func NewONNXDetector(cfg ONNXConfig) (*ONNXDetector, error) {
	return nil, errors.Errorf("onnx backend requires a build with -tags onnx (model %s)", cfg.ModelPath)
}

func (od *ONNXDetector) IsHealthy(context.Context) bool { return false }

func (od *ONNXDetector) Detect(context.Context, Request) (*Result, error) {
	return nil, errors.New("onnx backend not compiled in")
}

func (od *ONNXDetector) Close() error { return nil }
