//go:build !gocv

package pipeline

import "errors"

func newGoCVCapture(cfg CaptureConfig, kind SourceKind) (Capture, error) {
	return nil, errors.New("gocv capture backend requires building with -tags gocv")
}
