//go:build gocv

package pipeline

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"sync"

	"gocv.io/x/gocv"
)

// GoCVCapture reads frames through OpenCV's VideoCapture
type GoCVCapture struct {
	source string
	kind   SourceKind

	mu   sync.Mutex
	vc   *gocv.VideoCapture
	mat  gocv.Mat
	open bool
}

func newGoCVCapture(cfg CaptureConfig, kind SourceKind) (Capture, error) {
	return &GoCVCapture{source: cfg.Source, kind: kind}, nil
}

// Open opens the device index, file or stream URL
func (c *GoCVCapture) Open(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var device interface{} = c.source
	if idx, err := strconv.Atoi(c.source); err == nil {
		device = idx
	}

	vc, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return fmt.Errorf("failed to open video capture %s: %w", c.source, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("video capture %s is not opened", c.source)
	}

	c.vc = vc
	c.mat = gocv.NewMat()
	c.open = true
	return nil
}

// Next reads one frame and converts it to an image
func (c *GoCVCapture) Next(ctx context.Context) (*CapturedFrame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return nil, io.ErrClosedPipe
	}
	if ok := c.vc.Read(&c.mat); !ok {
		return nil, io.EOF
	}
	if c.mat.Empty() {
		return nil, ErrMalformedFrame
	}

	img, err := c.mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return &CapturedFrame{Image: img}, nil
}

// Close releases the capture handle
func (c *GoCVCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.open {
		return nil
	}
	c.open = false
	c.mat.Close()
	return c.vc.Close()
}

var _ Capture = (*GoCVCapture)(nil)
