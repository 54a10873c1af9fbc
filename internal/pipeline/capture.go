package pipeline

import (
	"context"
	"fmt"
	"image"
	"os"
	"strconv"
	"strings"
)

// CapturedFrame is one frame as delivered by a capture backend.
// Backends fill Data (encoded JPEG), Image (decoded pixels) or both.
type CapturedFrame struct {
	Data  []byte
	Image image.Image
}

// Capture is a single connection to a video input. Open may be called
// again after Close to reconnect.
type Capture interface {
	// Open connects to the underlying device, stream or file
	Open(ctx context.Context) error

	// Next blocks until the next frame is available. io.EOF means the
	// input ended; ErrMalformedFrame means this frame should be skipped.
	Next(ctx context.Context) (*CapturedFrame, error)

	// Close releases the device handle or process
	Close() error
}

// SourceKind classifies a configured camera source
type SourceKind int

const (
	SourceFile SourceKind = iota
	SourceDevice
	SourceRTSP
	SourceHTTPStream
	SourceHTTPSnapshot
)

func (k SourceKind) String() string {
	switch k {
	case SourceDevice:
		return "device"
	case SourceRTSP:
		return "rtsp"
	case SourceHTTPStream:
		return "http"
	case SourceHTTPSnapshot:
		return "snapshot"
	default:
		return "file"
	}
}

// Finite reports whether sources of this kind end
func (k SourceKind) Finite() bool {
	return k == SourceFile
}

// ClassifySource infers the source kind from its address
func ClassifySource(source string) SourceKind {
	lower := strings.ToLower(source)
	switch {
	case strings.HasPrefix(lower, "rtsp://"), strings.HasPrefix(lower, "rtsps://"):
		return SourceRTSP
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		if strings.Contains(lower, ".jpg") || strings.Contains(lower, ".jpeg") ||
			strings.Contains(lower, "snapshot") || strings.Contains(lower, "image") {
			return SourceHTTPSnapshot
		}
		return SourceHTTPStream
	case strings.HasPrefix(source, "/dev/video"):
		return SourceDevice
	}
	if _, err := strconv.Atoi(source); err == nil {
		return SourceDevice
	}
	return SourceFile
}

// DevicePath maps a numeric camera index to its V4L2 device path
func DevicePath(source string) string {
	if idx, err := strconv.Atoi(source); err == nil {
		return fmt.Sprintf("/dev/video%d", idx)
	}
	return source
}

// CaptureConfig selects and parameterizes a capture backend
type CaptureConfig struct {
	Backend  string // "ffmpeg" (default) or "gocv"
	Source   string
	FPS      int
	Width    int
	Height   int
	Realtime bool // Pace file sources at their native frame rate
}

// NewCapture builds the capture backend for a source
func NewCapture(cfg CaptureConfig) (Capture, error) {
	if cfg.FPS <= 0 {
		cfg.FPS = 15
	}
	kind := ClassifySource(cfg.Source)

	if kind == SourceFile {
		if _, err := os.Stat(cfg.Source); err != nil {
			return nil, fmt.Errorf("failed to access video file %s: %w", cfg.Source, err)
		}
	}

	switch cfg.Backend {
	case "", "ffmpeg":
		if kind == SourceHTTPSnapshot {
			return NewHTTPSnapshotCapture(cfg.Source, cfg.FPS), nil
		}
		return NewFFmpegCapture(cfg, kind), nil
	case "gocv":
		return newGoCVCapture(cfg, kind)
	default:
		return nil, fmt.Errorf("unknown capture backend: %s", cfg.Backend)
	}
}
