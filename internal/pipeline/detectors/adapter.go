// Package detectors adapts the detection backends to pipeline.Detector
package detectors

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"

	"pantheravision/internal/detection"
	"pantheravision/internal/pipeline"
)

// Backend is the call surface shared by the detection clients
type Backend interface {
	IsHealthy(ctx context.Context) bool
	Detect(ctx context.Context, req detection.Request) (*detection.Result, error)
	Close() error
}

// Adapter wraps a detection backend to implement the unified Detector interface.
// Results are re-filtered by confidence, class and NMS so that every backend
// honors the same contract.
type Adapter struct {
	name        string
	backend     Backend
	needsJPEG   bool
	jpegQuality int
}

// NewGRPCAdapter adapts the gRPC detection client
func NewGRPCAdapter(d *detection.GRPCDetector) *Adapter {
	return &Adapter{name: "grpc", backend: d, needsJPEG: true, jpegQuality: 85}
}

// NewHTTPAdapter adapts the HTTP YOLO client
func NewHTTPAdapter(d *detection.YOLODetector) *Adapter {
	return &Adapter{name: "http", backend: d, needsJPEG: true, jpegQuality: 85}
}

// NewONNXAdapter adapts the in-process ONNX model
func NewONNXAdapter(d *detection.ONNXDetector) *Adapter {
	return &Adapter{name: "onnx", backend: d}
}

// NewAdapter wraps any backend under the given name
func NewAdapter(name string, b Backend, needsJPEG bool) *Adapter {
	return &Adapter{name: name, backend: b, needsJPEG: needsJPEG, jpegQuality: 85}
}

func (a *Adapter) Name() string {
	return a.name
}

func (a *Adapter) IsHealthy(ctx context.Context) bool {
	if a.backend == nil {
		return false
	}
	return a.backend.IsHealthy(ctx)
}

func (a *Adapter) Detect(ctx context.Context, frame *pipeline.Frame, params pipeline.DetectParams) ([]pipeline.Detection, error) {
	if a.backend == nil {
		return nil, fmt.Errorf("%s detector not configured", a.name)
	}
	if frame == nil || frame.Image == nil {
		return nil, fmt.Errorf("%s detector: empty frame", a.name)
	}

	req := detection.Request{
		FrameSeq:      frame.Seq,
		Image:         frame.Image,
		JPEG:          frame.Data,
		ConfThreshold: params.Confidence,
		IoUThreshold:  params.IoU,
		Classes:       params.Classes,
	}
	if a.needsJPEG && len(req.JPEG) == 0 {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: a.jpegQuality}); err != nil {
			return nil, fmt.Errorf("failed to encode frame %d: %w", frame.Seq, err)
		}
		req.JPEG = buf.Bytes()
	}

	result, err := a.backend.Detect(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s detection failed: %w", a.name, err)
	}

	dets := detection.Filter(result.Detections, params.Confidence, params.Classes)
	if params.IoU > 0 {
		dets = detection.NMS(dets, params.IoU)
	}
	return convertDetections(dets), nil
}

func (a *Adapter) Close() error {
	if a.backend == nil {
		return nil
	}
	return a.backend.Close()
}

// convertDetections converts backend detections to pipeline.Detection
func convertDetections(dets []detection.Detection) []pipeline.Detection {
	out := make([]pipeline.Detection, 0, len(dets))
	for _, d := range dets {
		class := d.Class
		if class == "" {
			class = detection.ClassName(d.ClassID)
		}

		trackID := pipeline.NoTrackID
		if d.TrackID != nil && *d.TrackID >= 0 {
			trackID = *d.TrackID
		}

		out = append(out, pipeline.Detection{
			Class:      class,
			ClassID:    d.ClassID,
			Confidence: d.Confidence,
			BBox:       pipeline.BBox{X1: d.BBox[0], Y1: d.BBox[1], X2: d.BBox[2], Y2: d.BBox[3]},
			TrackID:    trackID,
		})
	}
	return out
}

// Ensure Adapter implements Detector
var _ pipeline.Detector = (*Adapter)(nil)
