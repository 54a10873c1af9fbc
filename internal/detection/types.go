// Package detection holds the clients for the object detection backends:
// a remote gRPC service, a remote HTTP service and an in-process ONNX model.
package detection

import (
	"image"
	"strconv"
	"strings"

	"github.com/chewxy/math32"
)

// Detection represents a single detected object
type Detection struct {
	Class      string    `json:"class"`
	ClassID    int       `json:"class_id"`
	Confidence float32   `json:"confidence"`
	BBox       []float32 `json:"bbox"`               // [x1, y1, x2, y2]
	TrackID    *int      `json:"track_id,omitempty"` // Set by backends that track
}

// Result is the response of one detection call
type Result struct {
	Detections      []Detection `json:"detections"`
	InferenceTimeMs float32     `json:"inference_time_ms"`
	Device          string      `json:"device"`
}

// Request carries one frame and its thresholds to a backend
type Request struct {
	FrameSeq      uint64
	JPEG          []byte      // Encoded frame for remote backends
	Image         image.Image // Decoded frame for in-process backends
	ConfThreshold float32
	IoUThreshold  float32
	Classes       []int // Empty means all classes
}

// Filter drops detections below conf or outside the class list.
// Remote services are not trusted to have applied the thresholds.
func Filter(dets []Detection, conf float32, classes []int) []Detection {
	allowed := make(map[int]bool, len(classes))
	for _, c := range classes {
		allowed[c] = true
	}

	out := dets[:0:0]
	for _, d := range dets {
		if !(d.Confidence >= conf) || math32.IsInf(d.Confidence, 0) {
			continue
		}
		if len(allowed) > 0 && !allowed[d.ClassID] {
			continue
		}
		if len(d.BBox) != 4 || !finite(d.BBox) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func finite(values []float32) bool {
	for _, v := range values {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func joinClasses(classes []int) string {
	parts := make([]string, len(classes))
	for i, c := range classes {
		parts[i] = strconv.Itoa(c)
	}
	return strings.Join(parts, ",")
}
