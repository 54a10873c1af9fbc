package ws

import (
	"time"

	"pantheravision/internal/pipeline"
)

// TrackMessage is broadcast for every frame on which the detector ran
type TrackMessage struct {
	Type        string          `json:"type"` // "tracks"
	FrameSeq    uint64          `json:"frame_seq"`
	Timestamp   time.Time       `json:"timestamp"`
	Motion      bool            `json:"motion"`
	Warning     bool            `json:"warning"`
	InferenceMs float32         `json:"inference_ms"`
	Tracks      []TrackInfo     `json:"tracks"`
	Rejected    []RejectionInfo `json:"rejected,omitempty"`
}

// TrackInfo describes a live track
type TrackInfo struct {
	ID         int       `json:"id"`
	Label      string    `json:"label"`      // Display label, e.g. "Leopard"
	Class      string    `json:"class"`      // Detector class
	Confidence float32   `json:"confidence"` // Running maximum
	BBox       []float32 `json:"bbox"`       // [x, y, w, h] in pixels
	Hits       int       `json:"hits"`
	Status     string    `json:"status"` // "probationary", "confirmed"
	AgeSeconds float64   `json:"age_seconds"`
}

// RejectionInfo describes a detection the validator turned down
type RejectionInfo struct {
	Class      string    `json:"class"`
	Confidence float32   `json:"confidence"`
	BBox       []float32 `json:"bbox"`
	Reason     string    `json:"reason"`
}

// NewTrackMessage builds a message from a frame result; label maps detector
// classes to display labels and may be nil
func NewTrackMessage(result *pipeline.FrameResult, label func(string) string) *TrackMessage {
	if label == nil {
		label = func(s string) string { return s }
	}

	msg := &TrackMessage{
		Type:        "tracks",
		FrameSeq:    result.Seq,
		Timestamp:   result.Timestamp,
		Motion:      result.Motion.HasMotion,
		Warning:     result.Warning,
		InferenceMs: result.InferenceMs,
		Tracks:      make([]TrackInfo, 0, len(result.Tracks)),
	}

	for _, tr := range result.Tracks {
		msg.Tracks = append(msg.Tracks, TrackInfo{
			ID:         tr.ID,
			Label:      label(tr.Class),
			Class:      tr.Class,
			Confidence: tr.Confidence,
			BBox:       xywh(tr.BBox),
			Hits:       tr.Hits,
			Status:     tr.Status.String(),
			AgeSeconds: tr.LastSeen.Sub(tr.FirstSeen).Seconds(),
		})
	}

	for _, d := range result.Detections {
		if d.Accepted || d.Reason == pipeline.ReasonAwaitingConfirmation {
			continue
		}
		msg.Rejected = append(msg.Rejected, RejectionInfo{
			Class:      d.Class,
			Confidence: d.Confidence,
			BBox:       xywh(d.BBox),
			Reason:     d.Reason.String(),
		})
	}
	return msg
}

func xywh(b pipeline.BBox) []float32 {
	return []float32{b.X1, b.Y1, b.Width(), b.Height()}
}
