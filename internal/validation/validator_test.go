package validation

import (
	"testing"

	"github.com/chewxy/math32"
	"github.com/stretchr/testify/assert"

	"pantheravision/internal/pipeline"
)

type hitTable map[int]int

func (h hitTable) Hits(id int) (int, bool) {
	n, ok := h[id]
	return n, ok
}

func det(x1, y1, x2, y2, conf float32) pipeline.Detection {
	return pipeline.Detection{
		BBox:       pipeline.BBox{X1: x1, Y1: y1, X2: x2, Y2: y2},
		Confidence: conf,
		TrackID:    pipeline.NoTrackID,
	}
}

func motionAt(regions ...pipeline.Region) *pipeline.MotionResult {
	return &pipeline.MotionResult{HasMotion: len(regions) > 0, Regions: regions}
}

func TestValidate_AcceptedWithMotionOverlap(t *testing.T) {
	v := New(DefaultConfig(), nil)

	got := v.Validate(det(100, 100, 220, 160, 0.8), motionAt(pipeline.Region{X: 90, Y: 90, Width: 150, Height: 150}))

	assert.True(t, got.Accepted)
	assert.Equal(t, pipeline.ReasonOK, got.Reason)
}

func TestValidate_NoMotionCorrelation(t *testing.T) {
	v := New(DefaultConfig(), nil)
	d := det(100, 100, 220, 160, 0.8)

	got := v.Validate(d, motionAt())
	assert.False(t, got.Accepted)
	assert.Equal(t, pipeline.ReasonNoMotionCorrelation, got.Reason)

	// Region elsewhere in the frame
	got = v.Validate(d, motionAt(pipeline.Region{X: 400, Y: 400, Width: 100, Height: 100}))
	assert.Equal(t, pipeline.ReasonNoMotionCorrelation, got.Reason)

	// Not supplied: the rule is skipped
	got = v.Validate(d, nil)
	assert.True(t, got.Accepted)
}

func TestValidate_MotionOverlapThreshold(t *testing.T) {
	v := New(DefaultConfig(), nil)
	d := det(0, 0, 100, 100, 0.9) // area 10000

	above := motionAt(pipeline.Region{X: 0, Y: 0, Width: 31, Height: 100})
	assert.True(t, v.Validate(d, above).Accepted)

	below := motionAt(pipeline.Region{X: 0, Y: 0, Width: 29, Height: 100})
	assert.Equal(t, pipeline.ReasonNoMotionCorrelation, v.Validate(d, below).Reason)

	split := motionAt(
		pipeline.Region{X: 0, Y: 0, Width: 20, Height: 100},
		pipeline.Region{X: 50, Y: 0, Width: 20, Height: 100},
	)
	assert.Equal(t, pipeline.ReasonNoMotionCorrelation, v.Validate(d, split).Reason, "overlap must come from a single region")
}

func TestValidate_TooSmall(t *testing.T) {
	v := New(DefaultConfig(), nil)
	everywhere := motionAt(pipeline.Region{X: 0, Y: 0, Width: 1000, Height: 1000})

	for _, conf := range []float32{0.1, 0.99} {
		got := v.Validate(det(0, 0, 30, 30, conf), everywhere)
		assert.False(t, got.Accepted)
		assert.Equal(t, pipeline.ReasonTooSmall, got.Reason)

		got = v.Validate(det(0, 0, 30, 30, conf), nil)
		assert.Equal(t, pipeline.ReasonTooSmall, got.Reason)
	}

	assert.Equal(t, pipeline.ReasonTooSmall, v.Validate(det(0, 0, 100, 49, 0.9), nil).Reason)
	assert.True(t, v.Validate(det(0, 0, 50, 50, 0.9), nil).Accepted)
}

func TestValidate_NonFiniteGeometryIsRejected(t *testing.T) {
	v := New(DefaultConfig(), nil)
	nan := math32.NaN()
	inf := math32.Inf(1)

	for name, d := range map[string]pipeline.Detection{
		"nan x2":  det(100, 100, nan, 160, 0.9),
		"nan y1":  det(100, nan, 220, 160, 0.9),
		"inf x2":  det(100, 100, inf, 160, 0.9),
		"-inf x1": det(-inf, 100, 220, 160, 0.9),
		"inf y2":  det(100, 100, 220, inf, 0.9),
	} {
		got := v.Validate(d, nil)
		assert.False(t, got.Accepted, name)
		assert.Equal(t, pipeline.ReasonBadAspectRatio, got.Reason, name)
	}
}

func TestValidate_BadAspectRatio(t *testing.T) {
	v := New(DefaultConfig(), nil)

	tests := []struct {
		name string
		box  pipeline.Detection
		want pipeline.Reason
	}{
		{"too tall", det(0, 0, 60, 200, 0.99), pipeline.ReasonBadAspectRatio},
		{"too wide", det(0, 0, 500, 100, 0.99), pipeline.ReasonBadAspectRatio},
		{"zero height", det(0, 10, 100, 10, 0.99), pipeline.ReasonBadAspectRatio},
		{"lower bound", det(0, 0, 60, 120, 0.5), pipeline.ReasonOK},
		{"upper bound", det(0, 0, 400, 100, 0.5), pipeline.ReasonOK},
		{"tiny but ratio checked first", det(0, 0, 5, 30, 0.9), pipeline.ReasonBadAspectRatio},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := v.Validate(tt.box, nil)
			assert.Equal(t, tt.want, got.Reason)
			assert.Equal(t, tt.want == pipeline.ReasonOK, got.Accepted)
		})
	}
}

func TestValidate_AwaitingConfirmation(t *testing.T) {
	hits := hitTable{7: 2, 8: 3}
	v := New(DefaultConfig(), hits)

	d := det(100, 100, 220, 160, 0.8)
	d.TrackID = 7
	got := v.Validate(d, nil)
	assert.False(t, got.Accepted)
	assert.Equal(t, pipeline.ReasonAwaitingConfirmation, got.Reason)

	d.TrackID = 8
	assert.True(t, v.Validate(d, nil).Accepted)

	d.TrackID = 99
	assert.Equal(t, pipeline.ReasonAwaitingConfirmation, v.Validate(d, nil).Reason, "unknown track has no hits")

	d.TrackID = pipeline.NoTrackID
	assert.True(t, v.Validate(d, nil).Accepted, "anonymous detections bypass confirmation")
}

func TestValidate_GeometryBeforeConfirmation(t *testing.T) {
	v := New(DefaultConfig(), hitTable{1: 10})

	d := det(0, 0, 30, 30, 0.9)
	d.TrackID = 1
	assert.Equal(t, pipeline.ReasonTooSmall, v.Validate(d, nil).Reason)
}

func TestReasonString(t *testing.T) {
	assert.Equal(t, "no_motion_correlation", pipeline.ReasonNoMotionCorrelation.String())
	text, err := pipeline.ReasonAwaitingConfirmation.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "awaiting_confirmation", string(text))
}
