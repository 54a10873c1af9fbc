package detection

import (
	"image"
	"image/color"
	"testing"

	"github.com/chewxy/math32"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tensor builds a [4+classes, anchors] output with the given anchors filled in
func tensor(classes, anchors int, set map[int][]float32) []float32 {
	out := make([]float32, (4+classes)*anchors)
	for idx, v := range set {
		// v = xc, yc, w, h, class scores...
		for row, val := range v {
			out[row*anchors+idx] = val
		}
	}
	return out
}

func TestDecodeYOLOv8(t *testing.T) {
	out := tensor(3, 4, map[int][]float32{
		0: {320, 320, 64, 128, 0.1, 0.9, 0.2}, // class 1
		2: {100, 100, 20, 20, 0.3, 0.1, 0.2},  // below threshold
		3: {10, 10, 40, 40, 0.6, 0.0, 0.0},    // class 0, clipped at the edge
	})

	dets, err := DecodeYOLOv8(out, DecodeParams{
		NumClasses: 3,
		Anchors:    4,
		InputSize:  640,
		OrigWidth:  1280,
		OrigHeight: 640,
		Confidence: 0.5,
		Labels:     []string{"person", "cat", "dog"},
	})
	require.NoError(t, err)

	want := []Detection{
		{Class: "cat", ClassID: 1, Confidence: 0.9, BBox: []float32{576, 256, 704, 384}},
		{Class: "person", ClassID: 0, Confidence: 0.6, BBox: []float32{0, 0, 60, 30}},
	}
	if diff := cmp.Diff(want, dets, cmpopts.EquateApprox(0, 1e-3)); diff != "" {
		t.Errorf("decoded detections mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeYOLOv8_ClassFilter(t *testing.T) {
	out := tensor(2, 2, map[int][]float32{
		0: {100, 100, 10, 10, 0.9, 0},
		1: {200, 200, 10, 10, 0, 0.8},
	})

	dets, err := DecodeYOLOv8(out, DecodeParams{
		NumClasses: 2, Anchors: 2, InputSize: 640, OrigWidth: 640, OrigHeight: 640,
		Confidence: 0.25, Classes: []int{1}, Labels: []string{"person", "cat"},
	})
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, "cat", dets[0].Class)
}

func TestDecodeYOLOv8_ShortTensor(t *testing.T) {
	_, err := DecodeYOLOv8(make([]float32, 10), DecodeParams{NumClasses: 80, Anchors: 8400})
	assert.Error(t, err)
}

func TestNMS(t *testing.T) {
	dets := []Detection{
		{ClassID: 15, Confidence: 0.6, BBox: []float32{12, 12, 102, 102}},
		{ClassID: 15, Confidence: 0.9, BBox: []float32{10, 10, 100, 100}},
		{ClassID: 16, Confidence: 0.5, BBox: []float32{10, 10, 100, 100}},
		{ClassID: 15, Confidence: 0.7, BBox: []float32{300, 300, 400, 400}},
	}

	kept := NMS(dets, 0.45)

	confs := make([]float32, len(kept))
	for i, d := range kept {
		confs[i] = d.Confidence
	}
	assert.Equal(t, []float32{0.9, 0.7, 0.5}, confs, "overlapping same-class box is suppressed, other class survives")
	assert.Len(t, dets, 4, "input is not modified")
}

func TestPreprocess(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 32, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 0, B: 51, A: 255})
		}
	}

	data := Preprocess(img, 8)
	require.Len(t, data, 3*64)
	assert.InDelta(t, 1.0, data[0], 0.01)
	assert.InDelta(t, 0.0, data[64], 0.01)
	assert.InDelta(t, 0.2, data[128], 0.01)
}

func TestFilter(t *testing.T) {
	dets := []Detection{
		{ClassID: 15, Confidence: 0.9, BBox: []float32{0, 0, 1, 1}},
		{ClassID: 15, Confidence: 0.1, BBox: []float32{0, 0, 1, 1}},
		{ClassID: 0, Confidence: 0.9, BBox: []float32{0, 0, 1, 1}},
		{ClassID: 15, Confidence: 0.9, BBox: []float32{0, 0}},
	}

	assert.Len(t, Filter(dets, 0.5, nil), 2)
	assert.Len(t, Filter(dets, 0.5, []int{15}), 1)
}

func TestFilter_DropsNonFiniteValues(t *testing.T) {
	nan := math32.NaN()
	inf := math32.Inf(1)
	dets := []Detection{
		{ClassID: 15, Confidence: 0.9, BBox: []float32{100, 100, 220, 160}},
		{ClassID: 15, Confidence: nan, BBox: []float32{100, 100, 220, 160}},
		{ClassID: 15, Confidence: inf, BBox: []float32{100, 100, 220, 160}},
		{ClassID: 15, Confidence: 0.9, BBox: []float32{100, 100, nan, 160}},
		{ClassID: 15, Confidence: 0.9, BBox: []float32{-inf, 100, 220, 160}},
	}

	got := Filter(dets, 0.5, []int{15})
	assert.Equal(t, dets[:1], got)
}

func TestLabels(t *testing.T) {
	assert.Len(t, CocoClasses, 80)
	assert.Equal(t, "cat", ClassName(15))
	assert.Equal(t, "unknown", ClassName(80))
	assert.Equal(t, 15, ClassID(" Cat "))
	assert.Equal(t, -1, ClassID("leopard"))

	assert.Equal(t, "Leopard", DisplayLabel(DefaultLabelMap, "cat"))
	assert.Equal(t, "Dog", DisplayLabel(DefaultLabelMap, "dog"))
}
