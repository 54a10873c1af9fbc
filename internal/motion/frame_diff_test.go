package motion

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/draw"

	"pantheravision/internal/pipeline"
)

func blankFrame(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
	return img
}

func withSquare(w, h int, r image.Rectangle) *image.RGBA {
	img := blankFrame(w, h)
	draw.Draw(img, r, &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	return img
}

func frameOf(img image.Image) *pipeline.Frame {
	b := img.Bounds()
	return &pipeline.Frame{Image: img, Width: b.Dx(), Height: b.Dy()}
}

func TestFrameDiffGate_FirstFrameHasNoMotion(t *testing.T) {
	gate := NewFrameDiffGate(DefaultConfig())

	res := gate.Detect(frameOf(withSquare(640, 480, image.Rect(100, 100, 300, 300))))
	assert.False(t, res.HasMotion)
	assert.Empty(t, res.Regions)
}

func TestFrameDiffGate_StaticSceneHasNoMotion(t *testing.T) {
	gate := NewFrameDiffGate(DefaultConfig())

	for i := 0; i < 3; i++ {
		res := gate.Detect(frameOf(blankFrame(640, 480)))
		assert.False(t, res.HasMotion)
	}
}

func TestFrameDiffGate_FindsMovingObjectInFullFrameCoordinates(t *testing.T) {
	gate := NewFrameDiffGate(DefaultConfig())
	square := image.Rect(400, 400, 600, 600)

	gate.Detect(frameOf(blankFrame(1280, 960)))
	res := gate.Detect(frameOf(withSquare(1280, 960, square)))

	require.True(t, res.HasMotion)
	require.Len(t, res.Regions, 1)

	r := res.Regions[0]
	got := image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
	assert.True(t, square.In(got.Inset(-2)), "region %v must cover %v", got, square)
	assert.True(t, got.In(square.Inset(-60)), "region %v is too loose around %v", got, square)
}

func TestFrameDiffGate_IgnoresSpecksBelowThreshold(t *testing.T) {
	gate := NewFrameDiffGate(DefaultConfig())

	gate.Detect(frameOf(blankFrame(1280, 960)))
	res := gate.Detect(frameOf(withSquare(1280, 960, image.Rect(600, 400, 612, 412))))

	assert.False(t, res.HasMotion)
}

func TestFrameDiffGate_MinArea(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinArea = 200 * 200
	gate := NewFrameDiffGate(cfg)

	gate.Detect(frameOf(blankFrame(640, 480)))
	res := gate.Detect(frameOf(withSquare(640, 480, image.Rect(100, 100, 150, 150))))

	assert.False(t, res.HasMotion, "blob smaller than min area is dropped")
}

func TestFrameDiffGate_SeparateRegions(t *testing.T) {
	gate := NewFrameDiffGate(DefaultConfig())

	gate.Detect(frameOf(blankFrame(640, 480)))
	img := withSquare(640, 480, image.Rect(40, 40, 120, 120))
	draw.Draw(img, image.Rect(450, 300, 550, 400), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	res := gate.Detect(frameOf(img))

	require.True(t, res.HasMotion)
	assert.Len(t, res.Regions, 2)
}

func TestFrameDiffGate_Reset(t *testing.T) {
	gate := NewFrameDiffGate(DefaultConfig())

	gate.Detect(frameOf(blankFrame(640, 480)))
	gate.Reset()

	res := gate.Detect(frameOf(withSquare(640, 480, image.Rect(100, 100, 300, 300))))
	assert.False(t, res.HasMotion, "first frame after reset only seeds the baseline")
}

func TestFrameDiffGate_NilFrame(t *testing.T) {
	gate := NewFrameDiffGate(DefaultConfig())
	assert.False(t, gate.Detect(nil).HasMotion)
	assert.False(t, gate.Detect(&pipeline.Frame{}).HasMotion)
}

func TestNew(t *testing.T) {
	gate, err := New("", DefaultConfig())
	require.NoError(t, err)
	assert.IsType(t, &FrameDiffGate{}, gate)

	gate, err = New("none", Config{})
	require.NoError(t, err)
	assert.False(t, gate.Detect(frameOf(blankFrame(8, 8))).HasMotion)

	_, err = New("optical-flow", Config{})
	assert.Error(t, err)
}

func TestMorphology(t *testing.T) {
	w, h := 9, 9
	mask := make([]uint8, w*h)
	tmp := make([]uint8, w*h)
	mask[4*w+4] = 255

	dilate(mask, tmp, w, h, 1)
	count := 0
	for _, v := range mask {
		if v != 0 {
			count++
		}
	}
	assert.Equal(t, 9, count)

	erode(mask, tmp, w, h, 1)
	assert.Equal(t, uint8(255), mask[4*w+4])
	assert.Equal(t, uint8(0), mask[3*w+3])
}
