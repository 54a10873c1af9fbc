//go:build gocv

package motion

import (
	"fmt"
	"image"
	"log"
	"sync"

	"gocv.io/x/gocv"

	"pantheravision/internal/pipeline"
)

// GoCVGate segments motion with OpenCV's MOG2 background model
type GoCVGate struct {
	cfg Config

	mu      sync.Mutex
	mog2    gocv.BackgroundSubtractorMOG2
	kernel  gocv.Mat
	scaled  gocv.Mat
	gray    gocv.Mat
	fgMask  gocv.Mat
	thresh  gocv.Mat
	started bool
}

func newGoCVGate(cfg Config) (pipeline.MotionGate, error) {
	return NewGoCVGate(cfg), nil
}

// NewGoCVGate allocates the native matrices; call Close to release them
func NewGoCVGate(cfg Config) *GoCVGate {
	cfg = cfg.withDefaults()
	return &GoCVGate{
		cfg:    cfg,
		mog2:   gocv.NewBackgroundSubtractorMOG2WithParams(500, cfg.VarThreshold, false),
		kernel: gocv.GetStructuringElement(gocv.MorphRect, image.Pt(cfg.KernelSize, cfg.KernelSize)),
		scaled: gocv.NewMat(),
		gray:   gocv.NewMat(),
		fgMask: gocv.NewMat(),
		thresh: gocv.NewMat(),
	}
}

// Detect feeds the frame to the background model and returns moving regions
func (g *GoCVGate) Detect(frame *pipeline.Frame) pipeline.MotionResult {
	if frame == nil || frame.Image == nil || frame.Image.Bounds().Empty() {
		return pipeline.MotionResult{}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	src, err := imageToMat(frame.Image)
	if err != nil {
		log.Printf("[Motion] Failed to convert frame %d: %v", frame.Seq, err)
		return pipeline.MotionResult{}
	}
	defer src.Close()

	w, h := g.cfg.ProcessWidth, g.cfg.ProcessHeight
	gocv.Resize(src, &g.scaled, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)
	gocv.CvtColor(g.scaled, &g.gray, gocv.ColorBGRToGray)
	gocv.GaussianBlur(g.gray, &g.gray, image.Pt(g.cfg.BlurSize, g.cfg.BlurSize), 0, 0, gocv.BorderDefault)

	g.mog2.Apply(g.gray, &g.fgMask)
	if !g.started {
		g.started = true
		return pipeline.MotionResult{}
	}

	gocv.Threshold(g.fgMask, &g.thresh, float32(g.cfg.DiffThreshold), 255, gocv.ThresholdBinary)
	for i := 0; i < g.cfg.DilateIterations; i++ {
		gocv.Dilate(g.thresh, &g.thresh, g.kernel)
	}
	for i := 0; i < g.cfg.ErodeIterations; i++ {
		gocv.Erode(g.thresh, &g.thresh, g.kernel)
	}

	contours := gocv.FindContours(g.thresh, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	bounds := frame.Image.Bounds()
	sx := float64(bounds.Dx()) / float64(w)
	sy := float64(bounds.Dy()) / float64(h)

	var regions []pipeline.Region
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		if gocv.ContourArea(contour) < float64(g.cfg.MinArea) {
			continue
		}
		rect := gocv.BoundingRect(contour)
		regions = append(regions, pipeline.Region{
			X:      bounds.Min.X + int(float64(rect.Min.X)*sx),
			Y:      bounds.Min.Y + int(float64(rect.Min.Y)*sy),
			Width:  int(float64(rect.Dx()) * sx),
			Height: int(float64(rect.Dy()) * sy),
		})
	}

	return pipeline.MotionResult{HasMotion: len(regions) > 0, Regions: regions}
}

// Reset rebuilds the background model
func (g *GoCVGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.mog2.Close()
	g.mog2 = gocv.NewBackgroundSubtractorMOG2WithParams(500, g.cfg.VarThreshold, false)
	g.started = false
}

// Close releases native resources
func (g *GoCVGate) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.mog2.Close()
	g.kernel.Close()
	g.scaled.Close()
	g.gray.Close()
	g.fgMask.Close()
	g.thresh.Close()
	return nil
}

// imageToMat converts an image to a BGR Mat
func imageToMat(img image.Image) (gocv.Mat, error) {
	bounds := img.Bounds()
	mat := gocv.NewMatWithSize(bounds.Dy(), bounds.Dx(), gocv.MatTypeCV8UC3)
	if mat.Empty() {
		return mat, fmt.Errorf("failed to allocate %dx%d mat", bounds.Dx(), bounds.Dy())
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			row, col := y-bounds.Min.Y, (x-bounds.Min.X)*3
			mat.SetUCharAt(row, col+0, uint8(b>>8))
			mat.SetUCharAt(row, col+1, uint8(g>>8))
			mat.SetUCharAt(row, col+2, uint8(r>>8))
		}
	}
	return mat, nil
}

var _ pipeline.MotionGate = (*GoCVGate)(nil)
