// Package motion decides whether a frame contains movement and where.
// Frames are compared at a fixed processing resolution and the resulting
// regions are scaled back to full-frame coordinates.
package motion

import (
	"fmt"
	"image"
	"sync"

	"golang.org/x/image/draw"

	"pantheravision/internal/pipeline"
)

// Config holds motion gate parameters. Areas are in processing-resolution pixels.
type Config struct {
	ProcessWidth     int     // Default 640
	ProcessHeight    int     // Default 480
	BlurSize         int     // Box blur kernel, odd, default 21
	DiffThreshold    uint8   // Gray-level change that counts as motion, default 25
	MinArea          int     // Smallest region kept, default 500
	KernelSize       int     // Morphology kernel, default 5
	DilateIterations int     // Default 2
	ErodeIterations  int     // Default 1
	VarThreshold     float64 // MOG2 variance threshold for the gocv backend, default 16
}

// DefaultConfig returns the stock gate settings
func DefaultConfig() Config {
	return Config{
		ProcessWidth:     640,
		ProcessHeight:    480,
		BlurSize:         21,
		DiffThreshold:    25,
		MinArea:          500,
		KernelSize:       5,
		DilateIterations: 2,
		ErodeIterations:  1,
		VarThreshold:     16,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ProcessWidth <= 0 || c.ProcessHeight <= 0 {
		c.ProcessWidth, c.ProcessHeight = d.ProcessWidth, d.ProcessHeight
	}
	if c.BlurSize <= 0 {
		c.BlurSize = d.BlurSize
	}
	if c.BlurSize%2 == 0 {
		c.BlurSize++
	}
	if c.DiffThreshold == 0 {
		c.DiffThreshold = d.DiffThreshold
	}
	if c.MinArea <= 0 {
		c.MinArea = d.MinArea
	}
	if c.KernelSize <= 0 {
		c.KernelSize = d.KernelSize
	}
	if c.DilateIterations < 0 {
		c.DilateIterations = 0
	}
	if c.ErodeIterations < 0 {
		c.ErodeIterations = 0
	}
	if c.VarThreshold <= 0 {
		c.VarThreshold = d.VarThreshold
	}
	return c
}

// New builds the gate for a backend name: "framediff" (default), "gocv" or "none"
func New(backend string, cfg Config) (pipeline.MotionGate, error) {
	switch backend {
	case "", "framediff":
		return NewFrameDiffGate(cfg), nil
	case "gocv":
		return newGoCVGate(cfg)
	case "none":
		return NoMotion{}, nil
	default:
		return nil, fmt.Errorf("unknown motion backend %q", backend)
	}
}

// NoMotion is a gate that never reports movement
type NoMotion struct{}

// Detect always returns no motion
func (NoMotion) Detect(*pipeline.Frame) pipeline.MotionResult { return pipeline.MotionResult{} }

// Reset does nothing
func (NoMotion) Reset() {}

// FrameDiffGate compares each blurred grayscale frame with the previous one.
// The first frame after construction or Reset only seeds the baseline.
type FrameDiffGate struct {
	cfg Config

	mu     sync.Mutex
	scaled *image.RGBA
	prev   []uint8
	cur    []uint8
	tmp    []uint8
	mask   []uint8
	stack  []int
}

// NewFrameDiffGate creates a pure Go frame differencing gate
func NewFrameDiffGate(cfg Config) *FrameDiffGate {
	cfg = cfg.withDefaults()
	n := cfg.ProcessWidth * cfg.ProcessHeight
	return &FrameDiffGate{
		cfg:    cfg,
		scaled: image.NewRGBA(image.Rect(0, 0, cfg.ProcessWidth, cfg.ProcessHeight)),
		cur:    make([]uint8, n),
		tmp:    make([]uint8, n),
		mask:   make([]uint8, n),
	}
}

// Detect reports whether the frame moved relative to the previous one
func (g *FrameDiffGate) Detect(frame *pipeline.Frame) pipeline.MotionResult {
	if frame == nil || frame.Image == nil || frame.Image.Bounds().Empty() {
		return pipeline.MotionResult{}
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	w, h := g.cfg.ProcessWidth, g.cfg.ProcessHeight
	src := frame.Image
	draw.ApproxBiLinear.Scale(g.scaled, g.scaled.Bounds(), src, src.Bounds(), draw.Src, nil)
	toGray(g.scaled, g.cur)
	boxBlur(g.cur, g.tmp, w, h, g.cfg.BlurSize/2)

	if g.prev == nil {
		g.prev = make([]uint8, len(g.cur))
		copy(g.prev, g.cur)
		return pipeline.MotionResult{}
	}

	thr := g.cfg.DiffThreshold
	changed := false
	for i := range g.cur {
		d := int(g.cur[i]) - int(g.prev[i])
		if d < 0 {
			d = -d
		}
		if d > int(thr) {
			g.mask[i] = 255
			changed = true
		} else {
			g.mask[i] = 0
		}
	}
	g.prev, g.cur = g.cur, g.prev

	if !changed {
		return pipeline.MotionResult{}
	}

	radius := g.cfg.KernelSize / 2
	for i := 0; i < g.cfg.DilateIterations; i++ {
		dilate(g.mask, g.tmp, w, h, radius)
	}
	for i := 0; i < g.cfg.ErodeIterations; i++ {
		erode(g.mask, g.tmp, w, h, radius)
	}

	bounds := src.Bounds()
	sx := float64(bounds.Dx()) / float64(w)
	sy := float64(bounds.Dy()) / float64(h)

	var regions []pipeline.Region
	for _, c := range g.components(w, h) {
		if c.area < g.cfg.MinArea {
			continue
		}
		regions = append(regions, pipeline.Region{
			X:      bounds.Min.X + int(float64(c.minX)*sx),
			Y:      bounds.Min.Y + int(float64(c.minY)*sy),
			Width:  int(float64(c.maxX-c.minX+1) * sx),
			Height: int(float64(c.maxY-c.minY+1) * sy),
		})
	}

	return pipeline.MotionResult{HasMotion: len(regions) > 0, Regions: regions}
}

// Reset drops the baseline so the next frame reports no motion
func (g *FrameDiffGate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prev = nil
}

type component struct {
	minX, minY, maxX, maxY int
	area                   int
}

// components labels 8-connected foreground blobs, consuming the mask
func (g *FrameDiffGate) components(w, h int) []component {
	var out []component
	for start, v := range g.mask {
		if v == 0 {
			continue
		}

		c := component{minX: w, minY: h, maxX: -1, maxY: -1}
		g.mask[start] = 0
		g.stack = append(g.stack[:0], start)

		for len(g.stack) > 0 {
			idx := g.stack[len(g.stack)-1]
			g.stack = g.stack[:len(g.stack)-1]

			x, y := idx%w, idx/w
			c.area++
			if x < c.minX {
				c.minX = x
			}
			if x > c.maxX {
				c.maxX = x
			}
			if y < c.minY {
				c.minY = y
			}
			if y > c.maxY {
				c.maxY = y
			}

			for dy := -1; dy <= 1; dy++ {
				ny := y + dy
				if ny < 0 || ny >= h {
					continue
				}
				for dx := -1; dx <= 1; dx++ {
					nx := x + dx
					if nx < 0 || nx >= w {
						continue
					}
					n := ny*w + nx
					if g.mask[n] != 0 {
						g.mask[n] = 0
						g.stack = append(g.stack, n)
					}
				}
			}
		}
		out = append(out, c)
	}
	return out
}

var _ pipeline.MotionGate = (*FrameDiffGate)(nil)
