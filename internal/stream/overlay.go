package stream

import (
	"fmt"
	"image"
	"image/color"
	"time"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"pantheravision/internal/pipeline"
)

var (
	motionColor    = color.RGBA{0, 0, 255, 255}
	detectionColor = color.RGBA{255, 0, 0, 255}
	labelBG        = color.RGBA{0, 0, 0, 180}
)

const (
	DefaultWarningText = "WARNING: LEOPARD DETECTED!"
	DefaultFlashPeriod = 200 * time.Millisecond
)

// OverlayConfig controls what the annotator draws
type OverlayConfig struct {
	WarningText string
	FlashPeriod time.Duration       // Banner on/off half period
	Label       func(string) string // Maps detector classes to display labels
	ShowMotion  bool
}

// Overlay draws motion regions, accepted detections and the warning banner
type Overlay struct {
	cfg OverlayConfig
}

// NewOverlay creates an annotator
func NewOverlay(cfg OverlayConfig) *Overlay {
	if cfg.WarningText == "" {
		cfg.WarningText = DefaultWarningText
	}
	if cfg.FlashPeriod <= 0 {
		cfg.FlashPeriod = DefaultFlashPeriod
	}
	if cfg.Label == nil {
		cfg.Label = func(s string) string { return s }
	}
	return &Overlay{cfg: cfg}
}

// Annotate returns an annotated copy; the frame image is left untouched
func (o *Overlay) Annotate(frame *pipeline.Frame, result *pipeline.FrameResult) *image.RGBA {
	if frame == nil || frame.Image == nil {
		return nil
	}

	b := frame.Image.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), frame.Image, b.Min, draw.Src)

	if result == nil {
		return dst
	}

	if o.cfg.ShowMotion && result.Motion.HasMotion {
		for _, r := range result.Motion.Regions {
			drawBox(dst, r.X, r.Y, r.Width, r.Height, motionColor, 1)
		}
	}

	for _, d := range result.Detections {
		if !d.Accepted {
			continue
		}
		x, y := int(d.BBox.X1), int(d.BBox.Y1)
		drawBox(dst, x, y, int(d.BBox.Width()), int(d.BBox.Height()), detectionColor, 2)
		drawLabel(dst, x, y-14, o.detectionLabel(d.Detection), detectionColor)
	}

	if result.Warning && o.flashOn(result.Timestamp) {
		drawBanner(dst, 50, 70, o.cfg.WarningText, detectionColor, 3)
	}
	return dst
}

func (o *Overlay) detectionLabel(d pipeline.Detection) string {
	label := o.cfg.Label(d.Class)
	if d.TrackID != pipeline.NoTrackID {
		label = fmt.Sprintf("%s #%d", label, d.TrackID)
	}
	return fmt.Sprintf("%s %.0f%%", label, d.Confidence*100)
}

// flashOn toggles every FlashPeriod, driven by the frame clock
func (o *Overlay) flashOn(t time.Time) bool {
	if t.IsZero() {
		t = time.Now()
	}
	return (t.UnixNano()/int64(o.cfg.FlashPeriod))%2 == 0
}

// RenderPlaceholder draws centered text on a dark background
func RenderPlaceholder(w, h int, text string) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.RGBA{26, 26, 26, 255}}, image.Point{}, draw.Src)

	const scale = 2
	tw := font.MeasureString(basicfont.Face7x13, text).Ceil() * scale
	x := (w - tw) / 2
	y := (h - 13*scale) / 2
	drawBanner(img, x, y, text, color.RGBA{200, 200, 200, 255}, scale)
	return img
}

// drawBox draws a rectangle outline clipped to the image
func drawBox(img *image.RGBA, x, y, w, h int, c color.RGBA, thickness int) {
	bounds := img.Bounds()

	for t := 0; t < thickness; t++ {
		for i := x; i < x+w && i < bounds.Max.X; i++ {
			if i < 0 {
				continue
			}
			if y+t >= 0 && y+t < bounds.Max.Y {
				img.SetRGBA(i, y+t, c)
			}
			if y+h-t >= 0 && y+h-t < bounds.Max.Y {
				img.SetRGBA(i, y+h-t, c)
			}
		}
		for j := y; j < y+h && j < bounds.Max.Y; j++ {
			if j < 0 {
				continue
			}
			if x+t >= 0 && x+t < bounds.Max.X {
				img.SetRGBA(x+t, j, c)
			}
			if x+w-t >= 0 && x+w-t < bounds.Max.X {
				img.SetRGBA(x+w-t, j, c)
			}
		}
	}
}

// drawLabel draws text on a translucent background
func drawLabel(img *image.RGBA, x, y int, label string, c color.RGBA) {
	if y < 2 {
		y = 2
	}
	if x < 0 {
		x = 0
	}

	textWidth := font.MeasureString(basicfont.Face7x13, label).Ceil()
	bg := image.Rect(x-2, y-2, x+textWidth+2, y+12).Intersect(img.Bounds())
	draw.Draw(img, bg, &image.Uniform{C: labelBG}, image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}

// drawBanner renders text at an integer scale; basicfont only has one size
func drawBanner(img *image.RGBA, x, y int, text string, c color.RGBA, scale int) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, text).Ceil()
	h := face.Height

	glyphs := image.NewRGBA(image.Rect(0, 0, w, h))
	d := &font.Drawer{
		Dst:  glyphs,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.Point26_6{X: 0, Y: fixed.I(face.Ascent)},
	}
	d.DrawString(text)

	target := image.Rect(x, y, x+w*scale, y+h*scale)
	draw.NearestNeighbor.Scale(img, target, glyphs, glyphs.Bounds(), draw.Over, nil)
}

var _ pipeline.Annotator = (*Overlay)(nil)
