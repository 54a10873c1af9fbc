package detection

import (
	"fmt"
	"image"
	"sort"

	"github.com/chewxy/math32"
	"github.com/nfnt/resize"
)

// YOLOv8 export geometry
const (
	ModelInputSize = 640
	ModelAnchors   = 8400
)

// Preprocess resizes img to size x size and returns planar RGB in [0, 1]
func Preprocess(img image.Image, size int) []float32 {
	resized := resize.Resize(uint(size), uint(size), img, resize.Lanczos3)
	bounds := resized.Bounds()

	plane := size * size
	data := make([]float32, 3*plane)
	i := 0
	for y := bounds.Min.Y; y < bounds.Min.Y+size; y++ {
		for x := bounds.Min.X; x < bounds.Min.X+size; x++ {
			r, g, b, _ := resized.At(x, y).RGBA()
			data[i] = float32(r>>8) / 255.0
			data[plane+i] = float32(g>>8) / 255.0
			data[2*plane+i] = float32(b>>8) / 255.0
			i++
		}
	}
	return data
}

// DecodeParams describe a raw [1, 4+classes, anchors] YOLOv8 output
type DecodeParams struct {
	NumClasses int
	Anchors    int
	InputSize  int
	OrigWidth  int
	OrigHeight int
	Confidence float32
	Classes    []int
	Labels     []string
}

// DecodeYOLOv8 turns the output tensor into detections in original image
// coordinates. Each anchor keeps its best scoring class.
func DecodeYOLOv8(out []float32, p DecodeParams) ([]Detection, error) {
	if need := (4 + p.NumClasses) * p.Anchors; len(out) < need {
		return nil, fmt.Errorf("output has %d values, want %d", len(out), need)
	}

	allowed := make(map[int]bool, len(p.Classes))
	for _, c := range p.Classes {
		allowed[c] = true
	}

	n := p.Anchors
	sx := float32(p.OrigWidth) / float32(p.InputSize)
	sy := float32(p.OrigHeight) / float32(p.InputSize)
	maxX, maxY := float32(p.OrigWidth), float32(p.OrigHeight)

	var dets []Detection
	for idx := 0; idx < n; idx++ {
		classID, prob := 0, float32(-1)
		for col := 0; col < p.NumClasses; col++ {
			if v := out[n*(col+4)+idx]; v > prob {
				prob, classID = v, col
			}
		}
		if prob < p.Confidence {
			continue
		}
		if len(allowed) > 0 && !allowed[classID] {
			continue
		}

		xc, yc := out[idx], out[n+idx]
		w, h := out[2*n+idx], out[3*n+idx]
		box := []float32{
			clampf((xc-w/2)*sx, 0, maxX),
			clampf((yc-h/2)*sy, 0, maxY),
			clampf((xc+w/2)*sx, 0, maxX),
			clampf((yc+h/2)*sy, 0, maxY),
		}

		name := "unknown"
		if classID < len(p.Labels) {
			name = p.Labels[classID]
		}
		dets = append(dets, Detection{
			Class:      name,
			ClassID:    classID,
			Confidence: prob,
			BBox:       box,
		})
	}
	return dets, nil
}

// NMS performs per-class non-maximum suppression, highest confidence first
func NMS(dets []Detection, iouThreshold float32) []Detection {
	sorted := make([]Detection, len(dets))
	copy(sorted, dets)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	kept := make([]Detection, 0, len(sorted))
	for _, cand := range sorted {
		suppressed := false
		for _, k := range kept {
			if k.ClassID == cand.ClassID && boxIoU(k.BBox, cand.BBox) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, cand)
		}
	}
	return kept
}

func boxIoU(a, b []float32) float32 {
	w := math32.Min(a[2], b[2]) - math32.Max(a[0], b[0])
	h := math32.Min(a[3], b[3]) - math32.Max(a[1], b[1])
	if w <= 0 || h <= 0 {
		return 0
	}
	inter := w * h
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func clampf(v, lo, hi float32) float32 {
	return math32.Max(lo, math32.Min(v, hi))
}
