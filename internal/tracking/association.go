package tracking

import (
	"sort"

	"pantheravision/internal/pipeline"
)

// DefaultMinIoU is the minimum overlap for a detection to continue a track
const DefaultMinIoU = 0.3

// Associator assigns track identities by greedy IoU matching against the
// live tracks. Identities supplied by the detector are kept as they are.
type Associator struct {
	minIoU float32
	nextID int
}

// NewAssociator creates an associator
func NewAssociator(minIoU float32) *Associator {
	if minIoU <= 0 {
		minIoU = DefaultMinIoU
	}
	return &Associator{minIoU: minIoU, nextID: 1}
}

type candidate struct {
	det   int
	track int
	iou   float32
}

// Assign returns a copy of detections with TrackID filled in. Pairs are
// taken in descending IoU order; each track continues at most one
// detection. Unmatched detections get a fresh id that is never reused.
func (a *Associator) Assign(detections []pipeline.Detection, tracks []pipeline.Track) []pipeline.Detection {
	out := make([]pipeline.Detection, len(detections))
	copy(out, detections)

	for _, tr := range tracks {
		a.observe(tr.ID)
	}

	claimed := make(map[int]bool, len(tracks))
	for _, d := range out {
		if !d.Anonymous() {
			claimed[d.TrackID] = true
			a.observe(d.TrackID)
		}
	}

	var candidates []candidate
	for i, d := range out {
		if !d.Anonymous() {
			continue
		}
		for j, tr := range tracks {
			if claimed[tr.ID] || tr.ClassID != d.ClassID {
				continue
			}
			if iou := d.BBox.IoU(tr.BBox); iou >= a.minIoU {
				candidates = append(candidates, candidate{det: i, track: j, iou: iou})
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].iou > candidates[j].iou
	})

	assigned := make(map[int]bool, len(out))
	for _, c := range candidates {
		id := tracks[c.track].ID
		if assigned[c.det] || claimed[id] {
			continue
		}
		out[c.det].TrackID = id
		assigned[c.det] = true
		claimed[id] = true
	}

	for i := range out {
		if out[i].Anonymous() {
			out[i].TrackID = a.nextID
			a.nextID++
		}
	}

	return out
}

// observe keeps fresh ids ahead of every id already in use
func (a *Associator) observe(id int) {
	if id >= a.nextID {
		a.nextID = id + 1
	}
}

var _ pipeline.Associator = (*Associator)(nil)
