// Package tracking maintains per-subject track state across frames.
package tracking

import (
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"pantheravision/internal/pipeline"
)

// HistorySize is the number of recent boxes kept per track
const HistorySize = 30

// Config holds tracker lifecycle parameters
type Config struct {
	MaxAge  time.Duration // Unmatched tracks older than this are evicted
	MinHits int           // Hits needed for confirmation
}

// DefaultConfig returns the default tracker configuration
func DefaultConfig() Config {
	return Config{
		MaxAge:  2 * time.Second,
		MinHits: 3,
	}
}

// Tracker does lifecycle bookkeeping for tracks whose identities were
// assigned upstream. It is owned by the orchestration loop and is not safe
// for concurrent use.
type Tracker struct {
	cfg    Config
	tracks map[int]*pipeline.Track
}

// NewTracker creates a tracker
func NewTracker(cfg Config) *Tracker {
	def := DefaultConfig()
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = def.MaxAge
	}
	if cfg.MinHits <= 0 {
		cfg.MinHits = def.MinHits
	}
	return &Tracker{
		cfg:    cfg,
		tracks: make(map[int]*pipeline.Track),
	}
}

// Update applies one cycle of detections observed at now and returns the
// live track set. Anonymous detections are ignored. Tracks not matched in
// this cycle are evicted only once now - LastSeen exceeds MaxAge.
func (t *Tracker) Update(detections []pipeline.Detection, now time.Time) []pipeline.Track {
	matched := make(map[int]bool, len(detections))

	for _, d := range detections {
		if d.Anonymous() {
			continue
		}
		matched[d.TrackID] = true

		track, ok := t.tracks[d.TrackID]
		if !ok {
			track = &pipeline.Track{
				ID:         d.TrackID,
				ClassID:    d.ClassID,
				Class:      d.Class,
				BBox:       d.BBox,
				Confidence: d.Confidence,
				Hits:       1,
				Status:     pipeline.TrackProbationary,
				FirstSeen:  now,
				LastSeen:   now,
				History:    make([]pipeline.BBox, 0, HistorySize),
			}
			t.tracks[d.TrackID] = track
		} else {
			track.Hits++
			track.BBox = d.BBox
			track.LastSeen = now
			if d.Confidence > track.Confidence {
				track.Confidence = d.Confidence
			}
		}

		if len(track.History) == HistorySize {
			copy(track.History, track.History[1:])
			track.History = track.History[:HistorySize-1]
		}
		track.History = append(track.History, d.BBox)

		if track.Hits >= t.cfg.MinHits {
			track.Status = pipeline.TrackConfirmed
		}
	}

	t.prune(matched, now)
	return t.Tracks()
}

func (t *Tracker) prune(matched map[int]bool, now time.Time) {
	for id, track := range t.tracks {
		if matched[id] {
			continue
		}
		if now.Sub(track.LastSeen) > t.cfg.MaxAge {
			delete(t.tracks, id)
		}
	}
}

// Tracks returns copies of the live tracks ordered by id
func (t *Tracker) Tracks() []pipeline.Track {
	out := make([]pipeline.Track, 0, len(t.tracks))
	for _, track := range t.tracks {
		out = append(out, snapshot(track))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Get returns a copy of one track
func (t *Tracker) Get(id int) (pipeline.Track, bool) {
	track, ok := t.tracks[id]
	if !ok {
		return pipeline.Track{}, false
	}
	return snapshot(track), true
}

// Hits returns the hit count of a live track
func (t *Tracker) Hits(id int) (int, bool) {
	track, ok := t.tracks[id]
	if !ok {
		return 0, false
	}
	return track.Hits, true
}

// Len returns the number of live tracks
func (t *Tracker) Len() int {
	return len(t.tracks)
}

// Reset drops every track
func (t *Tracker) Reset() {
	t.tracks = make(map[int]*pipeline.Track)
}

func snapshot(track *pipeline.Track) pipeline.Track {
	cp := *track
	cp.History = append([]pipeline.BBox(nil), track.History...)
	return cp
}

// SmoothedBBox averages the box history of a track
func SmoothedBBox(track pipeline.Track) pipeline.BBox {
	if len(track.History) == 0 {
		return track.BBox
	}

	n := len(track.History)
	x1 := make([]float64, n)
	y1 := make([]float64, n)
	x2 := make([]float64, n)
	y2 := make([]float64, n)
	for i, b := range track.History {
		x1[i], y1[i], x2[i], y2[i] = float64(b.X1), float64(b.Y1), float64(b.X2), float64(b.Y2)
	}

	return pipeline.BBox{
		X1: float32(stat.Mean(x1, nil)),
		Y1: float32(stat.Mean(y1, nil)),
		X2: float32(stat.Mean(x2, nil)),
		Y2: float32(stat.Mean(y2, nil)),
	}
}

var _ pipeline.Tracker = (*Tracker)(nil)
