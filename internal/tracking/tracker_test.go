package tracking

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pantheravision/internal/pipeline"
)

var t0 = time.Date(2026, 3, 14, 22, 0, 0, 0, time.UTC)

func tracked(id int, x1, y1, x2, y2, conf float32) pipeline.Detection {
	return pipeline.Detection{
		Class:      "cat",
		ClassID:    15,
		Confidence: conf,
		BBox:       pipeline.BBox{X1: x1, Y1: y1, X2: x2, Y2: y2},
		TrackID:    id,
	}
}

func TestTracker_ConfirmsExactlyOnMinHits(t *testing.T) {
	tr := NewTracker(Config{MaxAge: 2 * time.Second, MinHits: 3})
	d := tracked(1, 100, 100, 220, 160, 0.7)

	tracks := tr.Update([]pipeline.Detection{d}, t0)
	require.Len(t, tracks, 1)
	assert.Equal(t, 1, tracks[0].Hits)
	assert.Equal(t, pipeline.TrackProbationary, tracks[0].Status)

	tracks = tr.Update([]pipeline.Detection{d}, t0.Add(100*time.Millisecond))
	assert.Equal(t, 2, tracks[0].Hits)
	assert.False(t, tracks[0].Confirmed())

	tracks = tr.Update([]pipeline.Detection{d}, t0.Add(200*time.Millisecond))
	assert.Equal(t, 3, tracks[0].Hits)
	assert.True(t, tracks[0].Confirmed())
}

func TestTracker_ConfirmationNeverReverts(t *testing.T) {
	tr := NewTracker(Config{MaxAge: 2 * time.Second, MinHits: 3})
	d := tracked(4, 0, 0, 100, 100, 0.9)

	for i := 0; i < 3; i++ {
		tr.Update([]pipeline.Detection{d}, t0.Add(time.Duration(i)*100*time.Millisecond))
	}

	// Missed frames within maxAge keep the track confirmed
	for i := 0; i < 10; i++ {
		tracks := tr.Update(nil, t0.Add(time.Second+time.Duration(i)*50*time.Millisecond))
		require.Len(t, tracks, 1)
		assert.True(t, tracks[0].Confirmed())
	}

	tracks := tr.Update([]pipeline.Detection{d}, t0.Add(1900*time.Millisecond))
	assert.True(t, tracks[0].Confirmed())
	assert.Equal(t, 4, tracks[0].Hits)
}

func TestTracker_EvictsAfterMaxAge(t *testing.T) {
	tr := NewTracker(Config{MaxAge: 2 * time.Second, MinHits: 3})
	tr.Update([]pipeline.Detection{tracked(1, 0, 0, 100, 100, 0.9)}, t0)

	tracks := tr.Update(nil, t0.Add(2*time.Second))
	assert.Len(t, tracks, 1, "exactly maxAge is not stale yet")

	tracks = tr.Update(nil, t0.Add(2*time.Second+time.Millisecond))
	assert.Empty(t, tracks)
	_, ok := tr.Hits(1)
	assert.False(t, ok)
}

func TestTracker_MatchResetsLastSeen(t *testing.T) {
	tr := NewTracker(Config{MaxAge: 2 * time.Second, MinHits: 3})
	d := tracked(1, 0, 0, 100, 100, 0.9)

	tr.Update([]pipeline.Detection{d}, t0)
	tr.Update([]pipeline.Detection{d}, t0.Add(1500*time.Millisecond))

	tracks := tr.Update(nil, t0.Add(3*time.Second))
	require.Len(t, tracks, 1, "matched in between, so not evicted at the original boundary")
	assert.Equal(t, t0.Add(1500*time.Millisecond), tracks[0].LastSeen)

	assert.Empty(t, tr.Update(nil, t0.Add(3600*time.Millisecond)))
}

func TestTracker_MatchedTrackNeverEvictedInSameUpdate(t *testing.T) {
	tr := NewTracker(Config{MaxAge: time.Second, MinHits: 3})
	d := tracked(9, 0, 0, 100, 100, 0.9)

	tr.Update([]pipeline.Detection{d}, t0)
	tracks := tr.Update([]pipeline.Detection{d}, t0.Add(10*time.Second))
	require.Len(t, tracks, 1)
	assert.Equal(t, 2, tracks[0].Hits)
}

func TestTracker_RunningMaxConfidenceAndHistory(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	confs := []float32{0.6, 0.9, 0.7}
	for i, c := range confs {
		tr.Update([]pipeline.Detection{tracked(2, float32(i), 0, 100+float32(i), 100, c)}, t0.Add(time.Duration(i)*time.Millisecond))
	}

	track, ok := tr.Get(2)
	require.True(t, ok)
	assert.Equal(t, float32(0.9), track.Confidence)
	assert.Equal(t, pipeline.BBox{X1: 2, Y1: 0, X2: 102, Y2: 100}, track.BBox)

	want := []pipeline.BBox{
		{X1: 0, Y1: 0, X2: 100, Y2: 100},
		{X1: 1, Y1: 0, X2: 101, Y2: 100},
		{X1: 2, Y1: 0, X2: 102, Y2: 100},
	}
	if diff := cmp.Diff(want, track.History); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}

func TestTracker_HistoryIsBounded(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	for i := 0; i < HistorySize+12; i++ {
		tr.Update([]pipeline.Detection{tracked(3, float32(i), 0, float32(i)+100, 100, 0.8)}, t0.Add(time.Duration(i)*time.Millisecond))
	}

	track, _ := tr.Get(3)
	require.Len(t, track.History, HistorySize)
	assert.Equal(t, float32(12), track.History[0].X1, "oldest entries dropped")
	assert.Equal(t, float32(HistorySize+11), track.History[HistorySize-1].X1, "most recent last")
}

func TestTracker_IgnoresAnonymousDetections(t *testing.T) {
	tr := NewTracker(DefaultConfig())

	anon := tracked(pipeline.NoTrackID, 0, 0, 100, 100, 0.9)
	tracks := tr.Update([]pipeline.Detection{anon, anon}, t0)
	assert.Empty(t, tracks)
	assert.Equal(t, 0, tr.Len())
}

func TestTracker_SnapshotsAreIndependent(t *testing.T) {
	tr := NewTracker(DefaultConfig())
	tr.Update([]pipeline.Detection{tracked(1, 0, 0, 100, 100, 0.9)}, t0)

	tracks := tr.Tracks()
	tracks[0].Hits = 100
	tracks[0].History[0].X1 = 55

	got, _ := tr.Get(1)
	want := pipeline.Track{
		ID:         1,
		ClassID:    15,
		Class:      "cat",
		BBox:       pipeline.BBox{X2: 100, Y2: 100},
		Confidence: 0.9,
		Hits:       1,
		Status:     pipeline.TrackProbationary,
		FirstSeen:  t0,
		LastSeen:   t0,
		History:    []pipeline.BBox{{X2: 100, Y2: 100}},
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("track mutated through snapshot (-want +got):\n%s", diff)
	}

	tr.Reset()
	assert.Equal(t, 0, tr.Len())
}

func TestSmoothedBBox(t *testing.T) {
	track := pipeline.Track{
		BBox: pipeline.BBox{X1: 20, Y1: 20, X2: 120, Y2: 120},
		History: []pipeline.BBox{
			{X1: 0, Y1: 0, X2: 100, Y2: 100},
			{X1: 20, Y1: 20, X2: 120, Y2: 120},
		},
	}
	assert.Equal(t, pipeline.BBox{X1: 10, Y1: 10, X2: 110, Y2: 110}, SmoothedBBox(track))

	track.History = nil
	assert.Equal(t, track.BBox, SmoothedBBox(track))
}
