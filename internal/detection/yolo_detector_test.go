package detection

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeYOLOService struct {
	modelLoaded atomic.Bool
	healthHits  atomic.Int32

	mu   sync.Mutex
	form map[string]string
	file []byte
}

func newFakeYOLOService(loaded bool) *fakeYOLOService {
	f := &fakeYOLOService{}
	f.modelLoaded.Store(loaded)
	return f
}

func (f *fakeYOLOService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/health":
		f.healthHits.Add(1)
		json.NewEncoder(w).Encode(YOLOHealthResponse{Status: "healthy", Device: "cpu", ModelLoaded: f.modelLoaded.Load()})
	case "/detect":
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		file, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "missing file", http.StatusBadRequest)
			return
		}
		f.mu.Lock()
		f.form = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			f.form[k] = v[0]
		}
		f.file, _ = io.ReadAll(file)
		f.mu.Unlock()
		w.Write([]byte(`{
			"detections": [
				{"class": "cat", "class_id": 15, "confidence": 0.8, "bbox": [1, 2, 30, 40], "track_id": 3}
			],
			"inference_time_ms": 20.5,
			"device": "cpu"
		}`))
	default:
		http.NotFound(w, r)
	}
}

func TestYOLODetector_Detect(t *testing.T) {
	fake := newFakeYOLOService(true)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	det := NewYOLODetector(YOLOConfig{Endpoint: srv.URL + "/"})
	res, err := det.Detect(context.Background(), Request{
		JPEG:          []byte("jpeg"),
		ConfThreshold: 0.5,
		IoUThreshold:  0.45,
		Classes:       []int{15, 16},
	})
	require.NoError(t, err)

	require.Len(t, res.Detections, 1)
	assert.Equal(t, "cat", res.Detections[0].Class)
	assert.Equal(t, []float32{1, 2, 30, 40}, res.Detections[0].BBox)
	require.NotNil(t, res.Detections[0].TrackID)
	assert.Equal(t, 3, *res.Detections[0].TrackID)
	assert.InDelta(t, 20.5, res.InferenceTimeMs, 1e-6)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, []byte("jpeg"), fake.file)
	assert.Equal(t, "0.500", fake.form["conf_threshold"])
	assert.Equal(t, "0.450", fake.form["iou_threshold"])
	assert.Equal(t, "15,16", fake.form["classes"])
}

func TestYOLODetector_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer srv.Close()

	det := NewYOLODetector(YOLOConfig{Endpoint: srv.URL})
	_, err := det.Detect(context.Background(), Request{JPEG: []byte("x")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model crashed")
}

func TestYOLODetector_HealthIsCached(t *testing.T) {
	fake := newFakeYOLOService(true)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	det := NewYOLODetector(YOLOConfig{Endpoint: srv.URL})
	now := time.Unix(1000, 0)
	det.cache.now = func() time.Time { return now }

	assert.True(t, det.IsHealthy(context.Background()))
	assert.True(t, det.IsHealthy(context.Background()))
	assert.EqualValues(t, 1, fake.healthHits.Load())

	now = now.Add(healthTTL)
	assert.True(t, det.IsHealthy(context.Background()))
	assert.EqualValues(t, 2, fake.healthHits.Load())
}

func TestYOLODetector_UnhealthyIsRetried(t *testing.T) {
	fake := newFakeYOLOService(false)
	srv := httptest.NewServer(fake)
	defer srv.Close()

	det := NewYOLODetector(YOLOConfig{Endpoint: srv.URL})
	now := time.Unix(1000, 0)
	det.cache.now = func() time.Time { return now }

	assert.False(t, det.IsHealthy(context.Background()))
	assert.False(t, det.IsHealthy(context.Background()))
	assert.EqualValues(t, 1, fake.healthHits.Load())

	fake.modelLoaded.Store(true)
	now = now.Add(healthRetry)
	assert.True(t, det.IsHealthy(context.Background()), "an unhealthy verdict must not stick")
}

func TestYOLODetector_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	det := NewYOLODetector(YOLOConfig{Endpoint: url, Timeout: time.Second})
	assert.False(t, det.IsHealthy(context.Background()))
	_, err := det.Detect(context.Background(), Request{JPEG: []byte("x")})
	assert.Error(t, err)
}
