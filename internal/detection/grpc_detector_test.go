package detection

import (
	"context"
	"encoding/base64"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type detectServer interface {
	Detect(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var testDetectionServiceDesc = grpc.ServiceDesc{
	ServiceName: DetectionServiceName,
	HandlerType: (*detectServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Detect",
		Handler: func(srv any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			return srv.(detectServer).Detect(ctx, in)
		},
	}},
}

type fakeDetectionService struct {
	mu   sync.Mutex
	last *structpb.Struct
}

func (f *fakeDetectionService) lastRequest() map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last.AsMap()
}

func (f *fakeDetectionService) Detect(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	f.mu.Lock()
	f.last = in
	f.mu.Unlock()
	return structpb.NewStruct(map[string]any{
		"detections": []any{
			map[string]any{
				"class_name": "cat",
				"class_id":   15,
				"confidence": 0.91,
				"bbox":       map[string]any{"x1": 10, "y1": 20, "x2": 110, "y2": 220},
				"track_id":   7,
			},
			map[string]any{
				"class_name": "dog",
				"class_id":   16,
				"confidence": 0.4,
				"bbox":       map[string]any{"x1": 0, "y1": 0, "x2": 5, "y2": 5},
				"track_id":   nil,
			},
		},
		"inference_ms": 12.5,
		"device":       "cuda:0",
	})
}

func startDetectionServer(t *testing.T, status healthpb.HealthCheckResponse_ServingStatus) (*fakeDetectionService, *GRPCDetector) {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	fake := &fakeDetectionService{}
	srv.RegisterService(&testDetectionServiceDesc, fake)

	hs := health.NewServer()
	hs.SetServingStatus(DetectionServiceName, status)
	healthpb.RegisterHealthServer(srv, hs)

	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	det, err := NewGRPCDetector(GRPCDetectorConfig{
		Endpoint: "passthrough:///bufnet",
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	})
	require.NoError(t, err)
	t.Cleanup(func() { det.Close() })
	return fake, det
}

func TestGRPCDetector_Detect(t *testing.T) {
	fake, det := startDetectionServer(t, healthpb.HealthCheckResponse_SERVING)

	res, err := det.Detect(context.Background(), Request{
		FrameSeq:      42,
		JPEG:          []byte{0xff, 0xd8, 0xff},
		ConfThreshold: 0.25,
		IoUThreshold:  0.45,
		Classes:       []int{15},
	})
	require.NoError(t, err)

	require.Len(t, res.Detections, 2)
	cat := res.Detections[0]
	assert.Equal(t, "cat", cat.Class)
	assert.Equal(t, 15, cat.ClassID)
	assert.InDelta(t, 0.91, cat.Confidence, 1e-6)
	assert.Equal(t, []float32{10, 20, 110, 220}, cat.BBox)
	require.NotNil(t, cat.TrackID)
	assert.Equal(t, 7, *cat.TrackID)
	assert.Nil(t, res.Detections[1].TrackID)
	assert.InDelta(t, 12.5, res.InferenceTimeMs, 1e-6)
	assert.Equal(t, "cuda:0", res.Device)

	req := fake.lastRequest()
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8, 0xff}), req["jpeg_data"])
	assert.InDelta(t, 42, req["frame_seq"], 0)
	assert.InDelta(t, 0.25, req["conf_threshold"], 1e-6)
	assert.Equal(t, []any{float64(15)}, req["classes"])
}

func TestGRPCDetector_RequiresJPEG(t *testing.T) {
	_, det := startDetectionServer(t, healthpb.HealthCheckResponse_SERVING)

	_, err := det.Detect(context.Background(), Request{})
	assert.Error(t, err)
}

func TestGRPCDetector_Health(t *testing.T) {
	_, det := startDetectionServer(t, healthpb.HealthCheckResponse_SERVING)
	assert.True(t, det.IsHealthy(context.Background()))

	_, down := startDetectionServer(t, healthpb.HealthCheckResponse_NOT_SERVING)
	assert.False(t, down.IsHealthy(context.Background()))
}

func TestGRPCDetector_UnknownMethodMarksUnhealthy(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus(DetectionServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	go srv.Serve(lis)
	defer srv.Stop()

	det, err := NewGRPCDetector(GRPCDetectorConfig{
		Endpoint: "passthrough:///bufnet",
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	})
	require.NoError(t, err)
	defer det.Close()

	require.True(t, det.IsHealthy(context.Background()))

	_, err = det.Detect(context.Background(), Request{JPEG: []byte{1}})
	require.Error(t, err)

	healthy, fresh := det.cache.cached()
	assert.True(t, fresh)
	assert.False(t, healthy)
}
