package detection

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// DetectionServiceName is the gRPC service implemented by the inference server
	DetectionServiceName = "pantheravision.detection.v1.DetectionService"
	// DetectMethod is the unary detection RPC
	DetectMethod = "/" + DetectionServiceName + "/Detect"
)

// GRPCDetector provides gRPC-based object detection using YOLO.
// Requests and responses travel as google.protobuf.Struct messages so the
// Python inference server needs no generated Go stubs.
type GRPCDetector struct {
	endpoint string
	conn     *grpc.ClientConn
	health   healthpb.HealthClient
	timeout  time.Duration
	cache    *healthCache
}

// GRPCDetectorConfig holds configuration for the gRPC detector
type GRPCDetectorConfig struct {
	Endpoint    string
	Timeout     time.Duration // Per-call deadline, default 2s
	DialOptions []grpc.DialOption
}

// grpcResponse mirrors the JSON form of the Detect response struct
type grpcResponse struct {
	Detections []struct {
		ClassName  string  `json:"class_name"`
		ClassID    int     `json:"class_id"`
		Confidence float32 `json:"confidence"`
		BBox       struct {
			X1 float32 `json:"x1"`
			Y1 float32 `json:"y1"`
			X2 float32 `json:"x2"`
			Y2 float32 `json:"y2"`
		} `json:"bbox"`
		TrackID *int `json:"track_id"`
	} `json:"detections"`
	InferenceMs float32 `json:"inference_ms"`
	Device      string  `json:"device"`
}

// NewGRPCDetector creates a new gRPC-based detector. The connection is
// established lazily on the first call.
func NewGRPCDetector(config GRPCDetectorConfig) (*GRPCDetector, error) {
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}

	// Configure keepalive to detect dead connections quickly
	kacp := keepalive.ClientParameters{
		Time:                10 * time.Second,
		Timeout:             5 * time.Second,
		PermitWithoutStream: true,
	}

	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(kacp),
	}, config.DialOptions...)

	conn, err := grpc.NewClient(config.Endpoint, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", config.Endpoint, err)
	}

	log.Printf("[GRPCDetector] Using detection service at %s", config.Endpoint)
	return &GRPCDetector{
		endpoint: config.Endpoint,
		conn:     conn,
		health:   healthpb.NewHealthClient(conn),
		timeout:  config.Timeout,
		cache:    newHealthCache(),
	}, nil
}

// IsHealthy checks if the gRPC detection service is serving
func (gd *GRPCDetector) IsHealthy(ctx context.Context) bool {
	if healthy, fresh := gd.cache.cached(); fresh {
		return healthy
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := gd.health.Check(ctx, &healthpb.HealthCheckRequest{Service: DetectionServiceName})
	if err != nil {
		log.Printf("[GRPCDetector] Health check failed: %v", err)
		gd.cache.set(false)
		return false
	}

	healthy := resp.GetStatus() == healthpb.HealthCheckResponse_SERVING
	gd.cache.set(healthy)
	return healthy
}

// Detect sends one frame to the detection service
func (gd *GRPCDetector) Detect(ctx context.Context, req Request) (*Result, error) {
	if len(req.JPEG) == 0 {
		return nil, fmt.Errorf("grpc detector needs JPEG data")
	}

	classes := make([]any, len(req.Classes))
	for i, c := range req.Classes {
		classes[i] = c
	}

	in, err := structpb.NewStruct(map[string]any{
		"jpeg_data":      base64.StdEncoding.EncodeToString(req.JPEG),
		"frame_seq":      req.FrameSeq,
		"conf_threshold": req.ConfThreshold,
		"iou_threshold":  req.IoUThreshold,
		"classes":        classes,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, gd.timeout)
	defer cancel()

	out := new(structpb.Struct)
	if err := gd.conn.Invoke(ctx, DetectMethod, in, out); err != nil {
		gd.cache.set(false)
		return nil, fmt.Errorf("detect failed: %w", err)
	}

	return convertResponse(out)
}

// convertResponse converts the gRPC response struct to internal format
func convertResponse(out *structpb.Struct) (*Result, error) {
	raw, err := protojson.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var resp grpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("malformed detect response: %w", err)
	}

	result := &Result{
		Detections:      make([]Detection, 0, len(resp.Detections)),
		InferenceTimeMs: resp.InferenceMs,
		Device:          resp.Device,
	}
	for _, det := range resp.Detections {
		result.Detections = append(result.Detections, Detection{
			Class:      det.ClassName,
			ClassID:    det.ClassID,
			Confidence: det.Confidence,
			BBox:       []float32{det.BBox.X1, det.BBox.Y1, det.BBox.X2, det.BBox.Y2},
			TrackID:    det.TrackID,
		})
	}
	return result, nil
}

// Endpoint returns the configured service address
func (gd *GRPCDetector) Endpoint() string {
	return gd.endpoint
}

// Close shuts down the gRPC connection
func (gd *GRPCDetector) Close() error {
	if gd.conn != nil {
		return gd.conn.Close()
	}
	return nil
}
