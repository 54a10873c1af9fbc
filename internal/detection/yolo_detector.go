package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// YOLODetector handles YOLO-powered object detection over HTTP
type YOLODetector struct {
	endpoint string
	client   *http.Client
	cache    *healthCache
}

// YOLOHealthResponse represents health check response
type YOLOHealthResponse struct {
	Status       string `json:"status"`
	Device       string `json:"device"`
	GPUAvailable bool   `json:"gpu_available"`
	ModelLoaded  bool   `json:"model_loaded"`
}

// YOLOConfig holds configuration for the detector
type YOLOConfig struct {
	Endpoint string
	Timeout  time.Duration // Default 15s, GPU inference can be slow on first call
}

// NewYOLODetector creates a new YOLO-powered detector
func NewYOLODetector(cfg YOLOConfig) *YOLODetector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &YOLODetector{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		client:   &http.Client{Timeout: cfg.Timeout},
		cache:    newHealthCache(),
	}
}

// IsHealthy checks if the YOLO service is up with its model loaded
func (yd *YOLODetector) IsHealthy(ctx context.Context) bool {
	if healthy, fresh := yd.cache.cached(); fresh {
		return healthy
	}

	health, err := yd.GetHealthInfo(ctx)
	if err != nil {
		log.Printf("[YOLODetector] Health check failed: %v", err)
		yd.cache.set(false)
		return false
	}

	yd.cache.set(health.ModelLoaded)
	return health.ModelLoaded
}

// GetHealthInfo returns detailed health information
func (yd *YOLODetector) GetHealthInfo(ctx context.Context) (*YOLOHealthResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, yd.endpoint+"/health", nil)
	if err != nil {
		return nil, err
	}

	resp, err := yd.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to check YOLO health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("YOLO health check returned status %d", resp.StatusCode)
	}

	var health YOLOHealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return nil, fmt.Errorf("failed to decode health response: %w", err)
	}

	return &health, nil
}

// Detect posts one frame to the /detect endpoint
func (yd *YOLODetector) Detect(ctx context.Context, r Request) (*Result, error) {
	if len(r.JPEG) == 0 {
		return nil, fmt.Errorf("http detector needs JPEG data")
	}

	// Create multipart form data
	var b bytes.Buffer
	w := multipart.NewWriter(&b)

	fw, err := w.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(r.JPEG); err != nil {
		return nil, err
	}

	w.WriteField("conf_threshold", fmt.Sprintf("%.3f", r.ConfThreshold))
	w.WriteField("iou_threshold", fmt.Sprintf("%.3f", r.IoUThreshold))
	if len(r.Classes) > 0 {
		w.WriteField("classes", joinClasses(r.Classes))
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, yd.endpoint+"/detect", &b)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := yd.client.Do(req)
	if err != nil {
		yd.cache.set(false)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("YOLO detection failed: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("malformed YOLO response: %w", err)
	}

	return &result, nil
}

// Close releases idle connections
func (yd *YOLODetector) Close() error {
	yd.client.CloseIdleConnections()
	return nil
}
