package detectors

import (
	"fmt"
	"strings"
	"time"

	"pantheravision/internal/detection"
	"pantheravision/internal/pipeline"
)

// Config selects and configures the detection backends
type Config struct {
	Backend      string // grpc, http, onnx or a comma separated failover list
	Endpoint     string
	HTTPEndpoint string // Overrides Endpoint for the http backend
	ModelPath    string
	ONNXLibrary  string
	Timeout      time.Duration
}

// New builds the detector for cfg.Backend. A list of backends yields a
// Failover over all of them in the listed order.
func New(cfg Config) (pipeline.Detector, error) {
	names := splitBackends(cfg.Backend)
	if len(names) == 0 {
		return nil, fmt.Errorf("no detection backend configured")
	}

	if len(names) == 1 {
		return newBackend(names[0], cfg)
	}

	registry := NewRegistry()
	for _, name := range names {
		d, err := newBackend(name, cfg)
		if err == nil {
			err = registry.Register(d)
		}
		if err != nil {
			registry.Close()
			return nil, err
		}
	}
	return NewFailover(registry), nil
}

func newBackend(name string, cfg Config) (pipeline.Detector, error) {
	switch name {
	case "grpc":
		d, err := detection.NewGRPCDetector(detection.GRPCDetectorConfig{
			Endpoint: cfg.Endpoint,
			Timeout:  cfg.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return NewGRPCAdapter(d), nil
	case "http":
		endpoint := cfg.HTTPEndpoint
		if endpoint == "" {
			endpoint = cfg.Endpoint
		}
		return NewHTTPAdapter(detection.NewYOLODetector(detection.YOLOConfig{
			Endpoint: endpoint,
			Timeout:  cfg.Timeout,
		})), nil
	case "onnx":
		d, err := detection.NewONNXDetector(detection.ONNXConfig{
			ModelPath:   cfg.ModelPath,
			LibraryPath: cfg.ONNXLibrary,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to load onnx detector: %w", err)
		}
		return NewONNXAdapter(d), nil
	default:
		return nil, fmt.Errorf("unknown detection backend %q", name)
	}
}

func splitBackends(s string) []string {
	var names []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
			names = append(names, part)
		}
	}
	return names
}
