package detectors

import (
	"context"
	"fmt"
	"log"
	"strings"

	"pantheravision/internal/pipeline"
)

// Failover tries the registered detectors in order and returns the first
// successful answer. Unhealthy detectors are skipped.
type Failover struct {
	registry *Registry
}

// NewFailover wraps a registry; the registry is closed with the failover
func NewFailover(r *Registry) *Failover {
	return &Failover{registry: r}
}

func (f *Failover) Name() string {
	return strings.Join(f.registry.Names(), ",")
}

// IsHealthy reports whether any detector is healthy
func (f *Failover) IsHealthy(ctx context.Context) bool {
	for _, d := range f.registry.GetAll() {
		if d.IsHealthy(ctx) {
			return true
		}
	}
	return false
}

func (f *Failover) Detect(ctx context.Context, frame *pipeline.Frame, params pipeline.DetectParams) ([]pipeline.Detection, error) {
	healthy := f.registry.GetHealthy(ctx)
	if len(healthy) == 0 {
		return nil, fmt.Errorf("no healthy detector among %s", f.Name())
	}

	var lastErr error
	for _, d := range healthy {
		dets, err := d.Detect(ctx, frame, params)
		if err == nil {
			return dets, nil
		}
		log.Printf("[Detectors] %s failed on frame %d, trying next: %v", d.Name(), frame.Seq, err)
		lastErr = err
	}
	return nil, lastErr
}

// Health reports each member's health
func (f *Failover) Health(ctx context.Context) map[string]bool {
	return f.registry.Health(ctx)
}

func (f *Failover) Close() error {
	return f.registry.Close()
}

var _ pipeline.Detector = (*Failover)(nil)
