package detectors

import (
	"context"
	"fmt"
	"sync"

	"pantheravision/internal/pipeline"
)

// Registry manages available detectors
type Registry struct {
	detectors map[string]pipeline.Detector
	order     []string
	mu        sync.RWMutex
}

// NewRegistry creates a new detector registry
func NewRegistry() *Registry {
	return &Registry{
		detectors: make(map[string]pipeline.Detector),
	}
}

// Register adds a detector to the registry
func (r *Registry) Register(detector pipeline.Detector) error {
	if detector == nil {
		return fmt.Errorf("detector cannot be nil")
	}

	name := detector.Name()
	if name == "" {
		return fmt.Errorf("detector name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.detectors[name]; exists {
		return fmt.Errorf("detector %q already registered", name)
	}

	r.detectors[name] = detector
	r.order = append(r.order, name)
	return nil
}

// Get returns a detector by name
func (r *Registry) Get(name string) (pipeline.Detector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.detectors[name]
	return d, ok
}

// GetAll returns all registered detectors in registration order
func (r *Registry) GetAll() []pipeline.Detector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]pipeline.Detector, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.detectors[name])
	}
	return result
}

// GetHealthy returns only healthy detectors, in registration order
func (r *Registry) GetHealthy(ctx context.Context) []pipeline.Detector {
	result := make([]pipeline.Detector, 0)
	for _, d := range r.GetAll() {
		if d.IsHealthy(ctx) {
			result = append(result, d)
		}
	}
	return result
}

// Health returns the health of every registered detector by name
func (r *Registry) Health(ctx context.Context) map[string]bool {
	health := make(map[string]bool)
	for _, d := range r.GetAll() {
		health[d.Name()] = d.IsHealthy(ctx)
	}
	return health
}

// Names returns the names of all registered detectors
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Len returns the number of registered detectors
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Close releases all detector resources
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for _, name := range r.order {
		if err := r.detectors[name].Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("error closing detector %q: %w", name, err)
		}
		delete(r.detectors, name)
	}
	r.order = nil
	return firstErr
}
