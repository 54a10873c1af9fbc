package detection

import (
	"sync"
	"time"
)

const (
	healthTTL   = 30 * time.Second // How long a healthy answer is trusted
	healthRetry = 5 * time.Second  // How long an unhealthy answer is trusted
)

// healthCache remembers the last health probe so that the detection loop
// does not hit the service on every frame
type healthCache struct {
	mu      sync.RWMutex
	healthy bool
	checked time.Time
	now     func() time.Time
}

func newHealthCache() *healthCache {
	return &healthCache{now: time.Now}
}

// cached returns the last verdict and whether it is still fresh
func (h *healthCache) cached() (healthy, fresh bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.checked.IsZero() {
		return false, false
	}
	age := h.now().Sub(h.checked)
	if h.healthy {
		return true, age < healthTTL
	}
	return false, age < healthRetry
}

func (h *healthCache) set(healthy bool) {
	h.mu.Lock()
	h.healthy = healthy
	h.checked = h.now()
	h.mu.Unlock()
}
