package llm

import (
	"sync"
)

// HealthState classifies a provider from its recent success ratio
type HealthState string

const (
	HealthHealthy  HealthState = "healthy"
	HealthDegraded HealthState = "degraded"
	HealthBroken   HealthState = "broken"
)

const healthWindow = 20

// healthTracker keeps a sliding window of call outcomes per provider
type healthTracker struct {
	mu      sync.Mutex
	windows map[string][]bool
}

func newHealthTracker() *healthTracker {
	return &healthTracker{windows: map[string][]bool{}}
}

// Record appends one call outcome for provider
func (h *healthTracker) Record(provider string, success bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	window := append(h.windows[provider], success)
	if len(window) > healthWindow {
		window = window[len(window)-healthWindow:]
	}
	h.windows[provider] = window
}

// State classifies provider health. Fewer than five observations always
// reads healthy; there is not enough signal to demote yet.
func (h *healthTracker) State(provider string) HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()
	window := h.windows[provider]
	if len(window) < 5 {
		return HealthHealthy
	}
	var successes int
	for _, ok := range window {
		if ok {
			successes++
		}
	}
	ratio := float64(successes) / float64(len(window))
	switch {
	case ratio >= 0.8:
		return HealthHealthy
	case ratio >= 0.4:
		return HealthDegraded
	default:
		return HealthBroken
	}
}
