package imagegate

import (
	"sync"
	"time"
)

const (
	healthFailureThreshold = 3
	healthFailureWindow    = 5 * time.Minute
	healthUnhealthyPeriod  = 30 * time.Second
)

// HealthState describes the observed health of the upstream provider.
type HealthState int

const (
	HealthHealthy HealthState = iota
	HealthUnhealthy
	HealthHalfOpen
)

func (h HealthState) String() string {
	switch h {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	case HealthHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// UpstreamHealth tracks upstream failures in a sliding window. It is
// surfaced on the monitoring endpoint for observability and never gates
// requests.
type UpstreamHealth struct {
	mu          sync.Mutex
	state       HealthState
	failures    []time.Time
	unhealthyAt time.Time
}

// NewUpstreamHealth creates a healthy tracker.
func NewUpstreamHealth() *UpstreamHealth {
	return &UpstreamHealth{state: HealthHealthy}
}

// State returns the current health state, transitioning unhealthy to
// half-open once the unhealthy period has elapsed.
func (h *UpstreamHealth) State() HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == HealthUnhealthy && time.Since(h.unhealthyAt) >= healthUnhealthyPeriod {
		h.state = HealthHalfOpen
	}
	return h.state
}

// RecordSuccess marks the upstream healthy and clears the failure window.
func (h *UpstreamHealth) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.state = HealthHealthy
	h.failures = h.failures[:0]
}

// RecordFailure adds a failure to the sliding window and flips to
// unhealthy once the threshold is crossed.
func (h *UpstreamHealth) RecordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == HealthUnhealthy {
		return
	}

	now := time.Now()
	cutoff := now.Add(-healthFailureWindow)
	valid := h.failures[:0]
	for _, t := range h.failures {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	h.failures = append(valid, now)

	if len(h.failures) >= healthFailureThreshold {
		h.state = HealthUnhealthy
		h.unhealthyAt = now
	}
}
