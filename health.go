package tutorgate

import (
	"sync"
	"time"
)

const (
	healthFailureThreshold = 3
	healthFailureWindow    = 5 * time.Minute
	healthUnhealthyPeriod  = 30 * time.Second
)

// HealthState describes the health of a chain link.
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

// HealthTracker tracks per-link health using a circuit breaker pattern.
// Policies use it to demote links that keep failing.
type HealthTracker struct {
	mu    sync.Mutex
	links map[string]*linkHealth
	now   func() time.Time
}

type linkHealth struct {
	state       HealthState
	failures    []time.Time // sliding window of failure timestamps
	unhealthyAt time.Time
}

// HealthOption configures a HealthTracker.
type HealthOption func(*HealthTracker)

// WithHealthClock overrides the clock used for failure windows and cool-downs.
func WithHealthClock(now func() time.Time) HealthOption {
	return func(h *HealthTracker) { h.now = now }
}

// NewHealthTracker creates a new HealthTracker.
func NewHealthTracker(opts ...HealthOption) *HealthTracker {
	h := &HealthTracker{
		links: make(map[string]*linkHealth),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// GetHealth returns the current health state for a link.
func (h *HealthTracker) GetHealth(name string) HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()

	lh, ok := h.links[name]
	if !ok {
		return HealthHealthy
	}

	// Unhealthy period elapsed: let one trial request through.
	if lh.state == HealthUnhealthy && h.now().Sub(lh.unhealthyAt) >= healthUnhealthyPeriod {
		lh.state = HealthHalfOpen
	}

	return lh.state
}

// RecordSuccess records a successful attempt for a link.
func (h *HealthTracker) RecordSuccess(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	lh := h.getOrCreate(name)
	lh.state = HealthHealthy
	lh.failures = lh.failures[:0]
}

// RecordFailure records a failed attempt for a link.
func (h *HealthTracker) RecordFailure(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	lh := h.getOrCreate(name)
	now := h.now()

	if lh.state == HealthHalfOpen {
		lh.state = HealthUnhealthy
		lh.unhealthyAt = now
		return
	}
	if lh.state == HealthUnhealthy {
		return
	}

	cutoff := now.Add(-healthFailureWindow)
	valid := lh.failures[:0]
	for _, t := range lh.failures {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	lh.failures = append(valid, now)

	if len(lh.failures) >= healthFailureThreshold {
		lh.state = HealthUnhealthy
		lh.unhealthyAt = now
	}
}

func (h *HealthTracker) getOrCreate(name string) *linkHealth {
	lh, ok := h.links[name]
	if !ok {
		lh = &linkHealth{state: HealthHealthy}
		h.links[name] = lh
	}
	return lh
}
