// Package rates tracks per-service failure timestamps over a sliding
// window and reports a per-minute error rate.
package rates

import (
	"sync"
	"time"
)

// DefaultWindow matches the 5-minute window the metrics loop evaluates.
const DefaultWindow = 5 * time.Minute

// Tracker records failure timestamps per service id. Rate prunes entries
// older than the window and recomputes from scratch; windows stay small
// enough that the linear scan does not matter.
type Tracker struct {
	mu       sync.Mutex
	window   time.Duration
	failures map[string][]time.Time
	now      func() time.Time
}

func NewTracker(window time.Duration) *Tracker {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{
		window:   window,
		failures: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// RecordFailure notes one terminal probe failure for the service.
func (t *Tracker) RecordFailure(serviceID string) {
	t.mu.Lock()
	t.failures[serviceID] = append(t.failures[serviceID], t.now())
	t.mu.Unlock()
}

// Rate returns failures-per-minute over the window. A timestamp exactly
// window old still counts; one beyond it is discarded.
func (t *Tracker) Rate(serviceID string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	kept := t.failures[serviceID][:0]
	for _, ts := range t.failures[serviceID] {
		if now.Sub(ts) <= t.window {
			kept = append(kept, ts)
		}
	}
	t.failures[serviceID] = kept

	return float64(len(kept)) / t.window.Minutes()
}
