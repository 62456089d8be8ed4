package monitor

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

const (
	// MinDistance and MaxDistance bound the sensor's usable range in cm.
	MinDistance = 0.0
	MaxDistance = 400.0

	// DefaultHistoryCapacity is the number of accepted samples kept for the
	// rolling min/max/avg.
	DefaultHistoryCapacity = 100
)

// InRange reports whether cm lies in [MinDistance, MaxDistance]. NaN is out
// of range.
func InRange(cm float64) bool {
	return cm >= MinDistance && cm <= MaxDistance
}

// DistanceTracker holds the current distance and a bounded FIFO of accepted
// samples. It is not safe for concurrent use; the Controller serialises
// access.
type DistanceTracker struct {
	capacity int
	current  float64
	ring     []float64
	head     int // index of the oldest sample
	size     int
	total    uint64
}

// NewDistanceTracker returns an empty tracker. A capacity <= 0 uses
// DefaultHistoryCapacity.
func NewDistanceTracker(capacity int) *DistanceTracker {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &DistanceTracker{
		capacity: capacity,
		ring:     make([]float64, capacity),
	}
}

// Record accepts cm if it is in range, making it the current distance and
// appending it to the history (evicting the oldest sample when full).
// Out-of-range values leave the tracker untouched and return false.
func (t *DistanceTracker) Record(cm float64) bool {
	if !InRange(cm) {
		return false
	}
	if t.size < t.capacity {
		t.ring[(t.head+t.size)%t.capacity] = cm
		t.size++
	} else {
		t.ring[t.head] = cm
		t.head = (t.head + 1) % t.capacity
	}
	t.current = cm
	t.total++
	return true
}

// Current returns the latest accepted distance, or 0 when none.
func (t *DistanceTracker) Current() float64 { return t.current }

// HasCurrent reports whether a non-zero current distance exists.
func (t *DistanceTracker) HasCurrent() bool { return t.current > 0 }

// Len returns the number of samples in the history.
func (t *DistanceTracker) Len() int { return t.size }

// History returns the samples oldest first.
func (t *DistanceTracker) History() []float64 {
	out := make([]float64, t.size)
	for i := range out {
		out[i] = t.ring[(t.head+i)%t.capacity]
	}
	return out
}

// Reset clears the history and zeroes the current distance.
func (t *DistanceTracker) Reset() {
	clear(t.ring)
	t.head, t.size = 0, 0
	t.current = 0
	t.total = 0
}

// Snapshot returns an immutable copy of the tracker state with derived
// statistics.
func (t *DistanceTracker) Snapshot() DistanceSnapshot {
	history := t.History()
	snap := DistanceSnapshot{
		Current:  t.current,
		History:  history,
		Capacity: t.capacity,
		Accepted: t.total,
	}
	if len(history) > 0 {
		mean, std := stat.MeanStdDev(history, nil)
		if len(history) < 2 {
			std = 0
		}
		snap.Stats = &HistoryStats{
			Count:  len(history),
			Min:    floats.Min(history),
			Max:    floats.Max(history),
			Avg:    mean,
			StdDev: std,
		}
	}
	return snap
}

// HistoryStats are derived from the history window. They are absent from a
// snapshot when the history is empty.
type HistoryStats struct {
	Count  int     `json:"count"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Avg    float64 `json:"avg"`
	StdDev float64 `json:"std_dev"`
}

// DistanceSnapshot is a read-only view of the distance state.
type DistanceSnapshot struct {
	Current  float64       `json:"current"`
	History  []float64     `json:"history"`
	Capacity int           `json:"capacity"`
	Accepted uint64        `json:"accepted"`
	Stats    *HistoryStats `json:"stats"`
}

// Average returns the history mean, or false when it is unavailable.
func (s DistanceSnapshot) Average() (float64, bool) {
	if s.Stats == nil {
		return 0, false
	}
	return s.Stats.Avg, true
}
