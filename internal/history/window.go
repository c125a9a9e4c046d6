// Package history keeps the bounded per-vehicle sample window the anomaly
// rules are evaluated against.
package history

import "ghostbus/internal/geo"

// DefaultCapacity is the number of samples retained per vehicle.
const DefaultCapacity = 60

// Sample is a trimmed projection of a position report kept for windowed
// analysis. Speed is nil when the report carried none.
type Sample struct {
	Latitude  float64
	Longitude float64
	Timestamp float64
	Speed     *float64
}

// Window is a capacity-bounded FIFO of samples, most recent last. Samples are
// stored in arrival order; producers are not trusted to be monotonic, so
// out-of-order timestamps are kept as-is. A Window is not safe for concurrent
// use; the state store serializes access per vehicle.
type Window struct {
	samples  []Sample
	capacity int
}

// NewWindow returns an empty window. A non-positive capacity falls back to
// DefaultCapacity.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{
		samples:  make([]Sample, 0, capacity),
		capacity: capacity,
	}
}

// Record appends a sample, evicting from the front once capacity is exceeded.
func (w *Window) Record(s Sample) {
	w.samples = append(w.samples, s)
	if len(w.samples) > w.capacity {
		excess := len(w.samples) - w.capacity
		w.samples = append(w.samples[:0], w.samples[excess:]...)
	}
}

func (w *Window) Len() int {
	return len(w.samples)
}

// Samples returns the retained samples in arrival order. The slice is shared;
// callers must not mutate it.
func (w *Window) Samples() []Sample {
	return w.samples
}

// Last returns the most recent n samples (fewer if the window is shorter).
func (w *Window) Last(n int) []Sample {
	if n >= len(w.samples) {
		return w.samples
	}
	return w.samples[len(w.samples)-n:]
}

// SpeedCount returns the number of retained samples that carry a speed.
func (w *Window) SpeedCount() int {
	n := 0
	for _, s := range w.samples {
		if s.Speed != nil {
			n++
		}
	}
	return n
}

// PriorMeanSpeed returns the mean over the speed-bearing samples preceding
// the most recent one, and whether any such sample exists. The newest sample
// is excluded so a spike is judged against the vehicle's established pace.
func (w *Window) PriorMeanSpeed() (float64, bool) {
	if len(w.samples) < 2 {
		return 0, false
	}
	sum, n := 0.0, 0
	for _, s := range w.samples[:len(w.samples)-1] {
		if s.Speed != nil {
			sum += *s.Speed
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// MeanSpeed returns the mean over every speed-bearing sample in the window,
// and whether any such sample exists.
func (w *Window) MeanSpeed() (float64, bool) {
	sum, n := 0.0, 0
	for _, s := range w.samples {
		if s.Speed != nil {
			sum += *s.Speed
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// PathDistance returns the cumulative distance traveled over the whole
// window.
func (w *Window) PathDistance() float64 {
	return PathDistance(w.samples)
}

// PathDistance returns the cumulative haversine distance in meters over
// consecutive pairs of the given samples.
func PathDistance(samples []Sample) float64 {
	total := 0.0
	for i := 1; i < len(samples); i++ {
		total += geo.Distance(
			samples[i-1].Latitude, samples[i-1].Longitude,
			samples[i].Latitude, samples[i].Longitude,
		)
	}
	return total
}

// TimeSpan returns the seconds between the first and last of the given
// samples, zero for fewer than two.
func TimeSpan(samples []Sample) float64 {
	if len(samples) < 2 {
		return 0
	}
	return samples[len(samples)-1].Timestamp - samples[0].Timestamp
}
