// Package detect implements the ghost-bus anomaly rules. Evaluation is a pure
// function of the report, the vehicle's already-updated history window, and a
// single captured wall-clock instant; recording the sample happens elsewhere.
package detect

import (
	"ghostbus/internal/domain"
	"ghostbus/internal/geo"
	"ghostbus/internal/history"
)

// Thresholds tune the individual rules. Zero values are replaced by
// DefaultThresholds in NewDetector.
type Thresholds struct {
	// StaleSeconds is the max tolerated age of a producer timestamp.
	StaleSeconds float64
	// StationarySeconds is the min time span of a near-zero-movement run.
	StationarySeconds float64
	// StationaryDistanceM is the max cumulative movement of that run.
	StationaryDistanceM float64
	// SpikeFactor and DropFactor are multiples of the prior mean speed.
	SpikeFactor float64
	DropFactor  float64
	// DropMinMean suppresses the drop rule for slow-moving vehicles.
	DropMinMean float64
	// MinSpeedSamples is the min speed-bearing window size for speed rules.
	MinSpeedSamples int
	// Geofence is the coarse service-area box.
	Geofence geo.BoundingBox
}

// DefaultThresholds matches the Denver-area deployment.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StaleSeconds:        120,
		StationarySeconds:   60,
		StationaryDistanceM: 20,
		SpikeFactor:         3,
		DropFactor:          0.3,
		DropMinMean:         10,
		MinSpeedSamples:     5,
		Geofence: geo.BoundingBox{
			MinLat: 37.0, MaxLat: 41.0,
			MinLon: -109.0, MaxLon: -102.0,
		},
	}
}

type Detector struct {
	t Thresholds
}

func NewDetector(t Thresholds) *Detector {
	def := DefaultThresholds()
	if t.StaleSeconds <= 0 {
		t.StaleSeconds = def.StaleSeconds
	}
	if t.StationarySeconds <= 0 {
		t.StationarySeconds = def.StationarySeconds
	}
	if t.StationaryDistanceM <= 0 {
		t.StationaryDistanceM = def.StationaryDistanceM
	}
	if t.SpikeFactor <= 0 {
		t.SpikeFactor = def.SpikeFactor
	}
	if t.DropFactor <= 0 {
		t.DropFactor = def.DropFactor
	}
	if t.DropMinMean <= 0 {
		t.DropMinMean = def.DropMinMean
	}
	if t.MinSpeedSamples <= 0 {
		t.MinSpeedSamples = def.MinSpeedSamples
	}
	if t.Geofence == (geo.BoundingBox{}) {
		t.Geofence = def.Geofence
	}
	return &Detector{t: t}
}

// Evaluate runs every rule against the report and its window. All rules run
// on every report, so a single report can carry several tags. now is wall
// clock unix seconds captured once per report.
func (d *Detector) Evaluate(r *domain.PositionReport, w *history.Window, now float64) []domain.AnomalyType {
	var tags []domain.AnomalyType

	if d.isStale(r, now) {
		tags = append(tags, domain.AnomalyStaleData)
	}
	if d.isStationary(w) {
		tags = append(tags, domain.AnomalyStationaryNonStop)
	}
	if t, ok := d.speedAnomaly(r, w); ok {
		tags = append(tags, t)
	}
	if !d.t.Geofence.Contains(r.Latitude, r.Longitude) {
		tags = append(tags, domain.AnomalyOffRoute)
	}

	return tags
}

func (d *Detector) isStale(r *domain.PositionReport, now float64) bool {
	return now-r.Timestamp > d.t.StaleSeconds
}

// isStationary checks the last few samples for a near-zero-movement run that
// outlasts the stationary threshold. Proximity to a real stop is not
// consulted; the rule fires on the distance/time condition alone, and callers
// needing stop-awareness must intersect with the reference data themselves.
func (d *Detector) isStationary(w *history.Window) bool {
	if w.Len() < 3 {
		return false
	}
	recent := w.Last(5)
	if len(recent) < 3 {
		return false
	}
	return history.PathDistance(recent) < d.t.StationaryDistanceM &&
		history.TimeSpan(recent) > d.t.StationarySeconds
}

// speedAnomaly compares the current speed against the mean of the speeds the
// vehicle reported before this sample. A report without a speed is exempt.
func (d *Detector) speedAnomaly(r *domain.PositionReport, w *history.Window) (domain.AnomalyType, bool) {
	if r.Speed == nil {
		return "", false
	}
	if w.SpeedCount() < d.t.MinSpeedSamples {
		return "", false
	}
	mean, ok := w.PriorMeanSpeed()
	if !ok {
		return "", false
	}
	current := *r.Speed

	if mean > 0 && current > mean*d.t.SpikeFactor {
		return domain.AnomalySpeedSpike, true
	}
	if mean > d.t.DropMinMean && current < mean*d.t.DropFactor {
		return domain.AnomalySpeedDrop, true
	}
	return "", false
}
