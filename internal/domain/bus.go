package domain

// PositionReport is a single inbound vehicle position update. Timestamps are
// producer-supplied unix seconds and may be stale or skewed; Speed and Bearing
// are optional because not every feed carries them.
type PositionReport struct {
	ID        string   `json:"id"`
	Latitude  float64  `json:"lat"`
	Longitude float64  `json:"lon"`
	RouteID   string   `json:"route_id"`
	Speed     *float64 `json:"speed,omitempty"`
	Bearing   *float64 `json:"bearing,omitempty"`
	Timestamp float64  `json:"timestamp"`
	TripID    string   `json:"trip_id,omitempty"`
}

type LifecycleStatus string

const (
	StatusActive LifecycleStatus = "active"
	StatusGhost  LifecycleStatus = "ghost"
)

// VehicleStatus is the latest report for a vehicle enriched with the
// classification result. Instances are immutable once built; the state store
// replaces the whole status on every apply.
type VehicleStatus struct {
	ID        string   `json:"id"`
	Latitude  float64  `json:"lat"`
	Longitude float64  `json:"lon"`
	RouteID   string   `json:"route_id"`
	Speed     *float64 `json:"speed,omitempty"`
	Bearing   *float64 `json:"bearing,omitempty"`
	Timestamp float64  `json:"timestamp"`
	TripID    string   `json:"trip_id,omitempty"`

	IsGhost   bool            `json:"is_ghost"`
	Anomalies []AnomalyType   `json:"anomaly_types"`
	Severity  Severity        `json:"severity"`
	Status    LifecycleStatus `json:"status"`

	// ReceivedAt is server wall-clock unix seconds at classification time,
	// kept separate from the untrusted producer timestamp.
	ReceivedAt float64 `json:"received_at"`
}

type AnomalyType string

const (
	AnomalyStaleData         AnomalyType = "stale_data"
	AnomalyStationaryNonStop AnomalyType = "stationary_non_stop"
	AnomalySpeedSpike        AnomalyType = "speed_spike"
	AnomalySpeedDrop         AnomalyType = "speed_drop"
	AnomalyOffRoute          AnomalyType = "off_route"
)

type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

var criticalAnomalies = map[AnomalyType]bool{
	AnomalyStaleData: true,
	AnomalyOffRoute:  true,
}

var warningAnomalies = map[AnomalyType]bool{
	AnomalyStationaryNonStop: true,
	AnomalySpeedSpike:        true,
	AnomalySpeedDrop:         true,
}

// ClassifySeverity maps a tag set to its severity. Critical tags dominate
// warning tags; an empty set is info.
func ClassifySeverity(anomalies []AnomalyType) Severity {
	if len(anomalies) == 0 {
		return SeverityInfo
	}
	for _, a := range anomalies {
		if criticalAnomalies[a] {
			return SeverityCritical
		}
	}
	for _, a := range anomalies {
		if warningAnomalies[a] {
			return SeverityWarning
		}
	}
	return SeverityInfo
}

// NewStatus builds the enriched status for a report and its classification.
func NewStatus(r *PositionReport, anomalies []AnomalyType, now float64) *VehicleStatus {
	s := &VehicleStatus{
		ID:         r.ID,
		Latitude:   r.Latitude,
		Longitude:  r.Longitude,
		RouteID:    r.RouteID,
		Speed:      r.Speed,
		Bearing:    r.Bearing,
		Timestamp:  r.Timestamp,
		TripID:     r.TripID,
		IsGhost:    len(anomalies) > 0,
		Anomalies:  anomalies,
		Severity:   ClassifySeverity(anomalies),
		Status:     StatusActive,
		ReceivedAt: now,
	}
	if s.Anomalies == nil {
		s.Anomalies = []AnomalyType{}
	}
	if s.IsGhost {
		s.Status = StatusGhost
	}
	return s
}
