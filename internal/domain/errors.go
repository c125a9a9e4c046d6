package domain

import (
	"errors"
	"fmt"
	"math"
)

// ErrNotFound is returned by queries for a vehicle id that has never reported.
var ErrNotFound = errors.New("vehicle not found")

// ValidationError rejects a malformed inbound report before it reaches any
// state. It is distinct from core errors so transports can map it to a 4xx.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid report: %s %s", e.Field, e.Reason)
}

// Validate checks the required fields of an inbound report.
func (r *PositionReport) Validate() error {
	if r.ID == "" {
		return &ValidationError{Field: "id", Reason: "must not be empty"}
	}
	if r.RouteID == "" {
		return &ValidationError{Field: "route_id", Reason: "must not be empty"}
	}
	// NaN slips past range comparisons, so reject it explicitly. JSON
	// cannot carry it, but programmatic submitters can.
	if math.IsNaN(r.Latitude) || r.Latitude < -90 || r.Latitude > 90 {
		return &ValidationError{Field: "lat", Reason: "out of range [-90, 90]"}
	}
	if math.IsNaN(r.Longitude) || r.Longitude < -180 || r.Longitude > 180 {
		return &ValidationError{Field: "lon", Reason: "out of range [-180, 180]"}
	}
	return nil
}
