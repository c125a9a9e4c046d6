package geo

import (
	"math"
	"testing"
)

func TestDistance_IdenticalPointsIsZero(t *testing.T) {
	points := [][2]float64{
		{0, 0},
		{39.7392, -104.9903},
		{-33.8688, 151.2093},
		{89.9, 179.9},
	}
	for _, p := range points {
		if d := Distance(p[0], p[1], p[0], p[1]); d != 0 {
			t.Errorf("Distance(p,p) for (%v,%v): got %v, want 0", p[0], p[1], d)
		}
	}
}

func TestDistance_Symmetric(t *testing.T) {
	tests := []struct {
		name                   string
		lat1, lon1, lat2, lon2 float64
	}{
		{"denver to boulder", 39.7392, -104.9903, 40.0150, -105.2705},
		{"across equator", -1.0, 30.0, 1.0, 30.0},
		{"across antimeridian", 10.0, 179.5, 10.0, -179.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ab := Distance(tt.lat1, tt.lon1, tt.lat2, tt.lon2)
			ba := Distance(tt.lat2, tt.lon2, tt.lat1, tt.lon1)
			if math.Abs(ab-ba) > 1e-9 {
				t.Errorf("asymmetric: ab=%v ba=%v", ab, ba)
			}
		})
	}
}

func TestDistance_KnownValue(t *testing.T) {
	// Denver Union Station to the Capitol is roughly 2.2 km.
	d := Distance(39.7530, -105.0002, 39.7393, -104.9848)
	if d < 2000 || d > 2500 {
		t.Errorf("got %v m, want roughly 2200 m", d)
	}
}

func TestDistance_OneDegreeLatitude(t *testing.T) {
	// One degree of latitude is about 111.19 km on a 6371 km sphere.
	d := Distance(39.0, -105.0, 40.0, -105.0)
	if math.Abs(d-111195) > 100 {
		t.Errorf("got %v m, want ~111195 m", d)
	}
}

func TestBoundingBox_Contains(t *testing.T) {
	box := BoundingBox{MinLat: 37.0, MaxLat: 41.0, MinLon: -109.0, MaxLon: -102.0}

	tests := []struct {
		name     string
		lat, lon float64
		want     bool
	}{
		{"denver inside", 39.0, -105.0, true},
		{"north of box", 45.0, -105.0, false},
		{"west of box", 39.0, -110.0, false},
		{"southwest corner inclusive", 37.0, -109.0, true},
		{"northeast corner inclusive", 41.0, -102.0, true},
		{"just past north edge", 41.0001, -105.0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := box.Contains(tt.lat, tt.lon); got != tt.want {
				t.Errorf("Contains(%v, %v) = %v, want %v", tt.lat, tt.lon, got, tt.want)
			}
		})
	}
}
