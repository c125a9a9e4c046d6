// Package gtfs loads the static network reference data (routes, stops,
// trips, schedules) from a GTFS directory. The classifier does not depend on
// it; it exists so a stop-aware or route-conformance rule can be added
// without redesign.
package gtfs

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/sirupsen/logrus"
)

type Route struct {
	RouteID        string `json:"route_id"`
	RouteShortName string `json:"route_short_name"`
	RouteLongName  string `json:"route_long_name"`
	RouteType      int    `json:"route_type"`
	RouteColor     string `json:"route_color"`
	RouteTextColor string `json:"route_text_color"`
}

type Stop struct {
	StopID   string  `json:"stop_id"`
	StopName string  `json:"stop_name"`
	StopLat  float64 `json:"stop_lat"`
	StopLon  float64 `json:"stop_lon"`
	StopCode string  `json:"stop_code"`
}

type Trip struct {
	TripID       string `json:"trip_id"`
	RouteID      string `json:"route_id"`
	ServiceID    string `json:"service_id"`
	TripHeadsign string `json:"trip_headsign"`
	DirectionID  int    `json:"direction_id"`
	ShapeID      string `json:"shape_id"`
}

type StopTime struct {
	TripID        string `json:"trip_id"`
	ArrivalTime   string `json:"arrival_time"`
	DepartureTime string `json:"departure_time"`
	StopID        string `json:"stop_id"`
	StopSequence  int    `json:"stop_sequence"`
}

type ShapePoint struct {
	ShapeID    string  `json:"shape_id"`
	Lat        float64 `json:"shape_pt_lat"`
	Lon        float64 `json:"shape_pt_lon"`
	Sequence   int     `json:"shape_pt_sequence"`
	DistTravel float64 `json:"shape_dist_traveled"`
}

// Loader reads a GTFS file set once and serves it from memory. It is
// read-only after LoadAll, so accessors need no locking.
type Loader struct {
	dir string
	log *logrus.Logger

	routes       []Route
	routesByID   map[string]*Route
	stops        []Stop
	stopsByID    map[string]*Stop
	tripsByRoute map[string][]Trip
	timesByTrip  map[string][]StopTime
	shapesByID   map[string][]ShapePoint

	loaded bool
}

func NewLoader(dir string, log *logrus.Logger) *Loader {
	return &Loader{
		dir:          dir,
		log:          log,
		routesByID:   make(map[string]*Route),
		stopsByID:    make(map[string]*Stop),
		tripsByRoute: make(map[string][]Trip),
		timesByTrip:  make(map[string][]StopTime),
		shapesByID:   make(map[string][]ShapePoint),
	}
}

// LoadAll reads the required files (routes, stops, trips, stop_times) and the
// optional shapes file. Any error leaves the loader empty; the caller decides
// whether to run without reference data.
func (l *Loader) LoadAll() error {
	if l.dir == "" {
		return fmt.Errorf("gtfs directory not configured")
	}

	if err := l.loadRoutes(); err != nil {
		return fmt.Errorf("routes.txt: %w", err)
	}
	if err := l.loadStops(); err != nil {
		return fmt.Errorf("stops.txt: %w", err)
	}
	if err := l.loadTrips(); err != nil {
		return fmt.Errorf("trips.txt: %w", err)
	}
	if err := l.loadStopTimes(); err != nil {
		return fmt.Errorf("stop_times.txt: %w", err)
	}
	if err := l.loadShapes(); err != nil {
		// shapes.txt is optional
		l.log.WithError(err).Warn("shapes.txt not loaded")
	}

	l.loaded = true
	l.log.WithFields(logrus.Fields{
		"routes": len(l.routes),
		"stops":  len(l.stops),
		"shapes": len(l.shapesByID),
	}).Info("gtfs reference data loaded")
	return nil
}

func (l *Loader) Loaded() bool { return l.loaded }

func (l *Loader) Routes() []Route { return l.routes }

func (l *Loader) Stops() []Stop { return l.stops }

func (l *Loader) RouteByID(id string) (*Route, bool) {
	r, ok := l.routesByID[id]
	return r, ok
}

func (l *Loader) StopByID(id string) (*Stop, bool) {
	s, ok := l.stopsByID[id]
	return s, ok
}

func (l *Loader) TripsForRoute(routeID string) []Trip {
	return l.tripsByRoute[routeID]
}

// StopTimesForTrip returns the trip's schedule ordered by stop sequence.
func (l *Loader) StopTimesForTrip(tripID string) []StopTime {
	return l.timesByTrip[tripID]
}

// ShapePoints returns a shape's points ordered by point sequence.
func (l *Loader) ShapePoints(shapeID string) []ShapePoint {
	return l.shapesByID[shapeID]
}

// readFile streams a GTFS CSV and calls row for each record, keyed by header
// column name. Short rows are tolerated; GTFS feeds in the wild ragged-edge
// their optional columns.
func (l *Loader) readFile(name string, row func(get func(col string) string)) error {
	f, err := os.Open(filepath.Join(l.dir, name))
	if err != nil {
		return err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, col := range header {
		index[trimBOM(col)] = i
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read record: %w", err)
		}
		row(func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(record) {
				return ""
			}
			return record[i]
		})
	}
}

func (l *Loader) loadRoutes() error {
	err := l.readFile("routes.txt", func(get func(string) string) {
		l.routes = append(l.routes, Route{
			RouteID:        get("route_id"),
			RouteShortName: get("route_short_name"),
			RouteLongName:  get("route_long_name"),
			RouteType:      atoiOr(get("route_type"), 3),
			RouteColor:     defaultStr(get("route_color"), "FFFFFF"),
			RouteTextColor: defaultStr(get("route_text_color"), "000000"),
		})
	})
	if err != nil {
		return err
	}
	// Index after loading: appending invalidates element pointers.
	for i := range l.routes {
		l.routesByID[l.routes[i].RouteID] = &l.routes[i]
	}
	return nil
}

func (l *Loader) loadStops() error {
	err := l.readFile("stops.txt", func(get func(string) string) {
		l.stops = append(l.stops, Stop{
			StopID:   get("stop_id"),
			StopName: get("stop_name"),
			StopLat:  atofOr(get("stop_lat"), 0),
			StopLon:  atofOr(get("stop_lon"), 0),
			StopCode: get("stop_code"),
		})
	})
	if err != nil {
		return err
	}
	for i := range l.stops {
		l.stopsByID[l.stops[i].StopID] = &l.stops[i]
	}
	return nil
}

func (l *Loader) loadTrips() error {
	return l.readFile("trips.txt", func(get func(string) string) {
		t := Trip{
			TripID:       get("trip_id"),
			RouteID:      get("route_id"),
			ServiceID:    get("service_id"),
			TripHeadsign: get("trip_headsign"),
			DirectionID:  atoiOr(get("direction_id"), 0),
			ShapeID:      get("shape_id"),
		}
		l.tripsByRoute[t.RouteID] = append(l.tripsByRoute[t.RouteID], t)
	})
}

func (l *Loader) loadStopTimes() error {
	err := l.readFile("stop_times.txt", func(get func(string) string) {
		st := StopTime{
			TripID:        get("trip_id"),
			ArrivalTime:   get("arrival_time"),
			DepartureTime: get("departure_time"),
			StopID:        get("stop_id"),
			StopSequence:  atoiOr(get("stop_sequence"), 0),
		}
		l.timesByTrip[st.TripID] = append(l.timesByTrip[st.TripID], st)
	})
	if err != nil {
		return err
	}
	for _, times := range l.timesByTrip {
		sort.Slice(times, func(i, j int) bool {
			return times[i].StopSequence < times[j].StopSequence
		})
	}
	return nil
}

func (l *Loader) loadShapes() error {
	err := l.readFile("shapes.txt", func(get func(string) string) {
		p := ShapePoint{
			ShapeID:    get("shape_id"),
			Lat:        atofOr(get("shape_pt_lat"), 0),
			Lon:        atofOr(get("shape_pt_lon"), 0),
			Sequence:   atoiOr(get("shape_pt_sequence"), 0),
			DistTravel: atofOr(get("shape_dist_traveled"), 0),
		}
		l.shapesByID[p.ShapeID] = append(l.shapesByID[p.ShapeID], p)
	})
	if err != nil {
		return err
	}
	for _, points := range l.shapesByID {
		sort.Slice(points, func(i, j int) bool {
			return points[i].Sequence < points[j].Sequence
		})
	}
	return nil
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func atofOr(s string, fallback float64) float64 {
	if s == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fallback
	}
	return f
}

func defaultStr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func trimBOM(s string) string {
	if len(s) >= 3 && s[0] == 0xEF && s[1] == 0xBB && s[2] == 0xBF {
		return s[3:]
	}
	return s
}
