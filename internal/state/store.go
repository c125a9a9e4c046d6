// Package state holds the authoritative vehicle id → status mapping. The map
// is sharded so unrelated vehicles never contend, while applies for the same
// vehicle are serialized on a per-entry mutex.
package state

import (
	"hash/fnv"
	"sync"

	"ghostbus/internal/detect"
	"ghostbus/internal/domain"
	"ghostbus/internal/history"
)

const shardCount = 32

type entry struct {
	mu     sync.Mutex
	window *history.Window
	status *domain.VehicleStatus
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// Store owns every vehicle's history window and latest status. Statuses are
// immutable once built and replaced wholesale, so readers always see a fully
// classified status, never a half-updated one.
type Store struct {
	shards         [shardCount]*shard
	detector       *detect.Detector
	windowCapacity int
}

func NewStore(detector *detect.Detector, windowCapacity int) *Store {
	s := &Store{
		detector:       detector,
		windowCapacity: windowCapacity,
	}
	for i := range s.shards {
		s.shards[i] = &shard{entries: make(map[string]*entry)}
	}
	return s
}

func (s *Store) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return s.shards[h.Sum32()%shardCount]
}

func (s *Store) entryFor(id string) *entry {
	sh := s.shardFor(id)

	sh.mu.RLock()
	e, ok := sh.entries[id]
	sh.mu.RUnlock()
	if ok {
		return e
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok = sh.entries[id]; ok {
		return e
	}
	e = &entry{window: history.NewWindow(s.windowCapacity)}
	sh.entries[id] = e
	return e
}

// Apply is the single write path: record the sample, run the rules against
// the updated window, classify, and replace the vehicle's status. Concurrent
// applies for the same id are serialized; different ids proceed in parallel.
// now is wall-clock unix seconds captured once by the caller.
func (s *Store) Apply(r *domain.PositionReport, now float64) *domain.VehicleStatus {
	e := s.entryFor(r.ID)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.window.Record(history.Sample{
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
		Timestamp: r.Timestamp,
		Speed:     r.Speed,
	})

	tags := s.detector.Evaluate(r, e.window, now)
	e.status = domain.NewStatus(r, tags, now)
	return e.status
}

// Get returns the latest status for a vehicle, or domain.ErrNotFound.
func (s *Store) Get(id string) (*domain.VehicleStatus, error) {
	sh := s.shardFor(id)

	sh.mu.RLock()
	e, ok := sh.entries[id]
	sh.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == nil {
		return nil, domain.ErrNotFound
	}
	return e.status, nil
}

// All returns every known status. Each status is internally consistent; the
// slice as a whole is a point-in-time view per entry.
func (s *Store) All() []*domain.VehicleStatus {
	var out []*domain.VehicleStatus
	for _, sh := range s.shards {
		sh.mu.RLock()
		entries := make([]*entry, 0, len(sh.entries))
		for _, e := range sh.entries {
			entries = append(entries, e)
		}
		sh.mu.RUnlock()

		for _, e := range entries {
			e.mu.Lock()
			if e.status != nil {
				out = append(out, e.status)
			}
			e.mu.Unlock()
		}
	}
	return out
}

// VehicleStats summarizes a vehicle's history window.
type VehicleStats struct {
	VehicleID        string   `json:"vehicle_id"`
	SampleCount      int      `json:"sample_count"`
	SpeedSampleCount int      `json:"speed_sample_count"`
	MeanSpeed        *float64 `json:"mean_speed"`
	PathDistanceM    float64  `json:"path_distance_m"`
}

// Stats aggregates over a vehicle's full window, or domain.ErrNotFound.
func (s *Store) Stats(id string) (*VehicleStats, error) {
	sh := s.shardFor(id)

	sh.mu.RLock()
	e, ok := sh.entries[id]
	sh.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.status == nil {
		return nil, domain.ErrNotFound
	}
	st := &VehicleStats{
		VehicleID:     id,
		SampleCount:   e.window.Len(),
		PathDistanceM: e.window.PathDistance(),
	}
	st.SpeedSampleCount = e.window.SpeedCount()
	if mean, ok := e.window.MeanSpeed(); ok {
		st.MeanSpeed = &mean
	}
	return st, nil
}

// Len returns the number of vehicles that have reported at least once.
func (s *Store) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// Reap removes vehicles not heard from since the horizon. The reference
// behavior never prunes; this is the documented retention extension and only
// runs when the operator enables a horizon.
func (s *Store) Reap(now, horizonSeconds float64) int {
	if horizonSeconds <= 0 {
		return 0
	}
	removed := 0
	cutoff := now - horizonSeconds
	for _, sh := range s.shards {
		sh.mu.Lock()
		for id, e := range sh.entries {
			e.mu.Lock()
			expired := e.status != nil && e.status.ReceivedAt < cutoff
			e.mu.Unlock()
			if expired {
				delete(sh.entries, id)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}
