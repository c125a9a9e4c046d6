// Package ingest is the facade the transports talk to: validate a report,
// apply it to the live state, fan the result out, and queue the mirror
// writes.
package ingest

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"ghostbus/internal/domain"
	"ghostbus/internal/fanout"
	"ghostbus/internal/metrics"
	"ghostbus/internal/pipeline"
	"ghostbus/internal/state"
)

type Service struct {
	store      *state.Store
	fanout     *fanout.Manager
	dispatcher *pipeline.Dispatcher
	log        *logrus.Logger

	// now is swappable so tests can pin the staleness clock.
	now func() time.Time
}

func NewService(
	store *state.Store,
	fan *fanout.Manager,
	dispatcher *pipeline.Dispatcher,
	log *logrus.Logger,
) *Service {
	return &Service{
		store:      store,
		fanout:     fan,
		dispatcher: dispatcher,
		log:        log,
		now:        time.Now,
	}
}

// SetClock replaces the wall clock. Test hook only.
func (s *Service) SetClock(now func() time.Time) {
	s.now = now
}

// Submit validates and applies one position report, broadcasts the resulting
// status to attached observers, and queues the durable mirrors. A rejected
// report never touches any state.
func (s *Service) Submit(ctx context.Context, r *domain.PositionReport) (*domain.VehicleStatus, error) {
	if err := r.Validate(); err != nil {
		metrics.ReportsRejected.Add(1)
		return nil, err
	}
	metrics.ReportsReceived.Add(1)

	// One captured now per report keeps the staleness rule deterministic
	// within this invocation.
	now := float64(s.now().UnixNano()) / float64(time.Second)

	status := s.store.Apply(r, now)
	if status.IsGhost {
		metrics.GhostsDetected.Add(1)
		s.log.WithFields(logrus.Fields{
			"vehicle_id": status.ID,
			"route_id":   status.RouteID,
			"anomalies":  status.Anomalies,
			"severity":   status.Severity,
		}).Info("ghost vehicle detected")
	}

	s.fanout.Broadcast(status)
	s.dispatcher.Dispatch(status)
	return status, nil
}

// Get returns the latest status for one vehicle.
func (s *Service) Get(id string) (*domain.VehicleStatus, error) {
	return s.store.Get(id)
}

// All returns the latest status of every known vehicle.
func (s *Service) All() []*domain.VehicleStatus {
	return s.store.All()
}

// Stats summarizes one vehicle's tracked history.
func (s *Service) Stats(id string) (*state.VehicleStats, error) {
	return s.store.Stats(id)
}
