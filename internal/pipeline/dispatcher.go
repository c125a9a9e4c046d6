package pipeline

import (
	"ghostbus/internal/domain"
	"ghostbus/internal/metrics"
)

// Dispatcher hands classified statuses to the mirror and alert workers over
// buffered channels. Sends never block: the external stores are mirrors, so
// when a channel is full the status is dropped and counted rather than
// stalling the classification path.
type Dispatcher struct {
	MirrorChan chan *domain.VehicleStatus
	AlertChan  chan *domain.VehicleStatus
}

func NewDispatcher(mirrorSize, alertSize int) *Dispatcher {
	return &Dispatcher{
		MirrorChan: make(chan *domain.VehicleStatus, mirrorSize),
		AlertChan:  make(chan *domain.VehicleStatus, alertSize),
	}
}

func (d *Dispatcher) Dispatch(status *domain.VehicleStatus) {
	select {
	case d.MirrorChan <- status:
	default:
		metrics.MirrorChannelDrops.Add(1)
	}

	if !status.IsGhost {
		return
	}
	select {
	case d.AlertChan <- status:
	default:
		metrics.AlertChannelDrops.Add(1)
	}
}
