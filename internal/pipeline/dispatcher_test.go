package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ghostbus/internal/domain"
	"ghostbus/internal/metrics"
)

func ghostStatus(id string) *domain.VehicleStatus {
	return domain.NewStatus(&domain.PositionReport{
		ID: id, Latitude: 39.7, Longitude: -104.99, RouteID: "R1", Timestamp: 1000,
	}, []domain.AnomalyType{domain.AnomalyStaleData}, 2000)
}

func healthyStatus(id string) *domain.VehicleStatus {
	return domain.NewStatus(&domain.PositionReport{
		ID: id, Latitude: 39.7, Longitude: -104.99, RouteID: "R1", Timestamp: 1000,
	}, nil, 1000)
}

func TestDispatch_HealthyStatusSkipsAlertChannel(t *testing.T) {
	d := NewDispatcher(4, 4)
	d.Dispatch(healthyStatus("B1"))

	select {
	case s := <-d.MirrorChan:
		assert.Equal(t, "B1", s.ID)
	default:
		t.Fatal("status missing from mirror channel")
	}
	select {
	case s := <-d.AlertChan:
		t.Fatalf("healthy status on alert channel: %v", s.ID)
	default:
	}
}

func TestDispatch_GhostStatusReachesBothChannels(t *testing.T) {
	d := NewDispatcher(4, 4)
	d.Dispatch(ghostStatus("B1"))

	require.Len(t, d.MirrorChan, 1)
	require.Len(t, d.AlertChan, 1)
}

func TestDispatch_FullChannelDropsInsteadOfBlocking(t *testing.T) {
	d := NewDispatcher(1, 1)

	mirrorDropsBefore := metrics.MirrorChannelDrops.Load()
	alertDropsBefore := metrics.AlertChannelDrops.Load()

	d.Dispatch(ghostStatus("B1"))
	d.Dispatch(ghostStatus("B2")) // both channels already full

	assert.Equal(t, mirrorDropsBefore+1, metrics.MirrorChannelDrops.Load())
	assert.Equal(t, alertDropsBefore+1, metrics.AlertChannelDrops.Load())
	assert.Len(t, d.MirrorChan, 1)
	assert.Len(t, d.AlertChan, 1)
}
