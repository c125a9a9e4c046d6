package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"

	"ghostbus/internal/domain"
	"ghostbus/internal/metrics"
	"ghostbus/internal/store"
)

// AnomalyWriter persists fired anomaly tags and publishes ghost alerts.
// A Redis dedup key keeps a flapping vehicle from flooding the alert log.
type AnomalyWriter struct {
	ch    <-chan *domain.VehicleStatus
	db    *store.TimescaleStore
	redis *store.RedisStore
	log   *logrus.Logger
}

func NewAnomalyWriter(
	ch <-chan *domain.VehicleStatus,
	db *store.TimescaleStore,
	redis *store.RedisStore,
	log *logrus.Logger,
) *AnomalyWriter {
	return &AnomalyWriter{ch: ch, db: db, redis: redis, log: log}
}

func (w *AnomalyWriter) Run(ctx context.Context) {
	for {
		select {
		case status, ok := <-w.ch:
			if !ok {
				return
			}
			w.record(context.Background(), status)

		case <-ctx.Done():
			return
		}
	}
}

func (w *AnomalyWriter) record(ctx context.Context, status *domain.VehicleStatus) {
	for _, tag := range status.Anomalies {
		isDuplicate, err := w.redis.CheckAnomalyDedup(ctx, status.ID, tag)
		if err != nil {
			w.log.WithFields(logrus.Fields{
				"vehicle_id": status.ID,
				"tag":        tag,
				"error":      err,
			}).Warn("anomaly dedup check failed")
			continue
		}
		if isDuplicate {
			continue
		}

		if err := w.db.InsertAnomaly(ctx, status.ID, status.RouteID, tag, status.Severity); err != nil {
			metrics.DBWriteFailures.Add(1)
			w.log.WithFields(logrus.Fields{
				"vehicle_id": status.ID,
				"tag":        tag,
				"error":      err,
			}).Warn("anomaly insert failed")
			continue
		}
		metrics.DBWriteSuccess.Add(1)

		if err := w.redis.SetAnomalyDedup(ctx, status.ID, tag); err != nil {
			w.log.WithFields(logrus.Fields{
				"vehicle_id": status.ID,
				"tag":        tag,
				"error":      err,
			}).Warn("anomaly dedup set failed")
		}

		payload, _ := json.Marshal(map[string]interface{}{
			"vehicle_id":   status.ID,
			"route_id":     status.RouteID,
			"anomaly_type": string(tag),
			"severity":     string(status.Severity),
			"triggered_at": time.Now().Unix(),
		})
		if err := w.redis.PublishAlert(ctx, payload); err != nil {
			w.log.WithField("vehicle_id", status.ID).WithError(err).Warn("alert publish failed")
		}
	}
}
