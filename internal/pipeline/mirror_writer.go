package pipeline

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"ghostbus/internal/domain"
	"ghostbus/internal/metrics"
	"ghostbus/internal/store"
)

// MirrorWriter drains classified statuses into the Redis mirror and the
// durable status log. Redis writes go out one pipeline per status since the
// keys differ per vehicle; the status log takes the whole batch in one COPY.
type MirrorWriter struct {
	ch    <-chan *domain.VehicleStatus
	redis *store.RedisStore
	db    *store.TimescaleStore
	log   *logrus.Logger
}

func NewMirrorWriter(
	ch <-chan *domain.VehicleStatus,
	redis *store.RedisStore,
	db *store.TimescaleStore,
	log *logrus.Logger,
) *MirrorWriter {
	return &MirrorWriter{ch: ch, redis: redis, db: db, log: log}
}

func (w *MirrorWriter) Run(ctx context.Context) {
	batch := make([]*domain.VehicleStatus, 0, 100)
	ticker := time.NewTicker(50 * time.Millisecond) // keeps the dashboard near-real-time
	defer ticker.Stop()

	for {
		select {
		case status, ok := <-w.ch:
			if !ok {
				w.flush(ctx, batch)
				return
			}
			batch = append(batch, status)
			if len(batch) >= 100 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			w.flush(context.Background(), batch)
			return
		}
	}
}

func (w *MirrorWriter) flush(ctx context.Context, batch []*domain.VehicleStatus) {
	for _, status := range batch {
		if err := w.redis.MirrorStatus(ctx, status); err != nil {
			metrics.MirrorWriteErrors.Add(1)
			w.log.WithFields(logrus.Fields{
				"vehicle_id": status.ID,
				"error":      err,
			}).Warn("redis mirror update failed")
		}
	}

	if len(batch) == 0 {
		return
	}
	if err := w.db.BatchInsertStatuses(ctx, batch); err != nil {
		metrics.DBWriteFailures.Add(1)
		w.log.WithFields(logrus.Fields{
			"batch_size": len(batch),
			"error":      err,
		}).Warn("status log batch insert failed")
		return
	}
	metrics.DBWriteSuccess.Add(1)
}
