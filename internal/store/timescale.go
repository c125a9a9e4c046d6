package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ghostbus/internal/config"
	"ghostbus/internal/domain"
)

// TimescaleStore keeps a durable log of anomaly events and classified
// statuses. Like Redis it is a mirror: write failures degrade, they never
// block or fail classification. A nil *TimescaleStore is a no-op.
type TimescaleStore struct {
	pool *pgxpool.Pool
}

func NewTimescaleStore(ctx context.Context, cfg *config.Config) (*TimescaleStore, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?pool_max_conns=%d",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBMaxConns,
	)

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	return &TimescaleStore{pool: pool}, nil
}

func (s *TimescaleStore) Close() {
	if s == nil {
		return
	}
	s.pool.Close()
}

func (s *TimescaleStore) Ping(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("timescale not configured")
	}
	return s.pool.Ping(ctx)
}

var statusLogColumns = []string{
	"received_at",
	"vehicle_id",
	"route_id",
	"latitude",
	"longitude",
	"speed",
	"reported_at",
	"is_ghost",
	"severity",
}

// BatchInsertStatuses appends classified statuses to the status log via COPY.
func (s *TimescaleStore) BatchInsertStatuses(ctx context.Context, statuses []*domain.VehicleStatus) error {
	if s == nil || len(statuses) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(statuses))
	for i, st := range statuses {
		var speed interface{}
		if st.Speed != nil {
			speed = *st.Speed
		}
		rows[i] = []interface{}{
			st.ReceivedAt,
			st.ID,
			st.RouteID,
			st.Latitude,
			st.Longitude,
			speed,
			st.Timestamp,
			st.IsGhost,
			string(st.Severity),
		}
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"vehicle_status_log"},
		statusLogColumns,
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("CopyFrom failed for batch of %d: %w", len(statuses), err)
	}

	return nil
}

// InsertAnomaly records one fired anomaly tag for a vehicle.
func (s *TimescaleStore) InsertAnomaly(
	ctx context.Context,
	vehicleID string,
	routeID string,
	tag domain.AnomalyType,
	severity domain.Severity,
) error {
	if s == nil {
		return nil
	}
	query := `
		INSERT INTO vehicle_anomalies
			(vehicle_id, route_id, anomaly_type, severity, created_at)
		VALUES
			($1, $2, $3, $4, NOW())
		ON CONFLICT DO NOTHING
	`
	_, err := s.pool.Exec(
		ctx,
		query,
		vehicleID,
		routeID,
		string(tag),
		string(severity),
	)
	return err
}
