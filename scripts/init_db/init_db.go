package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found — using system environment variables")
	}

	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		dbGetEnv("DB_USER", "ghostbus_user"),
		dbGetEnv("DB_PASSWORD", "ghostbus_password"),
		dbGetEnv("DB_HOST", "localhost"),
		dbGetEnv("DB_PORT", "5432"),
		dbGetEnv("DB_NAME", "ghostbus"),
	)

	ctx := context.Background()

	fmt.Println("Connecting to TimescaleDB...")
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure TimescaleDB is running:\n  docker-compose up -d timescaledb", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	step1Extension(ctx, conn)
	step2StatusLog(ctx, conn)
	step3Anomalies(ctx, conn)
	step4Indexes(ctx, conn)

	fmt.Println("\n✅ Database initialised successfully")
}

func step1Extension(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 1: Extensions ──────────────────────────")

	// Hypertables want timescaledb; a plain Postgres still works, the
	// status log just stays unpartitioned.
	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb CASCADE;"); err != nil {
		fmt.Printf("⚠ timescaledb extension unavailable (%v), continuing without\n", err)
		return
	}
	fmt.Println("✓ timescaledb extension")
}

func step2StatusLog(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 2: vehicle_status_log table ────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS vehicle_status_log (

			-- Server receipt time in unix seconds; vehicle clocks drift,
			-- so the producer timestamp is kept separately
			received_at      DOUBLE PRECISION NOT NULL,

			vehicle_id       TEXT             NOT NULL,
			route_id         TEXT             NOT NULL,

			latitude         DOUBLE PRECISION NOT NULL,
			longitude        DOUBLE PRECISION NOT NULL,
			speed            DOUBLE PRECISION,
			reported_at      DOUBLE PRECISION NOT NULL,

			-- Classification result
			is_ghost         BOOLEAN          NOT NULL,
			severity         TEXT             NOT NULL,

			CONSTRAINT chk_severity CHECK (
				severity IN ('info', 'warning', 'critical')
			)
		);
	`, "vehicle_status_log table created")

	if _, err := conn.Exec(ctx, `
		SELECT create_hypertable(
			'vehicle_status_log',
			by_range('received_at', 86400.0),
			if_not_exists => TRUE
		);
	`); err != nil {
		fmt.Printf("⚠ hypertable conversion skipped (%v)\n", err)
		return
	}
	fmt.Println("✓ vehicle_status_log converted to hypertable")
}

func step3Anomalies(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 3: vehicle_anomalies table ─────────────")

	execOrFatal(ctx, conn, `
		CREATE TABLE IF NOT EXISTS vehicle_anomalies (

			id               BIGSERIAL        PRIMARY KEY,

			vehicle_id       TEXT             NOT NULL,
			route_id         TEXT             NOT NULL,

			-- Must exactly match domain.AnomalyType constants
			anomaly_type     TEXT             NOT NULL,

			-- Must exactly match domain.Severity constants
			severity         TEXT             NOT NULL,

			created_at       TIMESTAMPTZ      NOT NULL DEFAULT NOW(),

			CONSTRAINT chk_anomaly_type CHECK (
				anomaly_type IN (
					'stale_data',
					'stationary_non_stop',
					'speed_spike',
					'speed_drop',
					'off_route'
				)
			),

			CONSTRAINT chk_severity CHECK (
				severity IN ('info', 'warning', 'critical')
			)
		);
	`, "vehicle_anomalies table created")
}

func step4Indexes(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 4: Indexes ─────────────────────────────")

	indexes := []struct {
		name string
		sql  string
	}{
		{
			name: "idx_status_log_vehicle_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_status_log_vehicle_time
				  ON vehicle_status_log (vehicle_id, received_at DESC);`,
		},
		{
			name: "idx_anomalies_vehicle_time",
			sql: `CREATE INDEX IF NOT EXISTS idx_anomalies_vehicle_time
				  ON vehicle_anomalies (vehicle_id, created_at DESC);`,
		},
		{
			name: "idx_anomalies_severity",
			sql: `CREATE INDEX IF NOT EXISTS idx_anomalies_severity
				  ON vehicle_anomalies (severity, created_at DESC);`,
		},
	}

	for _, idx := range indexes {
		execOrFatal(ctx, conn, idx.sql, idx.name)
	}
}

func execOrFatal(ctx context.Context, conn *pgx.Conn, sql, label string) {
	if _, err := conn.Exec(ctx, sql); err != nil {
		log.Fatalf("✗ %s failed: %v", label, err)
	}
	fmt.Printf("✓ %s\n", label)
}

func dbGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
