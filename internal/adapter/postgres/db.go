// Package postgres is the relational store for readings and alert thresholds.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // registers the "postgres" driver
)

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS readings (
		id            BIGSERIAL PRIMARY KEY,
		origin_topic  TEXT NOT NULL,
		device_serial TEXT,
		temperature   DOUBLE PRECISION,
		rx_light      DOUBLE PRECISION,
		r2            DOUBLE PRECISION,
		heartbeat     DOUBLE PRECISION,
		concentration DOUBLE PRECISION,
		recorded_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS readings_recorded_at_idx ON readings (recorded_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS readings_device_recorded_at_idx ON readings (device_serial, recorded_at DESC)`,
	`CREATE TABLE IF NOT EXISTS alert_thresholds (
		id            BIGSERIAL PRIMARY KEY,
		device_serial TEXT UNIQUE,
		ppm_threshold DOUBLE PRECISION NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS alert_thresholds_global_idx ON alert_thresholds ((device_serial IS NULL)) WHERE device_serial IS NULL`,
}

// EnsureSchema creates the service tables if they do not exist.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
