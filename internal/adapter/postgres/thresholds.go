package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/guregu/null"
)

// ThresholdStore looks up alert thresholds. It implements alert.ThresholdLookup.
type ThresholdStore struct {
	db *sql.DB
}

// NewThresholdStore creates a threshold lookup on db.
func NewThresholdStore(db *sql.DB) *ThresholdStore {
	return &ThresholdStore{db: db}
}

// The device row sorts before the global (NULL serial) row.
const selectThreshold = `SELECT ppm_threshold FROM alert_thresholds
	WHERE device_serial = NULLIF($1, '') OR device_serial IS NULL
	ORDER BY device_serial NULLS LAST
	LIMIT 1`

// Threshold returns the device threshold, falling back to the global one.
// An empty serial returns the global threshold.
func (s *ThresholdStore) Threshold(ctx context.Context, serial string) (null.Float, error) {
	var v null.Float
	err := s.db.QueryRowContext(ctx, selectThreshold, serial).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return null.Float{}, nil
	}
	if err != nil {
		return null.Float{}, fmt.Errorf("lookup threshold for %q: %w", serial, err)
	}
	return v, nil
}

const upsertDeviceThreshold = `INSERT INTO alert_thresholds (device_serial, ppm_threshold)
	VALUES ($1, $2)
	ON CONFLICT (device_serial) DO UPDATE SET ppm_threshold = EXCLUDED.ppm_threshold, updated_at = now()`

const upsertGlobalThreshold = `INSERT INTO alert_thresholds (device_serial, ppm_threshold)
	VALUES (NULL, $1)
	ON CONFLICT ((device_serial IS NULL)) WHERE device_serial IS NULL
	DO UPDATE SET ppm_threshold = EXCLUDED.ppm_threshold, updated_at = now()`

// SetThreshold stores a device threshold, or the global one when serial is empty.
func (s *ThresholdStore) SetThreshold(ctx context.Context, serial string, ppm float64) error {
	var err error
	if serial == "" {
		_, err = s.db.ExecContext(ctx, upsertGlobalThreshold, ppm)
	} else {
		_, err = s.db.ExecContext(ctx, upsertDeviceThreshold, serial, ppm)
	}
	if err != nil {
		return fmt.Errorf("set threshold for %q: %w", serial, err)
	}
	return nil
}
