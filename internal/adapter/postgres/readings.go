package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/couchcryptid/los-telemetry-service/internal/domain"
)

// ReadingStore persists and queries readings.
// It implements pipeline.ReadingStore.
type ReadingStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewReadingStore creates a store on db.
func NewReadingStore(db *sql.DB, logger *slog.Logger) *ReadingStore {
	return &ReadingStore{db: db, logger: logger}
}

const insertReading = `INSERT INTO readings
	(origin_topic, device_serial, temperature, rx_light, r2, heartbeat, concentration, recorded_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	RETURNING id`

// Insert stores r and returns its id.
func (s *ReadingStore) Insert(ctx context.Context, r domain.Reading) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, insertReading,
		r.OriginTopic,
		r.DeviceSerial,
		r.Temperature,
		r.RxLight,
		r.R2,
		r.Heartbeat,
		r.Concentration,
		r.RecordedAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert reading: %w", err)
	}
	return id, nil
}

const selectReadings = `SELECT id, origin_topic, device_serial, temperature, rx_light, r2, heartbeat, concentration, recorded_at
	FROM readings`

// Query returns readings matching q, newest first.
func (s *ReadingStore) Query(ctx context.Context, q domain.ReadingQuery) ([]domain.Reading, error) {
	query, args := buildReadingQuery(q)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query readings: %w", err)
	}
	defer rows.Close()

	readings := make([]domain.Reading, 0)
	for rows.Next() {
		var r domain.Reading
		if err := rows.Scan(
			&r.ID,
			&r.OriginTopic,
			&r.DeviceSerial,
			&r.Temperature,
			&r.RxLight,
			&r.R2,
			&r.Heartbeat,
			&r.Concentration,
			&r.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reading: %w", err)
		}
		r.RecordedAt = r.RecordedAt.UTC()
		readings = append(readings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate readings: %w", err)
	}
	s.logger.Debug("readings queried",
		"count", len(readings),
		"device_serial", q.DeviceSerial,
		"limit", q.EffectiveLimit(),
		"offset", q.Offset,
	)
	return readings, nil
}

// CheckReadiness pings the database.
func (s *ReadingStore) CheckReadiness(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func buildReadingQuery(q domain.ReadingQuery) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if !q.From.IsZero() {
		add("recorded_at >= $%d", q.From)
	}
	if !q.To.IsZero() {
		add("recorded_at <= $%d", q.To)
	}
	if q.DeviceSerial != "" {
		add("device_serial = $%d", q.DeviceSerial)
	}

	var b strings.Builder
	b.WriteString(selectReadings)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY recorded_at DESC, id DESC")

	args = append(args, q.EffectiveLimit())
	fmt.Fprintf(&b, " LIMIT $%d", len(args))
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	args = append(args, offset)
	fmt.Fprintf(&b, " OFFSET $%d", len(args))

	return b.String(), args
}
