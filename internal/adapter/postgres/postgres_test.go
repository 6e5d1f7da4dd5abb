package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/couchcryptid/los-telemetry-service/internal/domain"
	"github.com/google/go-cmp/cmp"
	"github.com/guregu/null"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recordedAt = time.Date(2025, time.March, 14, 9, 26, 53, 0, time.UTC)

var readingColumns = []string{
	"id", "origin_topic", "device_serial", "temperature", "rx_light", "r2", "heartbeat", "concentration", "recorded_at",
}

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func TestReadingStore_Insert(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewReadingStore(db, slog.Default())

	r := domain.Reading{
		OriginTopic:   "sensors/los/0311",
		DeviceSerial:  null.StringFrom("LOS-0311"),
		Temperature:   null.FloatFrom(21.5),
		Concentration: null.FloatFrom(8.07),
		RecordedAt:    recordedAt,
	}

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO readings")).
		WithArgs("sensors/los/0311", "LOS-0311", 21.5, nil, nil, nil, 8.07, recordedAt).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	id, err := store.Insert(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadingStore_InsertError(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewReadingStore(db, slog.Default())

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO readings")).
		WillReturnError(errors.New("connection refused"))

	_, err := store.Insert(context.Background(), domain.Reading{OriginTopic: "t", RecordedAt: recordedAt})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insert reading")
}

func TestReadingStore_Query(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewReadingStore(db, slog.Default())

	from := recordedAt.Add(-time.Hour)
	rows := sqlmock.NewRows(readingColumns).
		AddRow(2, "sensors/los/0311", "LOS-0311", 21.5, nil, 0.98, nil, 8.07, recordedAt).
		AddRow(1, "legacy/9", nil, nil, -3.2, nil, 1, nil, recordedAt.Add(-time.Minute))

	mock.ExpectQuery(regexp.QuoteMeta(
		"FROM readings WHERE recorded_at >= $1 AND device_serial = $2 ORDER BY recorded_at DESC, id DESC LIMIT $3 OFFSET $4")).
		WithArgs(from, "LOS-0311", 10, 20).
		WillReturnRows(rows)

	got, err := store.Query(context.Background(), domain.ReadingQuery{From: from, DeviceSerial: "LOS-0311", Limit: 10, Offset: 20})
	require.NoError(t, err)

	want := []domain.Reading{
		{
			ID:            2,
			OriginTopic:   "sensors/los/0311",
			DeviceSerial:  null.StringFrom("LOS-0311"),
			Temperature:   null.FloatFrom(21.5),
			R2:            null.FloatFrom(0.98),
			Concentration: null.FloatFrom(8.07),
			RecordedAt:    recordedAt,
		},
		{
			ID:          1,
			OriginTopic: "legacy/9",
			RxLight:     null.FloatFrom(-3.2),
			Heartbeat:   null.FloatFrom(1),
			RecordedAt:  recordedAt.Add(-time.Minute),
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Query mismatch (-want +got):\n%s", diff)
	}
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadingStore_QueryEmptyIsNotNil(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewReadingStore(db, slog.Default())

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows(readingColumns))

	got, err := store.Query(context.Background(), domain.ReadingQuery{})
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestReadingStore_QueryLogsResultCount(t *testing.T) {
	db, mock := setupMockDB(t)
	var buf bytes.Buffer
	store := NewReadingStore(db, slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))

	mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows(readingColumns).
		AddRow(1, "legacy/9", nil, nil, nil, nil, 1, nil, recordedAt))

	_, err := store.Query(context.Background(), domain.ReadingQuery{DeviceSerial: "LOS-9"})
	require.NoError(t, err)

	assert.Contains(t, buf.String(), `"msg":"readings queried"`)
	assert.Contains(t, buf.String(), `"count":1`)
	assert.Contains(t, buf.String(), `"device_serial":"LOS-9"`)
}

func TestBuildReadingQuery(t *testing.T) {
	to := recordedAt

	tests := []struct {
		name      string
		q         domain.ReadingQuery
		wantWhere string
		wantArgs  []any
	}{
		{
			name:     "defaults",
			q:        domain.ReadingQuery{},
			wantArgs: []any{domain.DefaultQueryLimit, 0},
		},
		{
			name:      "range",
			q:         domain.ReadingQuery{To: to, Limit: 5000, Offset: -3},
			wantWhere: " WHERE recorded_at <= $1",
			wantArgs:  []any{to, domain.MaxQueryLimit, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := buildReadingQuery(tt.q)
			if tt.wantWhere != "" {
				assert.Contains(t, query, tt.wantWhere)
			} else {
				assert.NotContains(t, query, "WHERE")
			}
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestThresholdStore_Threshold(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewThresholdStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT ppm_threshold FROM alert_thresholds")).
		WithArgs("LOS-0311").
		WillReturnRows(sqlmock.NewRows([]string{"ppm_threshold"}).AddRow(10.5))

	v, err := store.Threshold(context.Background(), "LOS-0311")
	require.NoError(t, err)
	assert.Equal(t, null.FloatFrom(10.5), v)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestThresholdStore_NoRows(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewThresholdStore(db)

	mock.ExpectQuery("SELECT ppm_threshold").
		WithArgs("").
		WillReturnRows(sqlmock.NewRows([]string{"ppm_threshold"}))

	v, err := store.Threshold(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, v.Valid)
}

func TestThresholdStore_Error(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewThresholdStore(db)

	mock.ExpectQuery("SELECT ppm_threshold").WillReturnError(sql.ErrConnDone)

	_, err := store.Threshold(context.Background(), "LOS-0311")
	require.ErrorIs(t, err, sql.ErrConnDone)
}

func TestThresholdStore_SetThreshold(t *testing.T) {
	db, mock := setupMockDB(t)
	store := NewThresholdStore(db)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (device_serial)")).
		WithArgs("LOS-0311", 12.0).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("VALUES (NULL, $1)")).
		WithArgs(50.0).
		WillReturnResult(sqlmock.NewResult(2, 1))

	require.NoError(t, store.SetThreshold(context.Background(), "LOS-0311", 12))
	require.NoError(t, store.SetThreshold(context.Background(), "", 50))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	db, mock := setupMockDB(t)

	for range schema {
		mock.ExpectExec("CREATE").WillReturnResult(sqlmock.NewResult(0, 0))
	}

	require.NoError(t, EnsureSchema(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema_Error(t *testing.T) {
	db, mock := setupMockDB(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS readings").WillReturnError(errors.New("permission denied"))

	err := EnsureSchema(context.Background(), db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ensure schema")
}
