package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgresWithPool(mock), mock
}

func TestPostgresCreateRecord(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO records").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := newTestRecord("user-1")
	require.NoError(t, s.CreateRecord(context.Background(), rec))
	assert.Equal(t, int64(1), rec.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetRecord(t *testing.T) {
	s, mock := newMockStore(t)

	rec := newTestRecord("user-1")
	payload, err := json.Marshal(rec)
	require.NoError(t, err)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT payload, version, created_at, updated_at FROM records").
		WithArgs(rec.ID, "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"payload", "version", "created_at", "updated_at"}).
			AddRow(payload, int64(3), now, now))

	got, err := s.GetRecord(context.Background(), rec.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, got.ID)
	// Column version wins over the serialized copy.
	assert.Equal(t, int64(3), got.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresGetRecordNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("SELECT payload, version, created_at, updated_at FROM records").
		WithArgs("nope", "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"payload", "version", "created_at", "updated_at"}))

	_, err := s.GetRecord(context.Background(), "nope", "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresUpdateRecordVersionConflict(t *testing.T) {
	s, mock := newMockStore(t)

	rec := newTestRecord("user-1")
	rec.Version = 1

	mock.ExpectExec("UPDATE records SET").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			rec.ID, "user-1", int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	// The record exists, so the zero-row update means a lost race.
	mock.ExpectQuery("SELECT 1 FROM records").
		WithArgs(rec.ID, "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}).AddRow(1))

	err := s.UpdateRecord(context.Background(), rec)
	assert.ErrorIs(t, err, ErrVersionConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresUpdateRecordNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	rec := newTestRecord("user-1")
	rec.Version = 1

	mock.ExpectExec("UPDATE records SET").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			rec.ID, "user-1", int64(1)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT 1 FROM records").
		WithArgs(rec.ID, "user-1").
		WillReturnRows(pgxmock.NewRows([]string{"?column?"}))

	err := s.UpdateRecord(context.Background(), rec)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresDeleteRecordNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("DELETE FROM records").
		WithArgs("nope", "user-1").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := s.DeleteRecord(context.Background(), "nope", "user-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresIncrementUsage(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO usage_counters").
		WithArgs("user-1", "2026-08-28", 50).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(7))

	count, err := s.IncrementUsage(context.Background(), "user-1", "2026-08-28", 50)
	require.NoError(t, err)
	assert.Equal(t, 7, count)
}

func TestPostgresIncrementUsageExceeded(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery("INSERT INTO usage_counters").
		WithArgs("user-1", "2026-08-28", 50).
		WillReturnRows(pgxmock.NewRows([]string{"count"}))

	_, err := s.IncrementUsage(context.Background(), "user-1", "2026-08-28", 50)
	assert.ErrorIs(t, err, ErrUsageExceeded)
}

func TestPostgresRecordStats(t *testing.T) {
	s, mock := newMockStore(t)

	since := time.Now().UTC().Add(-24 * time.Hour)
	mock.ExpectQuery("SELECT status, COUNT").
		WithArgs(since).
		WillReturnRows(pgxmock.NewRows([]string{"status", "count", "in_tok", "out_tok", "avg_ms"}).
			AddRow("completed", 2, int64(4000), int64(800), float64(3500)).
			AddRow("failed", 1, int64(200), int64(50), float64(0)))

	stats, err := s.RecordStats(context.Background(), since)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 2, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, int64(4200), stats.TotalInputTokens)
	assert.InDelta(t, 3500, stats.AvgProcessingMs, 0.001)
	assert.NoError(t, mock.ExpectationsWereMet())
}
