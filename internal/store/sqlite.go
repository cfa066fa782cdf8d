package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/scribeworks/formfill-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	status     TEXT NOT NULL,
	payload    TEXT NOT NULL,
	version    INTEGER NOT NULL DEFAULT 1,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS batches (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	status     TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS usage_counters (
	user_id TEXT NOT NULL,
	day     TEXT NOT NULL,
	count   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, day)
);

CREATE INDEX IF NOT EXISTS idx_records_user_id ON records(user_id);
CREATE INDEX IF NOT EXISTS idx_records_status ON records(status);
CREATE INDEX IF NOT EXISTS idx_batches_user_id ON batches(user_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateRecord(ctx context.Context, rec *model.ProcessingRecord) error {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Version == 0 {
		rec.Version = 1
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal record")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (id, user_id, status, payload, version, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, string(rec.Workflow.Status), string(payload), rec.Version, now, now,
	)
	return eris.Wrapf(err, "sqlite: insert record %s", rec.ID)
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id, userID string) (*model.ProcessingRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload, version, created_at, updated_at FROM records WHERE id = ? AND user_id = ?`,
		id, userID,
	)
	return scanRecord(row)
}

func (s *SQLiteStore) UpdateRecord(ctx context.Context, rec *model.ProcessingRecord) error {
	now := time.Now().UTC()
	rec.UpdatedAt = now

	payload, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal record")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE records SET payload = ?, status = ?, version = version + 1, updated_at = ?
		 WHERE id = ? AND user_id = ? AND version = ?`,
		string(payload), string(rec.Workflow.Status), now, rec.ID, rec.UserID, rec.Version,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update record %s", rec.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return s.classifyUpdateMiss(ctx, rec.ID, rec.UserID)
	}
	rec.Version++
	return nil
}

// classifyUpdateMiss distinguishes a missing record from a version conflict.
func (s *SQLiteStore) classifyUpdateMiss(ctx context.Context, id, userID string) error {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM records WHERE id = ? AND user_id = ?`, id, userID,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: classify update miss")
	}
	return ErrVersionConflict
}

func (s *SQLiteStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.ProcessingRecord, error) {
	query := `SELECT payload, version, created_at, updated_at FROM records WHERE user_id = ?`
	args := []any{filter.UserID}

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close()

	var records []model.ProcessingRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (s *SQLiteStore) RecordStats(ctx context.Context, since time.Time) (*RecordStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*),
		        COALESCE(SUM(json_extract(payload, '$.token_usage.input_tokens')), 0),
		        COALESCE(SUM(json_extract(payload, '$.token_usage.output_tokens')), 0),
		        COALESCE(AVG(json_extract(payload, '$.processing_time_ms')), 0)
		 FROM records WHERE created_at >= ? GROUP BY status`,
		since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: record stats")
	}
	defer rows.Close()

	stats := &RecordStats{}
	for rows.Next() {
		var status string
		var count int
		var inTok, outTok int64
		var avgMs float64
		if err := rows.Scan(&status, &count, &inTok, &outTok, &avgMs); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stats")
		}
		accumulateStats(stats, status, count, inTok, outTok, avgMs)
	}
	return stats, eris.Wrap(rows.Err(), "sqlite: stats iterate")
}

// accumulateStats folds one per-status aggregation row into the snapshot.
func accumulateStats(stats *RecordStats, status string, count int, inTok, outTok int64, avgMs float64) {
	stats.Total += count
	stats.TotalInputTokens += inTok
	stats.TotalOutputTokens += outTok
	switch model.Status(status) {
	case model.StatusCompleted:
		stats.Completed += count
		stats.AvgProcessingMs = avgMs
	case model.StatusFailed:
		stats.Failed += count
	case model.StatusPending:
		stats.Pending += count
	case model.StatusProcessing:
		stats.Processing += count
	}
}

func (s *SQLiteStore) DeleteRecord(ctx context.Context, id, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM records WHERE id = ? AND user_id = ?`, id, userID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete record %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) CreateBatch(ctx context.Context, batch *model.BatchRecord) error {
	now := time.Now().UTC()
	batch.CreatedAt = now
	batch.UpdatedAt = now

	payload, err := json.Marshal(batch)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal batch")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO batches (id, user_id, status, payload, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		batch.ID, batch.UserID, string(batch.Status), string(payload), now, now,
	)
	return eris.Wrapf(err, "sqlite: insert batch %s", batch.ID)
}

func (s *SQLiteStore) GetBatch(ctx context.Context, id, userID string) (*model.BatchRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM batches WHERE id = ? AND user_id = ?`, id, userID,
	)
	var payload string
	err := row.Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get batch")
	}
	var b model.BatchRecord
	if err := json.Unmarshal([]byte(payload), &b); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal batch")
	}
	return &b, nil
}

func (s *SQLiteStore) UpdateBatch(ctx context.Context, batch *model.BatchRecord) error {
	now := time.Now().UTC()
	batch.UpdatedAt = now

	payload, err := json.Marshal(batch)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal batch")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET payload = ?, status = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		string(payload), string(batch.Status), now, batch.ID, batch.UserID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update batch %s", batch.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) IncrementUsage(ctx context.Context, userID, day string, limit int) (int, error) {
	if limit <= 0 {
		// Unlimited: plain increment.
		row := s.db.QueryRowContext(ctx,
			`INSERT INTO usage_counters (user_id, day, count) VALUES (?, ?, 1)
			 ON CONFLICT(user_id, day) DO UPDATE SET count = count + 1
			 RETURNING count`,
			userID, day,
		)
		var count int
		if err := row.Scan(&count); err != nil {
			return 0, eris.Wrap(err, "sqlite: increment usage")
		}
		return count, nil
	}

	// The conditional upsert succeeds only while the incremented count stays
	// within the limit, so concurrent callers cannot overshoot.
	row := s.db.QueryRowContext(ctx,
		`INSERT INTO usage_counters (user_id, day, count) VALUES (?, ?, 1)
		 ON CONFLICT(user_id, day) DO UPDATE SET count = count + 1
		 WHERE usage_counters.count < ?
		 RETURNING count`,
		userID, day, limit,
	)
	var count int
	err := row.Scan(&count)
	if err == sql.ErrNoRows {
		return 0, ErrUsageExceeded
	}
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: increment usage")
	}
	return count, nil
}

func (s *SQLiteStore) GetUsage(ctx context.Context, userID, day string) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT count FROM usage_counters WHERE user_id = ? AND day = ?`, userID, day,
	)
	var count int
	err := row.Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: get usage")
	}
	return count, nil
}

// helpers

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*model.ProcessingRecord, error) {
	var payload string
	var version int64
	var createdAt, updatedAt time.Time

	err := row.Scan(&payload, &version, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan record")
	}

	var r model.ProcessingRecord
	if err := json.Unmarshal([]byte(payload), &r); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal record")
	}
	// The version column is authoritative over the serialized copy.
	r.Version = version
	r.CreatedAt = createdAt
	r.UpdatedAt = updatedAt
	return &r, nil
}
