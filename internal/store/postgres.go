package store

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/scribeworks/formfill-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses. pgxmock satisfies it.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_record": `INSERT INTO records (id, user_id, status, payload, version, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"get_record":    `SELECT payload, version, created_at, updated_at FROM records WHERE id = $1 AND user_id = $2`,
	"update_record": `UPDATE records SET payload = $1, status = $2, version = version + 1, updated_at = $3 WHERE id = $4 AND user_id = $5 AND version = $6`,
	"delete_record": `DELETE FROM records WHERE id = $1 AND user_id = $2`,
	"insert_batch":  `INSERT INTO batches (id, user_id, status, payload, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"get_batch":     `SELECT payload FROM batches WHERE id = $1 AND user_id = $2`,
	"update_batch":  `UPDATE batches SET payload = $1, status = $2, updated_at = $3 WHERE id = $4 AND user_id = $5`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool creates a PostgresStore over an existing pool.
// Used by tests to inject a pgxmock pool.
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	status     TEXT NOT NULL,
	payload    JSONB NOT NULL,
	version    BIGINT NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS batches (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	status     TEXT NOT NULL,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
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

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) CreateRecord(ctx context.Context, rec *model.ProcessingRecord) error {
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Version == 0 {
		rec.Version = 1
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal record")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO records (id, user_id, status, payload, version, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.ID, rec.UserID, string(rec.Workflow.Status), payload, rec.Version, now, now,
	)
	return eris.Wrapf(err, "postgres: insert record %s", rec.ID)
}

func (s *PostgresStore) GetRecord(ctx context.Context, id, userID string) (*model.ProcessingRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT payload, version, created_at, updated_at FROM records WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	return scanPgRecord(row)
}

func (s *PostgresStore) UpdateRecord(ctx context.Context, rec *model.ProcessingRecord) error {
	now := time.Now().UTC()
	rec.UpdatedAt = now

	payload, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal record")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE records SET payload = $1, status = $2, version = version + 1, updated_at = $3 WHERE id = $4 AND user_id = $5 AND version = $6`,
		payload, string(rec.Workflow.Status), now, rec.ID, rec.UserID, rec.Version,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update record %s", rec.ID)
	}
	if tag.RowsAffected() == 0 {
		var one int
		err := s.pool.QueryRow(ctx,
			`SELECT 1 FROM records WHERE id = $1 AND user_id = $2`, rec.ID, rec.UserID,
		).Scan(&one)
		if err == pgx.ErrNoRows {
			return ErrNotFound
		}
		if err != nil {
			return eris.Wrap(err, "postgres: classify update miss")
		}
		return ErrVersionConflict
	}
	rec.Version++
	return nil
}

func (s *PostgresStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.ProcessingRecord, error) {
	query := `SELECT payload, version, created_at, updated_at FROM records WHERE user_id = $1`
	args := []any{filter.UserID}
	idx := 2

	if filter.Status != "" {
		query += ` AND status = $2`
		args = append(args, string(filter.Status))
		idx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT $` + strconv.Itoa(idx)
	args = append(args, limit)
	idx++

	if filter.Offset > 0 {
		query += ` OFFSET $` + strconv.Itoa(idx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var records []model.ProcessingRecord
	for rows.Next() {
		r, err := scanPgRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

func (s *PostgresStore) RecordStats(ctx context.Context, since time.Time) (*RecordStats, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*),
		        COALESCE(SUM((payload->'token_usage'->>'input_tokens')::bigint), 0),
		        COALESCE(SUM((payload->'token_usage'->>'output_tokens')::bigint), 0),
		        COALESCE(AVG((payload->>'processing_time_ms')::bigint), 0)
		 FROM records WHERE created_at >= $1 GROUP BY status`,
		since,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: record stats")
	}
	defer rows.Close()

	stats := &RecordStats{}
	for rows.Next() {
		var status string
		var count int
		var inTok, outTok int64
		var avgMs float64
		if err := rows.Scan(&status, &count, &inTok, &outTok, &avgMs); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stats")
		}
		accumulateStats(stats, status, count, inTok, outTok, avgMs)
	}
	return stats, eris.Wrap(rows.Err(), "postgres: stats iterate")
}

func (s *PostgresStore) DeleteRecord(ctx context.Context, id, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM records WHERE id = $1 AND user_id = $2`, id, userID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete record %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateBatch(ctx context.Context, batch *model.BatchRecord) error {
	now := time.Now().UTC()
	batch.CreatedAt = now
	batch.UpdatedAt = now

	payload, err := json.Marshal(batch)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal batch")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO batches (id, user_id, status, payload, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		batch.ID, batch.UserID, string(batch.Status), payload, now, now,
	)
	return eris.Wrapf(err, "postgres: insert batch %s", batch.ID)
}

func (s *PostgresStore) GetBatch(ctx context.Context, id, userID string) (*model.BatchRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT payload FROM batches WHERE id = $1 AND user_id = $2`, id, userID,
	)
	var payload []byte
	err := row.Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get batch")
	}
	var b model.BatchRecord
	if err := json.Unmarshal(payload, &b); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal batch")
	}
	return &b, nil
}

func (s *PostgresStore) UpdateBatch(ctx context.Context, batch *model.BatchRecord) error {
	now := time.Now().UTC()
	batch.UpdatedAt = now

	payload, err := json.Marshal(batch)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal batch")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE batches SET payload = $1, status = $2, updated_at = $3 WHERE id = $4 AND user_id = $5`,
		payload, string(batch.Status), now, batch.ID, batch.UserID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update batch %s", batch.ID)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) IncrementUsage(ctx context.Context, userID, day string, limit int) (int, error) {
	if limit <= 0 {
		row := s.pool.QueryRow(ctx,
			`INSERT INTO usage_counters (user_id, day, count) VALUES ($1, $2, 1)
			 ON CONFLICT (user_id, day) DO UPDATE SET count = usage_counters.count + 1
			 RETURNING count`,
			userID, day,
		)
		var count int
		if err := row.Scan(&count); err != nil {
			return 0, eris.Wrap(err, "postgres: increment usage")
		}
		return count, nil
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO usage_counters (user_id, day, count) VALUES ($1, $2, 1)
		 ON CONFLICT (user_id, day) DO UPDATE SET count = usage_counters.count + 1
		 WHERE usage_counters.count < $3
		 RETURNING count`,
		userID, day, limit,
	)
	var count int
	err := row.Scan(&count)
	if err == pgx.ErrNoRows {
		return 0, ErrUsageExceeded
	}
	if err != nil {
		return 0, eris.Wrap(err, "postgres: increment usage")
	}
	return count, nil
}

func (s *PostgresStore) GetUsage(ctx context.Context, userID, day string) (int, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT count FROM usage_counters WHERE user_id = $1 AND day = $2`, userID, day,
	)
	var count int
	err := row.Scan(&count)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, eris.Wrap(err, "postgres: get usage")
	}
	return count, nil
}

func scanPgRecord(row scannable) (*model.ProcessingRecord, error) {
	var payload []byte
	var version int64
	var createdAt, updatedAt time.Time

	err := row.Scan(&payload, &version, &createdAt, &updatedAt)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan record")
	}

	var r model.ProcessingRecord
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal record")
	}
	r.Version = version
	r.CreatedAt = createdAt
	r.UpdatedAt = updatedAt
	return &r, nil
}
