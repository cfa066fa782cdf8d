// Package store provides persistence for processing records, batches, and
// per-user usage counters, backed by SQLite or PostgreSQL.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/scribeworks/formfill-cli/internal/model"
)

// ErrNotFound is returned when a record does not exist or belongs to a
// different user. Lookups never reveal whether the id exists for someone else.
var ErrNotFound = eris.New("record not found")

// ErrVersionConflict is returned when an update loses an optimistic
// concurrency race. The caller should re-read and retry.
var ErrVersionConflict = eris.New("record version conflict")

// ErrUsageExceeded is returned by IncrementUsage when the increment would
// push the user's daily count past the limit. The counter is not changed.
var ErrUsageExceeded = eris.New("daily usage limit exceeded")

// RecordFilter specifies criteria for listing processing records.
type RecordFilter struct {
	UserID string       `json:"user_id"`
	Status model.Status `json:"status,omitempty"`
	Limit  int          `json:"limit,omitempty"`
	Offset int          `json:"offset,omitempty"`
}

// RecordStats is an aggregate view over processing records, used by the
// monitoring collector.
type RecordStats struct {
	Total      int `json:"total"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`

	TotalInputTokens  int64 `json:"total_input_tokens"`
	TotalOutputTokens int64 `json:"total_output_tokens"`

	// AvgProcessingMs averages over completed records only.
	AvgProcessingMs float64 `json:"avg_processing_ms"`
}

// Store defines the persistence interface for the form processing pipeline.
type Store interface {
	// Records
	CreateRecord(ctx context.Context, rec *model.ProcessingRecord) error
	GetRecord(ctx context.Context, id, userID string) (*model.ProcessingRecord, error)
	// UpdateRecord persists rec if the stored version still matches
	// rec.Version, then increments rec.Version. Returns ErrVersionConflict
	// on a lost race.
	UpdateRecord(ctx context.Context, rec *model.ProcessingRecord) error
	ListRecords(ctx context.Context, filter RecordFilter) ([]model.ProcessingRecord, error)
	DeleteRecord(ctx context.Context, id, userID string) error
	// RecordStats aggregates counts, token usage, and average processing
	// time over records created at or after since, across all users.
	RecordStats(ctx context.Context, since time.Time) (*RecordStats, error)

	// Batches
	CreateBatch(ctx context.Context, batch *model.BatchRecord) error
	GetBatch(ctx context.Context, id, userID string) (*model.BatchRecord, error)
	UpdateBatch(ctx context.Context, batch *model.BatchRecord) error

	// Usage counters. IncrementUsage atomically increments the user's count
	// for the given day only if the result stays within limit, returning the
	// new count. Concurrent increments never overshoot the limit.
	IncrementUsage(ctx context.Context, userID, day string, limit int) (int, error)
	GetUsage(ctx context.Context, userID, day string) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
