// Package monitoring observes pipeline health and raises webhook alerts
// when failure rate, backlog, or spend cross configured thresholds.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/scribeworks/formfill-cli/internal/cost"
	fmodel "github.com/scribeworks/formfill-cli/internal/model"
	"github.com/scribeworks/formfill-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Record metrics (within lookback window).
	RecordsTotal      int     `json:"records_total"`
	RecordsCompleted  int     `json:"records_completed"`
	RecordsFailed     int     `json:"records_failed"`
	RecordsPending    int     `json:"records_pending"`
	RecordsProcessing int     `json:"records_processing"`
	FailRate          float64 `json:"fail_rate"`

	// Oracle usage.
	TotalTokens     int64   `json:"total_tokens"`
	AvgTokens       int     `json:"avg_tokens"`
	EstCostUSD      float64 `json:"est_cost_usd"`
	AvgProcessingMs float64 `json:"avg_processing_ms"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store. Cost is estimated by pricing
// all tokens at the given model's rate; with per-record usage aggregated
// across stages this is an approximation, not an invoice.
type Collector struct {
	store        store.Store
	costs        *cost.Calculator
	pricingModel string
}

// NewCollector creates a metrics collector. pricingModel names the model
// whose rates the cost estimate uses.
func NewCollector(st store.Store, costs *cost.Calculator, pricingModel string) *Collector {
	return &Collector{store: st, costs: costs, pricingModel: pricingModel}
}

// Collect gathers a snapshot of pipeline metrics over the given lookback
// window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)
	stats, err := c.store.RecordStats(ctx, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: record stats")
	}

	snap.RecordsTotal = stats.Total
	snap.RecordsCompleted = stats.Completed
	snap.RecordsFailed = stats.Failed
	snap.RecordsPending = stats.Pending
	snap.RecordsProcessing = stats.Processing
	snap.AvgProcessingMs = stats.AvgProcessingMs

	finished := stats.Completed + stats.Failed
	if finished > 0 {
		snap.FailRate = float64(stats.Failed) / float64(finished)
	}

	snap.TotalTokens = stats.TotalInputTokens + stats.TotalOutputTokens
	if stats.Total > 0 {
		snap.AvgTokens = int(snap.TotalTokens) / stats.Total
	}
	if c.costs != nil {
		snap.EstCostUSD = c.costs.Completion(c.pricingModel, fmodel.TokenUsage{
			InputTokens:  int(stats.TotalInputTokens),
			OutputTokens: int(stats.TotalOutputTokens),
		})
	}

	return snap, nil
}
