// Package pipeline orchestrates the four-stage form processing workflow:
// analysis, data collection, verification, and filling.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scribeworks/formfill-cli/internal/config"
	"github.com/scribeworks/formfill-cli/internal/cost"
	"github.com/scribeworks/formfill-cli/internal/docfill"
	"github.com/scribeworks/formfill-cli/internal/ingest"
	"github.com/scribeworks/formfill-cli/internal/model"
	"github.com/scribeworks/formfill-cli/internal/quota"
	"github.com/scribeworks/formfill-cli/internal/store"
	"github.com/scribeworks/formfill-cli/pkg/oracle"
)

// Oracle is the completion surface the stage agents call. *oracle.Gateway
// satisfies it.
type Oracle interface {
	CallWithRetry(ctx context.Context, mc oracle.ModelConfig, prompt, systemPrompt string) (*oracle.Response, error)
}

// ErrNotReady is returned when an operation is requested out of step order,
// like submitting data before analysis finished or fetching a result before
// filling completed.
var ErrNotReady = eris.New("record is not at the required workflow step")

// Processor drives processing records through the workflow state machine.
// It is the only writer of records; every mutation goes through a
// version-checked store update.
type Processor struct {
	cfg      *config.Config
	store    store.Store
	quota    *quota.Guard
	ingestor *ingest.Ingestor
	renderer *docfill.Filler
	costs    *cost.Calculator

	analyzer  *Analyzer
	extractor *Extractor
	verifier  *Verifier
	filler    *Filler

	// batchSlots bounds concurrently running background batches.
	batchSlots chan struct{}
}

// NewProcessor wires a Processor from its collaborators.
func NewProcessor(cfg *config.Config, st store.Store, o Oracle, guard *quota.Guard, ingestor *ingest.Ingestor, renderer *docfill.Filler) *Processor {
	maxTokens := cfg.Oracle.MaxTokens
	batchSlots := cfg.Batch.MaxConcurrentBatches
	if batchSlots <= 0 {
		batchSlots = 1
	}
	return &Processor{
		cfg:      cfg,
		store:    st,
		quota:    guard,
		ingestor: ingestor,
		renderer: renderer,
		costs:    cost.NewCalculator(cost.DefaultRates()),
		analyzer: NewAnalyzer(o, oracle.ModelConfig{
			Model:     cfg.Oracle.AnalyzerModel,
			MaxTokens: maxTokens,
		}),
		extractor: NewExtractor(o, oracle.ModelConfig{
			Model:     cfg.Oracle.ExtractorModel,
			MaxTokens: maxTokens,
		}, cfg.Pipeline.MinFieldConfidence),
		verifier: NewVerifier(),
		filler: NewFiller(o, oracle.ModelConfig{
			Model:     cfg.Oracle.FillerModel,
			MaxTokens: maxTokens,
		}, cfg.Pipeline.MinFieldConfidence),
		batchSlots: make(chan struct{}, batchSlots),
	}
}

// Start ingests a form, runs the analysis stage, and leaves the record at
// data collection awaiting the user's input. One quota unit is reserved up
// front, so a failed run still counts against the daily limit.
func (p *Processor) Start(ctx context.Context, userID string, ref model.FileRef) (*model.ProcessingRecord, error) {
	if err := p.quota.Reserve(ctx, userID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := &model.ProcessingRecord{
		ID:           uuid.New().String(),
		UserID:       userID,
		OriginalForm: ref,
		Workflow: model.Workflow{
			CurrentStep: model.StepAnalysis,
			Status:      model.StatusProcessing,
			StartedAt:   now,
			TotalSteps:  model.TotalSteps,
		},
		Analysis: &model.AnalysisStage{Status: model.StageProcessing},
	}
	if err := p.store.CreateRecord(ctx, rec); err != nil {
		return nil, eris.Wrap(err, "pipeline: create record")
	}

	log := zap.L().With(zap.String("record_id", rec.ID), zap.String("user_id", userID))
	log.Info("processing started", zap.String("file", ref.Name))

	doc, err := p.ingestor.Extract(ctx, ref)
	if err != nil {
		return rec, p.fail(ctx, rec, model.StepAnalysis, err)
	}

	// Insights and field extraction run concurrently; both belong to the
	// analysis stage.
	start := time.Now()
	var insights *model.AnalysisInsights
	var extraction *model.ExtractionResult
	var insightsUsage, extractionUsage model.TokenUsage

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		insights, insightsUsage, err = p.analyzer.Analyze(gCtx, doc)
		return err
	})
	g.Go(func() error {
		var err error
		extraction, extractionUsage, err = p.extractor.Extract(gCtx, doc)
		return err
	})
	if err := g.Wait(); err != nil {
		rec.Usage.Add(insightsUsage)
		rec.Usage.Add(extractionUsage)
		return rec, p.fail(ctx, rec, model.StepAnalysis, err)
	}

	completedAt := time.Now().UTC()
	rec.Usage.Add(insightsUsage)
	rec.Usage.Add(extractionUsage)
	rec.Analysis.Status = model.StageCompleted
	rec.Analysis.CompletedAt = &completedAt
	rec.Analysis.Insights = insights
	rec.Analysis.Extraction = extraction
	log.Info("analysis complete",
		zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		zap.Int("total_fields", extraction.TotalFields),
		zap.Float64("est_cost_usd",
			p.costs.Completion(p.analyzer.model.Model, insightsUsage)+
				p.costs.Completion(p.extractor.model.Model, extractionUsage)))

	if err := p.advance(rec, model.StepDataCollection); err != nil {
		return rec, p.fail(ctx, rec, model.StepAnalysis, err)
	}
	rec.DataCollection = &model.DataCollectionStage{
		Status:       model.StageProcessing,
		Requirements: DeriveRequirements(extraction),
	}
	// Hold here until the user submits their data.
	rec.Workflow.Status = model.StatusPending

	if err := p.store.UpdateRecord(ctx, rec); err != nil {
		return rec, eris.Wrap(err, "pipeline: save analysis")
	}
	return rec, nil
}

// SubmitUserData accepts the user's answers, verifies them, and on success
// runs the filling stage to completion. A failed verification routes the
// record back to data collection until the attempt budget runs out.
func (p *Processor) SubmitUserData(ctx context.Context, userID, recordID string, data model.SubmittedData) (*model.ProcessingRecord, error) {
	rec, err := p.store.GetRecord(ctx, recordID, userID)
	if err != nil {
		return nil, err
	}
	if rec.Workflow.CurrentStep != model.StepDataCollection {
		return rec, ErrNotReady
	}

	log := zap.L().With(zap.String("record_id", rec.ID), zap.String("user_id", userID))

	now := time.Now().UTC()
	rec.Workflow.Status = model.StatusProcessing
	rec.DataCollection.Submitted = &data
	rec.DataCollection.Status = model.StageCompleted
	rec.DataCollection.CompletedAt = &now

	if err := p.advance(rec, model.StepVerification); err != nil {
		return rec, p.fail(ctx, rec, model.StepDataCollection, err)
	}
	if rec.Verification == nil {
		rec.Verification = &model.VerificationStage{}
	}
	rec.Verification.Status = model.StageProcessing
	rec.Verification.Attempts++

	result := p.verifier.Verify(rec.DataCollection.Requirements, &data)
	rec.Verification.Result = result

	if !result.Verified {
		log.Info("verification rejected",
			zap.Int("attempt", rec.Verification.Attempts),
			zap.Strings("missing", result.MissingFields),
			zap.Strings("invalid", result.InvalidFields))

		if rec.Verification.Attempts >= p.cfg.Pipeline.MaxVerificationAttempts {
			return rec, p.fail(ctx, rec, model.StepVerification,
				eris.Errorf("verification failed after %d attempts", rec.Verification.Attempts))
		}

		// Route back for another round of data collection.
		rec.AppendError(model.StepVerification, "submitted data failed verification")
		if err := p.advance(rec, model.StepDataCollection); err != nil {
			return rec, p.fail(ctx, rec, model.StepVerification, err)
		}
		rec.DataCollection.Status = model.StageProcessing
		rec.DataCollection.CompletedAt = nil
		rec.Workflow.Status = model.StatusPending
		if err := p.store.UpdateRecord(ctx, rec); err != nil {
			return rec, eris.Wrap(err, "pipeline: save verification")
		}
		return rec, nil
	}

	verifiedAt := time.Now().UTC()
	rec.Verification.Status = model.StageCompleted
	rec.Verification.CompletedAt = &verifiedAt
	log.Info("verification passed", zap.Int("attempt", rec.Verification.Attempts))

	if err := p.advance(rec, model.StepFilling); err != nil {
		return rec, p.fail(ctx, rec, model.StepVerification, err)
	}
	rec.Filling = &model.FillingStage{Status: model.StageProcessing}
	// Persist the stage boundary before the oracle work begins.
	if err := p.store.UpdateRecord(ctx, rec); err != nil {
		return rec, eris.Wrap(err, "pipeline: save verification")
	}

	outcome, fillUsage, err := p.filler.Fill(ctx, rec.DataCollection.Requirements, &data)
	rec.Usage.Add(fillUsage)
	if err != nil {
		return rec, p.fail(ctx, rec, model.StepFilling, err)
	}
	if threshold := p.cfg.Pipeline.QualityScoreThreshold; threshold > 0 && outcome.Quality.Score < threshold {
		outcome.Quality.Warnings = append(outcome.Quality.Warnings,
			fmt.Sprintf("quality score %.2f below threshold %.2f", outcome.Quality.Score, threshold))
		log.Warn("fill quality below threshold",
			zap.Float64("score", outcome.Quality.Score),
			zap.Float64("threshold", threshold))
	}

	artifacts, err := p.renderer.Render(rec.ID, rec.OriginalForm, outcome.Mappings)
	if err != nil {
		return rec, p.fail(ctx, rec, model.StepFilling, err)
	}

	filledAt := time.Now().UTC()
	rec.Filling.Status = model.StageCompleted
	rec.Filling.CompletedAt = &filledAt
	rec.Filling.Mappings = outcome.Mappings
	rec.Filling.UnmappedRequired = outcome.UnmappedRequired
	rec.Filling.Quality = outcome.Quality

	output := &model.Output{}
	for _, a := range artifacts {
		output.Files = append(output.Files, model.FileRef{
			Name: a.Name,
			Path: a.Path,
		})
		output.Formats = append(output.Formats, a.Format)
	}
	rec.Output = output

	if err := p.advance(rec, model.StepCompleted); err != nil {
		return rec, p.fail(ctx, rec, model.StepFilling, err)
	}
	rec.Workflow.Status = model.StatusCompleted
	rec.Workflow.CompletedAt = &filledAt
	rec.ProcessingTime = filledAt.Sub(rec.Workflow.StartedAt).Milliseconds()

	if err := p.store.UpdateRecord(ctx, rec); err != nil {
		return rec, eris.Wrap(err, "pipeline: save completion")
	}
	log.Info("processing complete",
		zap.Int64("processing_time_ms", rec.ProcessingTime),
		zap.Float64("quality", outcome.Quality.Score),
		zap.Float64("est_cost_usd", p.costs.Completion(p.filler.model.Model, fillUsage)))
	return rec, nil
}

// Status reports a record's workflow position.
func (p *Processor) Status(ctx context.Context, userID, recordID string) (*model.StatusReport, error) {
	rec, err := p.store.GetRecord(ctx, recordID, userID)
	if err != nil {
		return nil, err
	}
	return &model.StatusReport{
		ID:          rec.ID,
		Status:      rec.Workflow.Status,
		CurrentStep: rec.Workflow.CurrentStep,
		Progress:    rec.Progress(),
		Errors:      rec.Errors,
	}, nil
}

// Result returns a completed record. ErrNotReady until filling finishes.
func (p *Processor) Result(ctx context.Context, userID, recordID string) (*model.ProcessingRecord, error) {
	rec, err := p.store.GetRecord(ctx, recordID, userID)
	if err != nil {
		return nil, err
	}
	if rec.Workflow.Status != model.StatusCompleted {
		return rec, ErrNotReady
	}
	return rec, nil
}

// History lists the user's records, most recent first.
func (p *Processor) History(ctx context.Context, userID string, status model.Status, limit, offset int) ([]model.ProcessingRecord, error) {
	return p.store.ListRecords(ctx, store.RecordFilter{
		UserID: userID,
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
}

// Delete removes a record.
func (p *Processor) Delete(ctx context.Context, userID, recordID string) error {
	return p.store.DeleteRecord(ctx, recordID, userID)
}

// advance moves the workflow to the next step, enforcing the transition
// table.
func (p *Processor) advance(rec *model.ProcessingRecord, to model.Step) error {
	from := rec.Workflow.CurrentStep
	if !model.CanTransition(from, to) {
		return eris.Errorf("illegal workflow transition %s -> %s", from, to)
	}
	rec.Workflow.CurrentStep = to
	return nil
}

// fail marks the record failed and persists it. The original error is
// returned so callers propagate the cause, not the bookkeeping.
func (p *Processor) fail(ctx context.Context, rec *model.ProcessingRecord, step model.Step, cause error) error {
	zap.L().Error("processing failed",
		zap.String("record_id", rec.ID),
		zap.String("step", string(step)),
		zap.Error(cause))

	rec.AppendError(step, cause.Error())
	rec.Workflow.CurrentStep = model.StepFailed
	rec.Workflow.Status = model.StatusFailed
	markStageFailed(rec, step)

	if err := p.store.UpdateRecord(ctx, rec); err != nil {
		zap.L().Warn("failed to persist failure state",
			zap.String("record_id", rec.ID),
			zap.Error(err))
	}
	return cause
}

func markStageFailed(rec *model.ProcessingRecord, step model.Step) {
	switch step {
	case model.StepAnalysis:
		if rec.Analysis != nil {
			rec.Analysis.Status = model.StageFailed
		}
	case model.StepDataCollection:
		if rec.DataCollection != nil {
			rec.DataCollection.Status = model.StageFailed
		}
	case model.StepVerification:
		if rec.Verification != nil {
			rec.Verification.Status = model.StageFailed
		}
	case model.StepFilling:
		if rec.Filling != nil {
			rec.Filling.Status = model.StageFailed
		}
	}
}
