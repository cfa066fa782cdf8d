package pipeline

import (
	"context"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/scribeworks/formfill-cli/internal/model"
)

// RunBatch analyzes a set of documents as one tracked batch and waits for it
// to finish. Documents are processed one at a time in submission order; a
// failed document is counted and skipped, it never aborts the rest. Quota is
// reserved per document, so once the daily limit is hit the remaining
// documents fail at reservation without spending oracle calls. Each
// successful document ends at data collection awaiting the user's input,
// same as a single Start.
func (p *Processor) RunBatch(ctx context.Context, userID string, refs []model.FileRef) (*model.BatchRecord, error) {
	batch, err := p.createBatch(ctx, userID, refs)
	if err != nil {
		return nil, err
	}
	p.runDocuments(ctx, batch, refs)
	return batch, nil
}

// StartBatch creates the batch record and processes it in the background,
// detached from the caller's context. The returned record is the queued
// batch; progress is observable through BatchStatus. Concurrent background
// batches are bounded by the configured limit, excess batches wait for a
// slot.
func (p *Processor) StartBatch(ctx context.Context, userID string, refs []model.FileRef) (*model.BatchRecord, error) {
	batch, err := p.createBatch(ctx, userID, refs)
	if err != nil {
		return nil, err
	}

	go func() {
		p.batchSlots <- struct{}{}
		defer func() { <-p.batchSlots }()
		p.runDocuments(context.WithoutCancel(ctx), batch, refs)
	}()

	return batch, nil
}

func (p *Processor) createBatch(ctx context.Context, userID string, refs []model.FileRef) (*model.BatchRecord, error) {
	if len(refs) == 0 {
		return nil, eris.New("pipeline: empty batch")
	}

	batch := &model.BatchRecord{
		ID:     uuid.New().String(),
		UserID: userID,
		Status: model.BatchQueued,
		Total:  len(refs),
	}
	if err := p.store.CreateBatch(ctx, batch); err != nil {
		return nil, eris.Wrap(err, "pipeline: create batch")
	}
	return batch, nil
}

// runDocuments walks the batch in submission order and updates the batch
// record after every document.
func (p *Processor) runDocuments(ctx context.Context, batch *model.BatchRecord, refs []model.FileRef) {
	log := zap.L().With(
		zap.String("batch_id", batch.ID),
		zap.String("user_id", batch.UserID))
	log.Info("batch started", zap.Int("total", batch.Total))

	batch.Status = model.BatchProcessing
	if err := p.store.UpdateBatch(ctx, batch); err != nil {
		log.Warn("batch update failed", zap.Error(err))
	}

	for _, ref := range refs {
		rec, err := p.Start(ctx, batch.UserID, ref)
		batch.Processed++
		if err != nil {
			batch.Failed++
			log.Warn("batch document failed",
				zap.String("file", ref.Name),
				zap.Error(err))
		} else {
			batch.Succeeded++
			batch.RecordIDs = append(batch.RecordIDs, rec.ID)
		}
		if err := p.store.UpdateBatch(ctx, batch); err != nil {
			log.Warn("batch progress update failed", zap.Error(err))
		}
	}

	if batch.Succeeded == 0 {
		batch.Status = model.BatchFailed
	} else {
		batch.Status = model.BatchCompleted
	}
	if err := p.store.UpdateBatch(ctx, batch); err != nil {
		log.Warn("batch update failed", zap.Error(err))
	}

	log.Info("batch finished",
		zap.Int("succeeded", batch.Succeeded),
		zap.Int("failed", batch.Failed))
}

// BatchStatus reports a batch's progress.
func (p *Processor) BatchStatus(ctx context.Context, userID, batchID string) (*model.BatchRecord, error) {
	return p.store.GetBatch(ctx, batchID, userID)
}
