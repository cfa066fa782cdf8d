package pipeline

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/scribeworks/formfill-cli/internal/ingest"
	"github.com/scribeworks/formfill-cli/internal/model"
	"github.com/scribeworks/formfill-cli/internal/recovery"
	"github.com/scribeworks/formfill-cli/pkg/oracle"
)

// lowConfidenceFloor is the fallback threshold for flagging extracted fields
// when no explicit one is configured.
const lowConfidenceFloor = 0.5

// Extractor pulls form fields out of a document, one oracle call per field
// category plus one for the section outline.
type Extractor struct {
	oracle        Oracle
	model         oracle.ModelConfig
	minConfidence float64
}

// NewExtractor creates an Extractor calling the given oracle. Fields below
// minConfidence are flagged as extraction issues; zero or negative falls
// back to the default floor.
func NewExtractor(o Oracle, mc oracle.ModelConfig, minConfidence float64) *Extractor {
	if minConfidence <= 0 {
		minConfidence = lowConfidenceFloor
	}
	return &Extractor{oracle: o, model: mc, minConfidence: minConfidence}
}

// Extract fans out over the field categories and merges the recovered
// fields. A category whose response cannot be recovered contributes zero
// fields; an extraction where every category comes back empty is a valid
// result with TotalFields 0, not an error.
func (e *Extractor) Extract(ctx context.Context, doc *ingest.Document) (*model.ExtractionResult, model.TokenUsage, error) {
	log := zap.L().With(zap.String("stage", "extraction"))

	fieldsByCategory := make(map[model.FieldCategory][]model.ExtractedField, len(model.FieldCategories))
	var sections []model.Section
	var mu sync.Mutex
	var usage model.TokenUsage

	addUsage := func(resp *oracle.Response) {
		usage.Add(model.TokenUsage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		})
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(analyzeConcurrency)

	for _, category := range model.FieldCategories {
		g.Go(func() error {
			desc := categoryDescription[string(category)]
			prompt := fmt.Sprintf(extractionPrompt, desc, doc.Text, desc)

			resp, err := e.oracle.CallWithRetry(gCtx, e.model, prompt, extractionSystemText)
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				log.Warn("category extraction failed",
					zap.String("category", string(category)),
					zap.Error(err))
				return nil
			}

			items, strategy, ok := recovery.RecoverArrayStrategy(resp.Text())
			if !ok {
				log.Warn("category response unrecoverable",
					zap.String("category", string(category)))
				mu.Lock()
				addUsage(resp)
				mu.Unlock()
				return nil
			}

			fields := recovery.NormalizeFields(items, category)
			log.Debug("category extracted",
				zap.String("category", string(category)),
				zap.String("strategy", string(strategy)),
				zap.Int("fields", len(fields)))

			mu.Lock()
			fieldsByCategory[category] = fields
			addUsage(resp)
			mu.Unlock()
			return nil
		})
	}

	g.Go(func() error {
		resp, err := e.oracle.CallWithRetry(gCtx, e.model, fmt.Sprintf(sectionsPrompt, doc.Text), extractionSystemText)
		if err != nil {
			if gCtx.Err() != nil {
				return gCtx.Err()
			}
			log.Warn("section outline failed", zap.Error(err))
			return nil
		}
		items, ok := recovery.RecoverArray(resp.Text())
		mu.Lock()
		if ok {
			sections = recovery.NormalizeSections(items)
		}
		addUsage(resp)
		mu.Unlock()
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, usage, err
	}

	result := mergeExtraction(fieldsByCategory, sections, e.minConfidence)
	if doc.Degraded && result.TotalFields == 0 {
		result.Issues = append(result.Issues, "no text could be extracted from the source document")
	}

	log.Info("extraction complete",
		zap.Int("total_fields", result.TotalFields),
		zap.Float64("confidence", result.Confidence))
	return result, usage, nil
}

// mergeExtraction folds the per-category results into one ExtractionResult.
// Merge order follows the category fan-out order so output is stable.
func mergeExtraction(byCategory map[model.FieldCategory][]model.ExtractedField, sections []model.Section, minConfidence float64) *model.ExtractionResult {
	result := &model.ExtractionResult{
		Sections:       sections,
		CategoryCounts: make(map[string]int),
	}

	var confidenceSum float64
	for _, category := range model.FieldCategories {
		fields := byCategory[category]
		if len(fields) == 0 {
			continue
		}
		result.Fields = append(result.Fields, fields...)
		result.CategoryCounts[string(category)] = len(fields)
		for _, f := range fields {
			confidenceSum += f.Confidence
			if f.Confidence < minConfidence {
				result.Issues = append(result.Issues,
					fmt.Sprintf("low confidence (%0.2f) for field %q", f.Confidence, f.Label))
			}
		}
	}

	result.TotalFields = len(result.Fields)
	if result.TotalFields > 0 {
		result.Confidence = confidenceSum / float64(result.TotalFields)
	}
	return result
}
