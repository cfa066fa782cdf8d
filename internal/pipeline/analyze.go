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

// analyzeConcurrency bounds parallel oracle calls during the analysis
// fan-out (four dimensions plus the extraction categories).
const analyzeConcurrency = 4

// Analyzer runs the four-dimensional form assessment.
type Analyzer struct {
	oracle Oracle
	model  oracle.ModelConfig
}

// NewAnalyzer creates an Analyzer calling the given oracle.
func NewAnalyzer(o Oracle, mc oracle.ModelConfig) *Analyzer {
	return &Analyzer{oracle: o, model: mc}
}

// Analyze assesses the document on all four dimensions in parallel. A
// dimension whose response cannot be recovered falls back to its documented
// default; the call as a whole fails only on context cancellation.
func (a *Analyzer) Analyze(ctx context.Context, doc *ingest.Document) (*model.AnalysisInsights, model.TokenUsage, error) {
	log := zap.L().With(zap.String("stage", "analysis"))

	reports := make(map[model.AnalysisDimension]model.DimensionReport, len(model.AnalysisDimensions))
	var mu sync.Mutex
	var usage model.TokenUsage

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(analyzeConcurrency)

	for _, dim := range model.AnalysisDimensions {
		g.Go(func() error {
			prompt := fmt.Sprintf(analysisPrompt,
				dim, dimensionFocus[string(dim)], doc.Text, dim)

			resp, err := a.oracle.CallWithRetry(gCtx, a.model, prompt, analysisSystemText)
			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				log.Warn("dimension assessment failed, using default",
					zap.String("dimension", string(dim)),
					zap.Error(err))
				mu.Lock()
				reports[dim] = model.DefaultDimensionReport(dim)
				mu.Unlock()
				return nil
			}

			report, recovered := recoverDimension(resp.Text(), dim)
			if !recovered {
				log.Warn("dimension response unrecoverable, using default",
					zap.String("dimension", string(dim)))
			}

			mu.Lock()
			reports[dim] = report
			usage.Add(model.TokenUsage{
				InputTokens:  int(resp.Usage.InputTokens),
				OutputTokens: int(resp.Usage.OutputTokens),
			})
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, usage, err
	}

	insights := &model.AnalysisInsights{
		Structure:   reports[model.DimensionStructure],
		Usability:   reports[model.DimensionUsability],
		Performance: reports[model.DimensionPerformance],
		Compliance:  reports[model.DimensionCompliance],
	}
	var sum float64
	for _, dim := range model.AnalysisDimensions {
		sum += reports[dim].Confidence
	}
	insights.Confidence = sum / float64(len(model.AnalysisDimensions))

	if doc.Degraded {
		// No extractable text means every assessment is a guess.
		insights.Confidence = minF(insights.Confidence, 0.3)
	}

	return insights, usage, nil
}

// recoverDimension turns a raw oracle response into a DimensionReport,
// falling back to the dimension default.
func recoverDimension(raw string, dim model.AnalysisDimension) (model.DimensionReport, bool) {
	obj, ok := recovery.RecoverObject(raw)
	if !ok {
		return model.DefaultDimensionReport(dim), false
	}

	report := model.DimensionReport{Name: string(dim)}
	if s, ok := obj["summary"].(string); ok {
		report.Summary = s
	}
	if findings, ok := obj["findings"].([]any); ok {
		for _, f := range findings {
			if s, ok := f.(string); ok && s != "" {
				report.Findings = append(report.Findings, s)
			}
		}
	}
	report.Confidence = confidenceOf(obj)

	if report.Summary == "" {
		return model.DefaultDimensionReport(dim), false
	}
	return report, true
}

// confidenceOf pulls a clamped confidence from a recovered object,
// defaulting to 0.8 when absent.
func confidenceOf(obj map[string]any) float64 {
	switch v := obj["confidence"].(type) {
	case float64:
		return clamp01(v)
	case int:
		return clamp01(float64(v))
	}
	return 0.8
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
