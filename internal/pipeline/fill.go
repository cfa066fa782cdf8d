package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/scribeworks/formfill-cli/internal/model"
	"github.com/scribeworks/formfill-cli/internal/recovery"
	"github.com/scribeworks/formfill-cli/pkg/oracle"
)

// Filler maps verified user data onto form fields.
type Filler struct {
	oracle        Oracle
	model         oracle.ModelConfig
	minConfidence float64
}

// NewFiller creates a Filler calling the given oracle. Mappings below
// minConfidence draw a quality warning; zero or negative falls back to the
// default floor.
func NewFiller(o Oracle, mc oracle.ModelConfig, minConfidence float64) *Filler {
	if minConfidence <= 0 {
		minConfidence = lowConfidenceFloor
	}
	return &Filler{oracle: o, model: mc, minConfidence: minConfidence}
}

// FillOutcome is the result of the mapping pass.
type FillOutcome struct {
	Mappings         []model.FieldMapping
	UnmappedRequired []string
	Quality          *model.QualityReport
}

// Fill asks the oracle to map submitted values onto the requirement set,
// then strips any mapping the user's data cannot account for. A field is
// only ever filled from data the user actually provided; when the oracle
// call or recovery fails entirely, exact field-name matching fills what it
// can.
func (f *Filler) Fill(ctx context.Context, requirements *model.RequirementSet, submitted *model.SubmittedData) (*FillOutcome, model.TokenUsage, error) {
	log := zap.L().With(zap.String("stage", "filling"))

	var usage model.TokenUsage
	values := map[string]string{}
	if submitted != nil {
		values = submitted.Values
	}

	mappings := f.oracleMappings(ctx, requirements, values, &usage, log)
	if mappings == nil {
		log.Warn("oracle mapping unavailable, falling back to exact matching")
		mappings = directMappings(requirements, values)
	}

	mappings = enforceProvenance(mappings, requirements, values, log)

	outcome := &FillOutcome{Mappings: mappings}
	outcome.UnmappedRequired = unmappedRequired(requirements, mappings)
	outcome.Quality = assessQuality(requirements, outcome, f.minConfidence)

	log.Info("filling complete",
		zap.Int("mapped", len(mappings)),
		zap.Int("unmapped_required", len(outcome.UnmappedRequired)),
		zap.Float64("quality", outcome.Quality.Score))
	return outcome, usage, nil
}

// oracleMappings runs the mapping prompt. Returns nil when the call fails
// or nothing can be recovered, signaling the caller to fall back.
func (f *Filler) oracleMappings(ctx context.Context, requirements *model.RequirementSet, values map[string]string, usage *model.TokenUsage, log *zap.Logger) []model.FieldMapping {
	fieldsJSON, err := json.MarshalIndent(requirements.Fields, "", "  ")
	if err != nil {
		return nil
	}
	valuesJSON, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return nil
	}

	resp, err := f.oracle.CallWithRetry(ctx, f.model,
		fmt.Sprintf(fillPrompt, fieldsJSON, valuesJSON), fillSystemText)
	if err != nil {
		log.Warn("mapping call failed", zap.Error(err))
		return nil
	}
	usage.Add(model.TokenUsage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	})

	items, ok := recovery.RecoverArray(resp.Text())
	if !ok {
		log.Warn("mapping response unrecoverable")
		return nil
	}

	var mappings []model.FieldMapping
	for _, item := range items {
		m := model.FieldMapping{Confidence: 0.8}
		if s, ok := item["field"].(string); ok {
			m.Field = s
		}
		if s, ok := item["source"].(string); ok {
			m.Source = s
		}
		if s, ok := item["value"].(string); ok {
			m.Value = s
		}
		if c, ok := item["confidence"].(float64); ok {
			m.Confidence = clamp01(c)
		}
		if m.Field != "" && m.Value != "" {
			mappings = append(mappings, m)
		}
	}
	return mappings
}

// directMappings fills fields whose names exactly match submitted keys.
func directMappings(requirements *model.RequirementSet, values map[string]string) []model.FieldMapping {
	var mappings []model.FieldMapping
	for _, req := range requirements.Fields {
		value, ok := values[req.Field]
		if !ok || strings.TrimSpace(value) == "" {
			continue
		}
		mappings = append(mappings, model.FieldMapping{
			Field:      req.Field,
			Source:     req.Field,
			Value:      value,
			Confidence: 1.0,
		})
	}
	return mappings
}

// enforceProvenance drops any mapping that targets an unknown field or
// whose source is not a key the user submitted. A mapping whose value
// shares nothing with the cited source value is kept but penalized, so it
// surfaces as a low-confidence warning in the quality report. The oracle
// proposes, the user's data disposes.
func enforceProvenance(mappings []model.FieldMapping, requirements *model.RequirementSet, values map[string]string, log *zap.Logger) []model.FieldMapping {
	known := make(map[string]bool, len(requirements.Fields))
	for _, req := range requirements.Fields {
		known[req.Field] = true
	}

	kept := mappings[:0]
	seen := make(map[string]bool, len(mappings))
	for _, m := range mappings {
		if !known[m.Field] {
			log.Warn("dropping mapping for unknown field", zap.String("field", m.Field))
			continue
		}
		source, ok := values[m.Source]
		if !ok {
			log.Warn("dropping mapping with fabricated source",
				zap.String("field", m.Field),
				zap.String("source", m.Source))
			continue
		}
		if seen[m.Field] {
			continue
		}
		if !valuesOverlap(m.Value, source) {
			log.Warn("mapping value diverges from its source",
				zap.String("field", m.Field),
				zap.String("source", m.Source))
			m.Confidence = clamp01(m.Confidence * 0.5)
		}
		seen[m.Field] = true
		kept = append(kept, m)
	}
	return kept
}

// valuesOverlap reports whether a mapped value is plausibly derived from
// the source value. Reformatting is allowed, so the test is lenient: the
// folded strings must contain one another or share at least one token.
func valuesOverlap(value, source string) bool {
	a := foldValue(value)
	b := foldValue(source)
	if a == "" || b == "" {
		return true
	}
	compactA := strings.ReplaceAll(a, " ", "")
	compactB := strings.ReplaceAll(b, " ", "")
	if strings.Contains(compactA, compactB) || strings.Contains(compactB, compactA) {
		return true
	}
	for _, tok := range strings.Fields(a) {
		if strings.Contains(compactB, tok) {
			return true
		}
	}
	for _, tok := range strings.Fields(b) {
		if strings.Contains(compactA, tok) {
			return true
		}
	}
	return false
}

// foldValue lowercases and squashes everything that is not a letter or
// digit into single spaces.
func foldValue(s string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			space = false
		default:
			if !space {
				b.WriteByte(' ')
				space = true
			}
		}
	}
	return strings.TrimSpace(b.String())
}

func unmappedRequired(requirements *model.RequirementSet, mappings []model.FieldMapping) []string {
	mapped := make(map[string]bool, len(mappings))
	for _, m := range mappings {
		mapped[m.Field] = true
	}
	var missing []string
	for _, req := range requirements.Fields {
		if req.Required && !mapped[req.Field] {
			missing = append(missing, req.Field)
		}
	}
	return missing
}

// assessQuality scores the fill. Completion rate is mapped fields over all
// requirements; the score additionally penalizes unmapped required fields
// and low-confidence mappings.
func assessQuality(requirements *model.RequirementSet, outcome *FillOutcome, minConfidence float64) *model.QualityReport {
	report := &model.QualityReport{Score: 1.0, CompletionRate: 1.0}
	total := len(requirements.Fields)
	if total == 0 {
		return report
	}

	report.CompletionRate = float64(len(outcome.Mappings)) / float64(total)

	var confidenceSum float64
	for _, m := range outcome.Mappings {
		confidenceSum += m.Confidence
		if m.Confidence < minConfidence {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("low confidence mapping for %q", m.Field))
		}
	}
	meanConfidence := 1.0
	if len(outcome.Mappings) > 0 {
		meanConfidence = confidenceSum / float64(len(outcome.Mappings))
	}

	for _, field := range outcome.UnmappedRequired {
		report.Issues = append(report.Issues, "required field not filled: "+field)
	}

	requiredTotal := 0
	for _, req := range requirements.Fields {
		if req.Required {
			requiredTotal++
		}
	}
	requiredRate := 1.0
	if requiredTotal > 0 {
		requiredRate = float64(requiredTotal-len(outcome.UnmappedRequired)) / float64(requiredTotal)
	}

	report.Score = clamp01(0.5*requiredRate + 0.3*report.CompletionRate + 0.2*meanConfidence)
	return report
}
