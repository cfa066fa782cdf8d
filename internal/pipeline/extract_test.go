package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeworks/formfill-cli/internal/model"
	"github.com/scribeworks/formfill-cli/pkg/oracle"
)

func TestExtractMergesCategories(t *testing.T) {
	o := &scriptedOracle{
		script: []scriptEntry{
			{contains: "free-text input", reply: `[{"label": "Full Name", "type": "text", "confidence": 0.95, "required": true}, {"label": "Email", "type": "email", "confidence": 0.9, "required": true, "validation": "email"}]`},
			{contains: "Extract every checkbox", reply: `[{"label": "I agree to the terms", "type": "checkbox", "confidence": 0.85}]`},
			{contains: "Extract every signature", reply: `[{"label": "Applicant Signature", "confidence": 0.9, "required": true}]`},
			{contains: "List the logical sections", reply: `[{"title": "Personal Information", "description": "Who you are"}]`},
		},
		fallback: `[]`,
	}
	e := NewExtractor(o, oracle.ModelConfig{Model: "test-model"}, 0.5)

	result, usage, err := e.Extract(context.Background(), testDoc())
	require.NoError(t, err)

	assert.Equal(t, 4, result.TotalFields)
	assert.Equal(t, 2, result.CategoryCounts["text"])
	assert.Equal(t, 1, result.CategoryCounts["checkbox"])
	assert.Equal(t, 1, result.CategoryCounts["signature"])
	assert.NotContains(t, result.CategoryCounts, "radio")

	// Merge order follows category fan-out order: text first.
	assert.Equal(t, "Full Name", result.Fields[0].Label)
	// Signature field with no type inherits its category.
	assert.Equal(t, "signature", result.Fields[3].Type)

	require.Len(t, result.Sections, 1)
	assert.Equal(t, "Personal Information", result.Sections[0].Title)

	assert.InDelta(t, 0.9, result.Confidence, 0.001)
	assert.Positive(t, usage.InputTokens)
}

func TestExtractRefusalYieldsZeroFields(t *testing.T) {
	// A refusal defeats every recovery strategy; the result is a valid
	// empty extraction, not an error.
	o := &scriptedOracle{fallback: "Sorry, I can't help with that."}
	e := NewExtractor(o, oracle.ModelConfig{Model: "test-model"}, 0.5)

	result, _, err := e.Extract(context.Background(), testDoc())
	require.NoError(t, err)
	assert.Equal(t, 0, result.TotalFields)
	assert.Empty(t, result.Fields)
	assert.Zero(t, result.Confidence)
}

func TestExtractFlagsLowConfidenceFields(t *testing.T) {
	o := &scriptedOracle{
		script: []scriptEntry{
			{contains: "free-text input", reply: `[{"label": "Smudged Field", "type": "text", "confidence": 0.2}]`},
		},
		fallback: `[]`,
	}
	e := NewExtractor(o, oracle.ModelConfig{Model: "test-model"}, 0.5)

	result, _, err := e.Extract(context.Background(), testDoc())
	require.NoError(t, err)
	require.Len(t, result.Issues, 1)
	assert.Contains(t, result.Issues[0], "Smudged Field")
}

func TestExtractUnlabeledFieldsDropped(t *testing.T) {
	o := &scriptedOracle{
		script: []scriptEntry{
			{contains: "free-text input", reply: `[{"label": "__unlabeled__", "type": "text", "confidence": 0.9}, {"label": "Date", "type": "date", "confidence": 0.9}]`},
		},
		fallback: `[]`,
	}
	e := NewExtractor(o, oracle.ModelConfig{Model: "test-model"}, 0.5)

	result, _, err := e.Extract(context.Background(), testDoc())
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalFields)
	assert.Equal(t, "Date", result.Fields[0].Label)
}

func TestMergeExtractionEveryFieldComplete(t *testing.T) {
	byCategory := map[model.FieldCategory][]model.ExtractedField{
		model.CategoryText: {
			{ID: "a", Type: "text", Label: "Name", Confidence: 0.8},
		},
		model.CategoryTable: {
			{ID: "b", Type: "table", Label: "Dependents", Confidence: 0.6},
		},
	}
	result := mergeExtraction(byCategory, nil, 0.5)

	assert.Equal(t, 2, result.TotalFields)
	for _, f := range result.Fields {
		assert.NotEmpty(t, f.ID)
		assert.NotEmpty(t, f.Label)
		assert.NotEmpty(t, f.Type)
	}
	assert.InDelta(t, 0.7, result.Confidence, 0.001)
}

func TestMergeExtractionConfiguredConfidenceFloor(t *testing.T) {
	byCategory := map[model.FieldCategory][]model.ExtractedField{
		model.CategoryText: {
			{ID: "a", Type: "text", Label: "Name", Confidence: 0.8},
		},
	}

	lenient := mergeExtraction(byCategory, nil, 0.5)
	assert.Empty(t, lenient.Issues)

	strict := mergeExtraction(byCategory, nil, 0.9)
	require.Len(t, strict.Issues, 1)
	assert.Contains(t, strict.Issues[0], "Name")
}
