package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribeworks/formfill-cli/internal/model"
)

func TestNormalizeFields_SynthesizesMissingID(t *testing.T) {
	fields := NormalizeFields([]map[string]any{
		{"label": "Name"},
	}, model.CategoryText)

	require.Len(t, fields, 1)
	assert.NotEmpty(t, fields[0].ID)
	assert.Equal(t, "Name", fields[0].Label)
	assert.Equal(t, "text", fields[0].Type)
}

func TestNormalizeFields_ConfidenceDefaultsAndClamps(t *testing.T) {
	fields := NormalizeFields([]map[string]any{
		{"label": "A"},
		{"label": "B", "confidence": 0.3},
		{"label": "C", "confidence": 1.7},
		{"label": "D", "confidence": -0.2},
	}, model.CategoryText)

	require.Len(t, fields, 4)
	assert.Equal(t, 0.8, fields[0].Confidence)
	assert.Equal(t, 0.3, fields[1].Confidence)
	assert.Equal(t, 1.0, fields[2].Confidence)
	assert.Equal(t, 0.0, fields[3].Confidence)
}

func TestNormalizeFields_DropsUnlabeledItems(t *testing.T) {
	fields := NormalizeFields([]map[string]any{
		{"label": "Keep", "id": "f1"},
		{"id": "f2", "type": "text"},
		{"label": "   ", "id": "f3"},
	}, model.CategoryText)

	// Unlabeled items never leave normalization half-populated; they are
	// dropped entirely.
	require.Len(t, fields, 1)
	assert.Equal(t, "Keep", fields[0].Label)
}

func TestNormalizeFields_AlwaysCompleteOrDropped(t *testing.T) {
	items := []map[string]any{
		{"label": "A"},
		{},
		{"label": "B", "confidence": 0.5, "id": "x"},
		{"value": "orphan"},
	}
	for _, f := range NormalizeFields(items, model.CategoryCheckbox) {
		assert.NotEmpty(t, f.ID)
		assert.NotEmpty(t, f.Label)
		assert.NotEmpty(t, f.Type)
		assert.GreaterOrEqual(t, f.Confidence, 0.0)
		assert.LessOrEqual(t, f.Confidence, 1.0)
	}
}

func TestNormalizeFields_PositionOptionsAndFlags(t *testing.T) {
	fields := NormalizeFields([]map[string]any{
		{
			"label":      "Gender",
			"type":       "radio",
			"required":   true,
			"validation": "^(M|F|X)$",
			"options":    []any{"M", "F", "X"},
			"position":   map[string]any{"page": float64(2), "x": 10.5, "y": 44.0},
		},
	}, model.CategoryRadio)

	require.Len(t, fields, 1)
	f := fields[0]
	assert.True(t, f.Required)
	assert.Equal(t, "^(M|F|X)$", f.Validation)
	assert.Equal(t, []string{"M", "F", "X"}, f.Options)
	require.NotNil(t, f.Position)
	assert.Equal(t, 2, f.Position.Page)
	assert.Equal(t, 10.5, f.Position.X)
}

func TestNormalizeFields_CoercesScalarValues(t *testing.T) {
	fields := NormalizeFields([]map[string]any{
		{"label": "Age", "value": float64(42)},
		{"label": "Member", "value": true},
		{"label": "Ratio", "value": 0.25},
	}, model.CategoryText)

	require.Len(t, fields, 3)
	assert.Equal(t, "42", fields[0].Value)
	assert.Equal(t, "true", fields[1].Value)
	assert.Equal(t, "0.25", fields[2].Value)
}

func TestNormalizeSections(t *testing.T) {
	sections := NormalizeSections([]map[string]any{
		{"title": "Applicant", "description": "Personal details"},
		{"label": "Employment"},
		{"description": "no title, dropped"},
	})

	require.Len(t, sections, 2)
	assert.Equal(t, "Applicant", sections[0].Title)
	assert.Equal(t, "Personal details", sections[0].Description)
	assert.Equal(t, "Employment", sections[1].Title)
}

func TestAsBool(t *testing.T) {
	assert.True(t, asBool(true))
	assert.True(t, asBool("true"))
	assert.True(t, asBool("Yes"))
	assert.False(t, asBool("no"))
	assert.False(t, asBool(nil))
	assert.False(t, asBool(float64(1)))
}
