package recovery

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/scribeworks/formfill-cli/internal/model"
)

// defaultConfidence is assumed for recovered items that carry none.
const defaultConfidence = 0.8

// labelSentinel marks items recovered without any usable label. Such items
// are noise and never leave this package.
const labelSentinel = "__unlabeled__"

// NormalizeFields turns recovered raw items into complete ExtractedField
// records. Missing ids are synthesized, missing confidence defaults to 0.8,
// and items without a label are dropped entirely — the output contains only
// fully populated records.
func NormalizeFields(items []map[string]any, category model.FieldCategory) []model.ExtractedField {
	fields := make([]model.ExtractedField, 0, len(items))
	for _, item := range items {
		f := normalizeField(item, category)
		if f.Label == labelSentinel {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}

func normalizeField(item map[string]any, category model.FieldCategory) model.ExtractedField {
	f := model.ExtractedField{
		ID:         asString(item["id"]),
		Type:       asString(item["type"]),
		Label:      strings.TrimSpace(asString(item["label"])),
		Value:      asString(item["value"]),
		Validation: asString(item["validation"]),
		Required:   asBool(item["required"]),
	}

	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.Type == "" {
		f.Type = string(category)
	}
	if f.Label == "" {
		f.Label = labelSentinel
	}

	if conf, ok := asFloat(item["confidence"]); ok {
		f.Confidence = clamp01(conf)
	} else {
		f.Confidence = defaultConfidence
	}

	if pos, ok := item["position"].(map[string]any); ok {
		p := &model.Position{}
		if v, ok := asFloat(pos["page"]); ok {
			p.Page = int(v)
		}
		p.X, _ = asFloat(pos["x"])
		p.Y, _ = asFloat(pos["y"])
		f.Position = p
	}

	if opts, ok := item["options"].([]any); ok {
		for _, o := range opts {
			if s := asString(o); s != "" {
				f.Options = append(f.Options, s)
			}
		}
	}

	return f
}

// NormalizeSections turns recovered items into Section records, dropping
// items without a title.
func NormalizeSections(items []map[string]any) []model.Section {
	sections := make([]model.Section, 0, len(items))
	for _, item := range items {
		title := strings.TrimSpace(asString(item["title"]))
		if title == "" {
			title = strings.TrimSpace(asString(item["label"]))
		}
		if title == "" {
			continue
		}
		sections = append(sections, model.Section{
			Title:       title,
			Description: asString(item["description"]),
		})
	}
	return sections
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		if s == float64(int64(s)) {
			return fmt.Sprintf("%d", int64(s))
		}
		return fmt.Sprintf("%g", s)
	case bool:
		if s {
			return "true"
		}
		return "false"
	default:
		return ""
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func asBool(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return strings.EqualFold(b, "true") || strings.EqualFold(b, "yes")
	default:
		return false
	}
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
