// Package recovery extracts structured data from unreliable oracle text.
//
// The oracle is instructed to return pure JSON but routinely wraps it in
// prose, code fences, or broken escaping. Recovery runs a fixed-priority
// cascade of independent strategies and stops at the first that yields a
// non-empty, syntactically valid result. A full miss is not an error:
// callers receive an empty collection and absorb it as zero items.
package recovery

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Strategy names one cascade step, in priority order.
type Strategy string

const (
	StrategyBracketArray Strategy = "bracket_array"
	StrategyNamedArray   Strategy = "named_array"
	StrategyCodeFence    Strategy = "code_fence"
	StrategyRegexScan    Strategy = "regex_scan"
	StrategyEscapeRepair Strategy = "escape_repair"
	StrategyItemRebuild  Strategy = "item_rebuild"
)

// namedArrayKeys are the object keys checked when the oracle wraps its array
// in an envelope object.
var namedArrayKeys = []string{"fields", "data", "items", "results", "sections"}

var (
	fenceRe      = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")
	namedArrayRe = regexp.MustCompile(`(?s)"(?:fields|data|items|results|sections)"\s*:\s*(\[.*?\])`)
	itemRe       = regexp.MustCompile(`(?s)\{[^{}]*"label"[^{}]*\}`)
)

type arrayStrategy struct {
	name Strategy
	fn   func(raw string) ([]map[string]any, bool)
}

// defaultArrayStrategies is the cascade in its fixed priority order.
var defaultArrayStrategies = []arrayStrategy{
	{StrategyBracketArray, scanBracketArray},
	{StrategyNamedArray, scanNamedArray},
	{StrategyCodeFence, scanCodeFenceArray},
	{StrategyRegexScan, scanRegexArray},
	{StrategyEscapeRepair, repairAndScanArray},
	{StrategyItemRebuild, rebuildItems},
}

// RecoverArray extracts a list of objects from raw oracle text. The boolean
// reports whether any strategy succeeded; on a miss the returned slice is
// empty, never nil-error.
func RecoverArray(raw string) ([]map[string]any, bool) {
	items, _, ok := recoverArray(raw, defaultArrayStrategies)
	return items, ok
}

// RecoverArrayStrategy is RecoverArray plus the name of the strategy that
// produced the result, for diagnostics.
func RecoverArrayStrategy(raw string) ([]map[string]any, Strategy, bool) {
	return recoverArray(raw, defaultArrayStrategies)
}

func recoverArray(raw string, strategies []arrayStrategy) ([]map[string]any, Strategy, bool) {
	if strings.TrimSpace(raw) == "" {
		return nil, "", false
	}
	for _, s := range strategies {
		if items, ok := s.fn(raw); ok && len(items) > 0 {
			return items, s.name, true
		}
	}
	return nil, "", false
}

// RecoverObject extracts a single object from raw oracle text, using the
// object-shaped subset of the cascade: direct brace scan, code fence scan,
// then escape-normalization repair.
func RecoverObject(raw string) (map[string]any, bool) {
	if strings.TrimSpace(raw) == "" {
		return nil, false
	}

	if obj, ok := scanBracketObject(raw); ok {
		return obj, true
	}
	for _, m := range fenceRe.FindAllStringSubmatch(raw, -1) {
		if obj, ok := scanBracketObject(m[1]); ok {
			return obj, true
		}
	}
	if obj, ok := scanBracketObject(normalizeEscapes(raw)); ok {
		return obj, true
	}
	return nil, false
}

// scanBracketArray parses the outermost [...] substring as a JSON array of
// objects.
func scanBracketArray(raw string) ([]map[string]any, bool) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, false
	}
	return parseObjectArray(raw[start : end+1])
}

// scanNamedArray parses the outermost {...} substring as an object and pulls
// the first known array key out of it.
func scanNamedArray(raw string) ([]map[string]any, bool) {
	obj, ok := scanBracketObject(raw)
	if !ok {
		return nil, false
	}
	for _, key := range namedArrayKeys {
		inner, ok := obj[key].([]any)
		if !ok {
			continue
		}
		if items, ok := objectsOf(inner); ok {
			return items, true
		}
	}
	return nil, false
}

// scanCodeFenceArray tries the content of each fenced code block, with or
// without a language tag, as an array.
func scanCodeFenceArray(raw string) ([]map[string]any, bool) {
	for _, m := range fenceRe.FindAllStringSubmatch(raw, -1) {
		if items, ok := scanBracketArray(m[1]); ok {
			return items, true
		}
	}
	return nil, false
}

// scanRegexArray loosely matches `"<key>": [...]` anywhere in the text and
// tries every match until one parses.
func scanRegexArray(raw string) ([]map[string]any, bool) {
	for _, m := range namedArrayRe.FindAllStringSubmatch(raw, -1) {
		if items, ok := parseObjectArray(m[1]); ok {
			return items, true
		}
	}
	return nil, false
}

// repairAndScanArray normalizes broken escaping, then retries the bracket
// scan.
func repairAndScanArray(raw string) ([]map[string]any, bool) {
	return scanBracketArray(normalizeEscapes(raw))
}

// rebuildItems reconstructs the collection one object fragment at a time,
// discarding fragments that fail to parse. Succeeds if at least one fragment
// parses.
func rebuildItems(raw string) ([]map[string]any, bool) {
	var items []map[string]any
	for _, frag := range itemRe.FindAllString(raw, -1) {
		var obj map[string]any
		if err := json.Unmarshal([]byte(frag), &obj); err != nil {
			continue
		}
		items = append(items, obj)
	}
	return items, len(items) > 0
}

// normalizeEscapes collapses doubled backslashes and quotes and strips
// literal escaped whitespace sequences the oracle sometimes emits.
func normalizeEscapes(raw string) string {
	r := strings.NewReplacer(
		`\\`, `\`,
		`""`, `"`,
		`\n`, " ",
		`\t`, " ",
		`\r`, "",
	)
	return r.Replace(raw)
}

func scanBracketObject(raw string) (map[string]any, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw[start:end+1]), &obj); err != nil {
		return nil, false
	}
	if len(obj) == 0 {
		return nil, false
	}
	return obj, true
}

func parseObjectArray(raw string) ([]map[string]any, bool) {
	var arr []any
	if err := json.Unmarshal([]byte(raw), &arr); err != nil {
		return nil, false
	}
	return objectsOf(arr)
}

// objectsOf keeps the object elements of a decoded array. Non-object
// elements are noise, not a parse failure.
func objectsOf(arr []any) ([]map[string]any, bool) {
	var items []map[string]any
	for _, el := range arr {
		if obj, ok := el.(map[string]any); ok {
			items = append(items, obj)
		}
	}
	return items, len(items) > 0
}
