package recovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverArray_DirectArray(t *testing.T) {
	items, strategy, ok := RecoverArrayStrategy(`[{"label": "Name", "type": "text"}, {"label": "Email", "type": "text"}]`)
	require.True(t, ok)
	assert.Equal(t, StrategyBracketArray, strategy)
	require.Len(t, items, 2)
	assert.Equal(t, "Name", items[0]["label"])
	assert.Equal(t, "Email", items[1]["label"])
}

func TestRecoverArray_ArrayWrappedInProse(t *testing.T) {
	raw := `Here are the fields I found:

[{"label": "Name"}]

Let me know if you need anything else.`
	items, strategy, ok := RecoverArrayStrategy(raw)
	require.True(t, ok)
	assert.Equal(t, StrategyBracketArray, strategy)
	assert.Len(t, items, 1)
}

func TestRecoverArray_EnvelopeObject(t *testing.T) {
	// The trailing "tags" array defeats the direct bracket scan: the
	// first-[ to last-] substring spans both arrays and does not parse.
	raw := `{"fields": [{"label": "Name"}, {"label": "Date"}], "tags": ["w4"]}`
	items, strategy, ok := RecoverArrayStrategy(raw)
	require.True(t, ok)
	assert.Equal(t, StrategyNamedArray, strategy)
	require.Len(t, items, 2)
	assert.Equal(t, "Name", items[0]["label"])
}

func TestRecoverArray_CodeFence(t *testing.T) {
	raw := "Sure [as requested]! Here is the result:\n```json\n[{\"label\": \"Name\"}]\n```\nDone [end]"
	items, strategy, ok := RecoverArrayStrategy(raw)
	require.True(t, ok)
	assert.Equal(t, StrategyCodeFence, strategy)
	assert.Len(t, items, 1)
}

func TestRecoverArray_UntaggedCodeFence(t *testing.T) {
	raw := "Output [1]:\n```\n[{\"label\": \"City\"}]\n```\ntrailing ] noise"
	items, _, ok := RecoverArrayStrategy(raw)
	require.True(t, ok)
	assert.Equal(t, "City", items[0]["label"])
}

func TestRecoverArray_LooseRegexScan(t *testing.T) {
	raw := `Result[1] follows — "data": [{"label": "Phone"}] — end of output]`
	items, strategy, ok := RecoverArrayStrategy(raw)
	require.True(t, ok)
	assert.Equal(t, StrategyRegexScan, strategy)
	assert.Equal(t, "Phone", items[0]["label"])
}

func TestRecoverArray_EscapeRepair(t *testing.T) {
	// Literal \n sequences outside string values break plain parsing.
	raw := `[\n  {"label": "Name"},\n  {"label": "Email"}\n]`
	items, strategy, ok := RecoverArrayStrategy(raw)
	require.True(t, ok)
	assert.Equal(t, StrategyEscapeRepair, strategy)
	assert.Len(t, items, 2)
}

func TestRecoverArray_ItemRebuild(t *testing.T) {
	raw := `field one {"label": "A", "type": "text"} then {"label": "B"} and finally {"label": broken}`
	items, strategy, ok := RecoverArrayStrategy(raw)
	require.True(t, ok)
	assert.Equal(t, StrategyItemRebuild, strategy)
	// The unparseable third fragment is discarded, not fatal.
	require.Len(t, items, 2)
	assert.Equal(t, "A", items[0]["label"])
	assert.Equal(t, "B", items[1]["label"])
}

func TestRecoverArray_AllStrategiesFail(t *testing.T) {
	for _, raw := range []string{
		"Sorry, I can't help with that.",
		"",
		"   \n\t  ",
		`["just", "strings"]`,
	} {
		items, ok := RecoverArray(raw)
		assert.False(t, ok, "raw: %q", raw)
		assert.Empty(t, items)
	}
}

func TestRecoverArray_CascadeStopsAtFirstSuccess(t *testing.T) {
	counts := make([]int, len(defaultArrayStrategies))
	instrumented := make([]arrayStrategy, len(defaultArrayStrategies))
	for i, s := range defaultArrayStrategies {
		instrumented[i] = arrayStrategy{name: s.name, fn: func(raw string) ([]map[string]any, bool) {
			counts[i]++
			return s.fn(raw)
		}}
	}

	// Succeeds at strategy 2 (named array).
	_, strategy, ok := recoverArray(`{"fields": [{"label": "X"}], "tags": ["a"]}`, instrumented)
	require.True(t, ok)
	assert.Equal(t, StrategyNamedArray, strategy)

	assert.Equal(t, 1, counts[0])
	assert.Equal(t, 1, counts[1])
	for i := 2; i < len(counts); i++ {
		assert.Zero(t, counts[i], "strategy %s must not run after a success", defaultArrayStrategies[i].name)
	}
}

func TestRecoverObject_Direct(t *testing.T) {
	obj, ok := RecoverObject(`{"summary": "clean form", "confidence": 0.9}`)
	require.True(t, ok)
	assert.Equal(t, "clean form", obj["summary"])
}

func TestRecoverObject_ProseAndFence(t *testing.T) {
	obj, ok := RecoverObject("My assessment:\n```json\n{\"summary\": \"ok\"}\n```")
	require.True(t, ok)
	assert.Equal(t, "ok", obj["summary"])
}

func TestRecoverObject_EscapeRepair(t *testing.T) {
	obj, ok := RecoverObject(`{\n "summary": "dense layout"\n}`)
	require.True(t, ok)
	assert.Equal(t, "dense layout", obj["summary"])
}

func TestRecoverObject_Miss(t *testing.T) {
	obj, ok := RecoverObject("I am unable to produce a valid assessment.")
	assert.False(t, ok)
	assert.Nil(t, obj)

	obj, ok = RecoverObject("{}")
	assert.False(t, ok)
	assert.Nil(t, obj)
}
