// Package cost estimates oracle spend from token usage.
package cost

import (
	fmodel "github.com/scribeworks/formfill-cli/internal/model"
)

// ModelRate holds per-model token pricing (per million tokens, USD).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Rates maps model IDs to their pricing.
type Rates map[string]ModelRate

// Calculator computes estimated costs for oracle usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// Completion computes the cost of token usage against one model. Unknown
// models cost zero.
func (c *Calculator) Completion(model string, usage fmodel.TokenUsage) float64 {
	rate, ok := c.rates[model]
	if !ok {
		return 0
	}
	inCost := (float64(usage.InputTokens) / 1e6) * rate.Input
	outCost := (float64(usage.OutputTokens) / 1e6) * rate.Output
	return inCost + outCost
}

// DefaultRates returns the default pricing for the models the pipeline
// ships with.
func DefaultRates() Rates {
	return Rates{
		"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
		"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		"claude-opus-4-6":            {Input: 15.00, Output: 75.00},
	}
}
