package model

// AnalysisDimension names one of the four parallel form assessments.
type AnalysisDimension string

const (
	DimensionStructure   AnalysisDimension = "structure"
	DimensionUsability   AnalysisDimension = "usability"
	DimensionPerformance AnalysisDimension = "performance"
	DimensionCompliance  AnalysisDimension = "compliance"
)

// AnalysisDimensions lists the assessment dimensions in fan-out order.
var AnalysisDimensions = []AnalysisDimension{
	DimensionStructure,
	DimensionUsability,
	DimensionPerformance,
	DimensionCompliance,
}

// DimensionReport is the recovered assessment for one analysis dimension.
type DimensionReport struct {
	Name       string   `json:"name"`
	Summary    string   `json:"summary"`
	Findings   []string `json:"findings,omitempty"`
	Confidence float64  `json:"confidence"`
}

// AnalysisInsights aggregates the four dimension reports. Confidence is the
// mean of the dimension confidences.
type AnalysisInsights struct {
	Structure   DimensionReport `json:"structure"`
	Usability   DimensionReport `json:"usability"`
	Performance DimensionReport `json:"performance"`
	Compliance  DimensionReport `json:"compliance"`
	Confidence  float64         `json:"confidence"`
}

// defaultDimensionReports provides the documented fallback per dimension,
// used when the oracle's answer for that dimension cannot be recovered.
var defaultDimensionReports = map[AnalysisDimension]DimensionReport{
	DimensionStructure: {
		Name:       string(DimensionStructure),
		Summary:    "Structure analysis unavailable; assuming a flat single-section form.",
		Confidence: 0.5,
	},
	DimensionUsability: {
		Name:       string(DimensionUsability),
		Summary:    "Usability analysis unavailable; no usability issues recorded.",
		Confidence: 0.5,
	},
	DimensionPerformance: {
		Name:       string(DimensionPerformance),
		Summary:    "Completion prediction unavailable; assuming average completion effort.",
		Confidence: 0.5,
	},
	DimensionCompliance: {
		Name:       string(DimensionCompliance),
		Summary:    "Compliance analysis unavailable; no compliance findings recorded.",
		Confidence: 0.5,
	},
}

// DefaultDimensionReport returns the fallback report for a dimension.
func DefaultDimensionReport(dim AnalysisDimension) DimensionReport {
	if r, ok := defaultDimensionReports[dim]; ok {
		return r
	}
	return DimensionReport{Name: string(dim), Confidence: 0.5}
}
