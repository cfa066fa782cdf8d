package model

// FieldCategory is one of the extraction fan-out categories.
type FieldCategory string

const (
	CategoryText      FieldCategory = "text"
	CategoryCheckbox  FieldCategory = "checkbox"
	CategoryRadio     FieldCategory = "radio"
	CategorySignature FieldCategory = "signature"
	CategoryTable     FieldCategory = "table"
)

// FieldCategories lists the extraction categories in fan-out order.
var FieldCategories = []FieldCategory{
	CategoryText,
	CategoryCheckbox,
	CategoryRadio,
	CategorySignature,
	CategoryTable,
}

// Position locates a field on the source document.
type Position struct {
	Page int     `json:"page"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// ExtractedField is a single form field recovered from oracle output.
// Confidence reflects estimated extraction reliability, never correctness.
type ExtractedField struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Label      string    `json:"label"`
	Value      string    `json:"value,omitempty"`
	Confidence float64   `json:"confidence"`
	Position   *Position `json:"position,omitempty"`
	Validation string    `json:"validation,omitempty"`
	Required   bool      `json:"required"`
	Options    []string  `json:"options,omitempty"`
}

// Section is a logical grouping of fields on the form.
type Section struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// ExtractionResult is the merged outcome of the per-category extraction
// fan-out.
type ExtractionResult struct {
	Fields         []ExtractedField `json:"fields"`
	Sections       []Section        `json:"sections,omitempty"`
	TotalFields    int              `json:"total_fields"`
	CategoryCounts map[string]int   `json:"category_counts,omitempty"`
	Confidence     float64          `json:"confidence"`
	// Issues lists low-confidence or unlabeled fields. Surfaced for the UI,
	// never fatal.
	Issues []string `json:"issues,omitempty"`
}

// FieldRequirement specifies one piece of data the end user must supply.
type FieldRequirement struct {
	Field       string `json:"field"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description,omitempty"`
	Validation  string `json:"validation,omitempty"`
}

// DocumentRequirement specifies a supporting document the user must upload.
type DocumentRequirement struct {
	Type            string   `json:"type"`
	Description     string   `json:"description,omitempty"`
	Required        bool     `json:"required"`
	AcceptedFormats []string `json:"accepted_formats,omitempty"`
}

// RequirementSet pairs the field and document requirements derived from an
// extraction.
type RequirementSet struct {
	Fields    []FieldRequirement    `json:"fields"`
	Documents []DocumentRequirement `json:"documents,omitempty"`
}

// UserDocument describes one uploaded supporting document.
type UserDocument struct {
	Type   string `json:"type"`
	Name   string `json:"name"`
	Format string `json:"format"`
	Size   int64  `json:"size,omitempty"`
}

// SubmittedData is the user's answer to a requirement set.
type SubmittedData struct {
	Values    map[string]string `json:"values"`
	Documents []UserDocument    `json:"documents,omitempty"`
}

// DocumentCheck reports document-level verification failures.
type DocumentCheck struct {
	MissingTypes []string `json:"missing_types,omitempty"`
	InvalidTypes []string `json:"invalid_types,omitempty"`
}

// VerificationResult is the verifier's verdict on submitted data.
// Verified == false is a normal outcome, not a system error; it routes the
// workflow back to data collection.
type VerificationResult struct {
	Verified      bool          `json:"verified"`
	MissingFields []string      `json:"missing_fields,omitempty"`
	InvalidFields []string      `json:"invalid_fields,omitempty"`
	Documents     DocumentCheck `json:"documents"`
	Warnings      []string      `json:"warnings,omitempty"`
	Confidence    float64       `json:"confidence"`
}

// FieldMapping is a resolved (field, value) pair ready to be written into
// the output document. Source names where the value came from.
type FieldMapping struct {
	Field      string  `json:"field"`
	Source     string  `json:"source"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// QualityReport is the filler's assessment of the produced artifact.
type QualityReport struct {
	Score          float64  `json:"score"`
	Issues         []string `json:"issues,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
	CompletionRate float64  `json:"completion_rate"`
}
