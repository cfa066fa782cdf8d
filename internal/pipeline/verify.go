package pipeline

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/scribeworks/formfill-cli/internal/model"
)

// Verifier checks submitted data against a requirement set. Verification is
// deterministic: every check is a plain rule over the requirements, never an
// oracle call, so a rejection is always explainable and reproducible.
type Verifier struct{}

// NewVerifier creates a Verifier.
func NewVerifier() *Verifier {
	return &Verifier{}
}

var (
	emailRe = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	phoneRe = regexp.MustCompile(`^\+?[0-9\s\-().]{7,20}$`)
	zipRe   = regexp.MustCompile(`^\d{5}(-\d{4})?$`)
	ssnRe   = regexp.MustCompile(`^\d{3}-?\d{2}-?\d{4}$`)
)

// dateLayouts are accepted date formats, tried in order.
var dateLayouts = []string{"2006-01-02", "01/02/2006", "1/2/2006", "January 2, 2006", "Jan 2, 2006"}

// Verify checks submitted against requirements. A failed verification is a
// normal outcome with Verified false and the reasons listed; the error
// return is reserved for system faults.
func (v *Verifier) Verify(requirements *model.RequirementSet, submitted *model.SubmittedData) *model.VerificationResult {
	result := &model.VerificationResult{Verified: true, Confidence: 1.0}
	if requirements == nil {
		return result
	}

	values := map[string]string{}
	if submitted != nil {
		values = submitted.Values
	}

	checked := 0
	failed := 0

	for _, req := range requirements.Fields {
		value, present := values[req.Field]
		value = strings.TrimSpace(value)

		if value == "" {
			if req.Required {
				result.MissingFields = append(result.MissingFields, req.Field)
				failed++
			}
			if present {
				checked++
			}
			continue
		}

		checked++
		if reason, ok := validateValue(req, value); !ok {
			result.InvalidFields = append(result.InvalidFields, req.Field)
			result.Warnings = append(result.Warnings, req.Field+": "+reason)
			failed++
		}
	}

	// Extra submitted keys are not an error; warn so typos surface.
	known := make(map[string]bool, len(requirements.Fields))
	for _, req := range requirements.Fields {
		known[req.Field] = true
	}
	for key := range values {
		if !known[key] {
			result.Warnings = append(result.Warnings, "unrecognized field: "+key)
		}
	}

	var docs []model.UserDocument
	if submitted != nil {
		docs = submitted.Documents
	}
	checkDocuments(requirements.Documents, docs, result)
	failed += len(result.Documents.MissingTypes) + len(result.Documents.InvalidTypes)

	if len(result.MissingFields) > 0 || len(result.InvalidFields) > 0 ||
		len(result.Documents.MissingTypes) > 0 || len(result.Documents.InvalidTypes) > 0 {
		result.Verified = false
	}

	total := len(requirements.Fields) + len(requirements.Documents)
	if total > 0 {
		result.Confidence = 1.0 - float64(failed)/float64(total)
		if result.Confidence < 0 {
			result.Confidence = 0
		}
	}
	return result
}

// validateValue applies the requirement's validation hint to a non-empty
// value. Unknown hints pass: the verifier flags only what it can prove.
func validateValue(req model.FieldRequirement, value string) (string, bool) {
	hint := strings.ToLower(req.Validation)
	if hint == "" {
		hint = strings.ToLower(req.Type)
	}

	switch {
	case strings.Contains(hint, "email"):
		if !emailRe.MatchString(value) {
			return "not a valid email address", false
		}
	case strings.Contains(hint, "phone") || strings.Contains(hint, "tel"):
		if !phoneRe.MatchString(value) {
			return "not a valid phone number", false
		}
	case strings.Contains(hint, "date"):
		if !parseableDate(value) {
			return "not a recognizable date", false
		}
	case strings.Contains(hint, "zip") || strings.Contains(hint, "postal"):
		if !zipRe.MatchString(value) {
			return "not a valid postal code", false
		}
	case strings.Contains(hint, "ssn"):
		if !ssnRe.MatchString(value) {
			return "not a valid SSN", false
		}
	case strings.Contains(hint, "number") || strings.Contains(hint, "numeric") || strings.Contains(hint, "amount"):
		if _, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", ""), 64); err != nil {
			return "not a number", false
		}
	}
	return "", true
}

func parseableDate(value string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, value); err == nil {
			return true
		}
	}
	return false
}

func checkDocuments(required []model.DocumentRequirement, uploaded []model.UserDocument, result *model.VerificationResult) {
	byType := make(map[string][]model.UserDocument)
	for _, doc := range uploaded {
		byType[doc.Type] = append(byType[doc.Type], doc)
	}

	for _, req := range required {
		docs, ok := byType[req.Type]
		if !ok || len(docs) == 0 {
			if req.Required {
				result.Documents.MissingTypes = append(result.Documents.MissingTypes, req.Type)
			}
			continue
		}
		if len(req.AcceptedFormats) == 0 {
			continue
		}
		accepted := false
		for _, doc := range docs {
			for _, format := range req.AcceptedFormats {
				if strings.EqualFold(doc.Format, format) {
					accepted = true
					break
				}
			}
		}
		if !accepted {
			result.Documents.InvalidTypes = append(result.Documents.InvalidTypes, req.Type)
		}
	}
}
