package pipeline

import (
	"strings"

	"github.com/scribeworks/formfill-cli/internal/model"
)

// attachmentKeywords flag fields whose label asks for a supporting document
// rather than a typed answer.
var attachmentKeywords = []string{"attach", "upload", "enclose", "copy of", "proof of"}

// documentTypeHints maps label fragments to a canonical document type.
// Ordered so the first matching hint always wins.
var documentTypeHints = []struct {
	hint    string
	docType string
}{
	{"passport", "passport"},
	{"driver", "drivers_license"},
	{"license", "drivers_license"},
	{"id card", "id_card"},
	{"identity", "id_card"},
	{"birth cert", "birth_certificate"},
	{"pay stub", "proof_of_income"},
	{"payslip", "proof_of_income"},
	{"income", "proof_of_income"},
	{"tax return", "tax_return"},
	{"w-2", "tax_return"},
	{"bank statement", "bank_statement"},
	{"utility bill", "proof_of_address"},
	{"lease", "proof_of_address"},
	{"insurance", "insurance_card"},
	{"photo", "photograph"},
	{"resume", "resume"},
	{"transcript", "transcript"},
}

// DeriveRequirements turns an extraction into the list of answers and
// documents the user must supply. Derivation is deterministic: no oracle
// call, the same extraction always yields the same requirements.
func DeriveRequirements(extraction *model.ExtractionResult) *model.RequirementSet {
	set := &model.RequirementSet{}
	if extraction == nil {
		return set
	}

	seenFields := make(map[string]bool)
	seenDocs := make(map[string]bool)

	for _, field := range extraction.Fields {
		label := strings.ToLower(field.Label)

		if docType, ok := attachmentDocType(label); ok {
			if !seenDocs[docType] {
				seenDocs[docType] = true
				set.Documents = append(set.Documents, model.DocumentRequirement{
					Type:            docType,
					Description:     field.Label,
					Required:        field.Required,
					AcceptedFormats: []string{"pdf", "png", "jpg"},
				})
			}
			continue
		}

		// Pre-filled fields need no user input.
		if field.Value != "" {
			continue
		}
		// Signatures are collected at submission time, not as typed data.
		if field.Type == string(model.CategorySignature) {
			continue
		}

		name := fieldKey(field.Label)
		if name == "" || seenFields[name] {
			continue
		}
		seenFields[name] = true

		set.Fields = append(set.Fields, model.FieldRequirement{
			Field:       name,
			Type:        field.Type,
			Required:    field.Required,
			Description: field.Label,
			Validation:  field.Validation,
		})
	}

	return set
}

// attachmentDocType reports whether a lowercase label asks for a document
// upload, and which canonical type.
func attachmentDocType(label string) (string, bool) {
	asksAttachment := false
	for _, kw := range attachmentKeywords {
		if strings.Contains(label, kw) {
			asksAttachment = true
			break
		}
	}
	if !asksAttachment {
		return "", false
	}
	for _, h := range documentTypeHints {
		if strings.Contains(label, h.hint) {
			return h.docType, true
		}
	}
	return "supporting_document", true
}

// fieldKey normalizes a label into a stable snake_case field name.
func fieldKey(label string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(strings.TrimSpace(label)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	return strings.Trim(b.String(), "_")
}
