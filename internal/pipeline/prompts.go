package pipeline

// analysisSystemText is the system prompt for the four dimension assessments.
const analysisSystemText = "You are a form analysis expert. Assess the given form document and return valid JSON matching the requested schema. Be concise and factual."

const analysisPrompt = `Assess the following form document on the "%s" dimension.

%s

Form document:
%s

Return a valid JSON object:
{"name": "%s", "summary": "<one-paragraph assessment>", "findings": ["<finding>", ...], "confidence": <0.0-1.0>}`

// dimensionFocus gives each assessment its brief.
var dimensionFocus = map[string]string{
	"structure":   "Describe the form's sections, field groupings, and logical flow.",
	"usability":   "Identify unclear labels, ambiguous instructions, and anything that would slow a person filling it in.",
	"performance": "Estimate completion effort: how many answers are needed, which require looking up documents, and where people typically stall.",
	"compliance":  "Note any regulatory or policy-sensitive content: personal data, signatures, attestations, retention language.",
}

// extractionSystemText is the system prompt for the per-category field pass.
const extractionSystemText = "You are a form field extraction expert. Extract fields of the requested kind from the form document. Return a valid JSON array, nothing else. Use the label \"__unlabeled__\" when a field has no discernible label."

const extractionPrompt = `Extract every %s field from this form document.

Form document:
%s

Return a valid JSON array of field objects:
[{"id": "<stable id or omit>", "type": "<field type>", "label": "<field label>", "confidence": <0.0-1.0>, "required": <true|false>, "position": {"page": <n>, "x": <0.0-1.0>, "y": <0.0-1.0>}, "validation": "<format hint or omit>", "options": ["<choice>", ...]}]

Include the "options" array only for fields with enumerated choices. Return [] if the form has no %s fields.`

// categoryDescription expands the category name in extraction prompts.
var categoryDescription = map[string]string{
	"text":      "free-text input (names, addresses, dates, numbers, emails)",
	"checkbox":  "checkbox",
	"radio":     "radio button or single-choice",
	"signature": "signature or initial",
	"table":     "tabular or repeating-row",
}

// sectionsPrompt asks for the form's logical sections in one extra call.
const sectionsPrompt = `List the logical sections of this form document.

Form document:
%s

Return a valid JSON array:
[{"title": "<section title>", "description": "<one line>"}]`

// fillSystemText is the system prompt for field mapping.
const fillSystemText = "You are a form filling assistant. Map the user's submitted values onto the form's fields. Never invent values: only use data the user actually provided. Return a valid JSON array, nothing else."

const fillPrompt = `Map the user's submitted data onto the form fields below.

Form fields:
%s

User submitted data:
%s

Return a valid JSON array of mappings:
[{"field": "<field name>", "source": "<submitted key the value came from>", "value": "<value to write>", "confidence": <0.0-1.0>}]

Rules:
- Only map fields for which the user provided data. Omit everything else.
- Reformat values to match the field's validation hint where one is given.
- Never fabricate, infer, or guess a value the user did not supply.`
