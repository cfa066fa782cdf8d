package model

import "time"

// Step identifies a workflow step in the form processing pipeline.
type Step string

const (
	StepAnalysis       Step = "analysis"
	StepDataCollection Step = "data_collection"
	StepVerification   Step = "verification"
	StepFilling        Step = "filling"
	StepCompleted      Step = "completed"
	StepFailed         Step = "failed"
)

// Status is the overall workflow status of a processing record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	// StatusPaused is reserved for administrative use; nothing transitions
	// into or out of it automatically.
	StatusPaused Status = "paused"
)

// StageStatus is the status of a single pipeline stage.
type StageStatus string

const (
	StagePending    StageStatus = "pending"
	StageProcessing StageStatus = "processing"
	StageCompleted  StageStatus = "completed"
	StageFailed     StageStatus = "failed"
)

// TotalSteps is the number of pipeline stages a document moves through.
const TotalSteps = 4

// stepTransitions encodes the legal workflow edges. The only backward edge
// is verification → data_collection when the user's data fails verification.
var stepTransitions = map[Step][]Step{
	StepAnalysis:       {StepDataCollection, StepFailed},
	StepDataCollection: {StepVerification, StepFailed},
	StepVerification:   {StepDataCollection, StepFilling, StepFailed},
	StepFilling:        {StepCompleted, StepFailed},
	StepCompleted:      {},
	StepFailed:         {},
}

// CanTransition reports whether moving from one workflow step to another
// is legal.
func CanTransition(from, to Step) bool {
	for _, next := range stepTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FileRef is an opaque handle to a stored source or output file.
type FileRef struct {
	Name     string `json:"name"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
	Path     string `json:"path"`
}

// Workflow tracks a record's position in the pipeline.
type Workflow struct {
	CurrentStep Step       `json:"current_step"`
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	TotalSteps  int        `json:"total_steps"`
}

// StepError records a failure observed during a workflow step.
// The errors list on a record is append-only.
type StepError struct {
	Step      string    `json:"step"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Resolved  bool      `json:"resolved"`
}

// AnalysisStage holds the payload of the analysis step: the four-dimensional
// form assessment and the raw field extraction it feeds on.
type AnalysisStage struct {
	Status      StageStatus       `json:"status"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Insights    *AnalysisInsights `json:"insights,omitempty"`
	Extraction  *ExtractionResult `json:"extraction,omitempty"`
}

// DataCollectionStage holds the derived requirements and, once the user has
// submitted, the data under verification.
type DataCollectionStage struct {
	Status       StageStatus     `json:"status"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
	Requirements *RequirementSet `json:"requirements,omitempty"`
	Submitted    *SubmittedData  `json:"submitted,omitempty"`
}

// VerificationStage holds the latest verification outcome. Attempts counts
// every pass through the verifier, including rejected ones.
type VerificationStage struct {
	Status      StageStatus         `json:"status"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	Result      *VerificationResult `json:"result,omitempty"`
	Attempts    int                 `json:"attempts"`
}

// FillingStage holds the field mappings and the quality report of the
// produced artifact.
type FillingStage struct {
	Status           StageStatus    `json:"status"`
	CompletedAt      *time.Time     `json:"completed_at,omitempty"`
	Mappings         []FieldMapping `json:"mappings,omitempty"`
	UnmappedRequired []string       `json:"unmapped_required,omitempty"`
	Quality          *QualityReport `json:"quality,omitempty"`
}

// Output describes the final filled artifacts. Non-nil only when the
// workflow status is completed.
type Output struct {
	Files   []FileRef `json:"files"`
	Formats []string  `json:"formats"`
}

// ProcessingRecord is the persisted state of one document's journey through
// the pipeline. It is mutated exclusively by the processor; Version is an
// optimistic concurrency counter bumped on every write.
type ProcessingRecord struct {
	ID           string `json:"id"`
	UserID       string `json:"user_id"`
	OriginalForm FileRef `json:"original_form"`

	Workflow Workflow `json:"workflow"`

	Analysis       *AnalysisStage       `json:"analysis,omitempty"`
	DataCollection *DataCollectionStage `json:"data_collection,omitempty"`
	Verification   *VerificationStage   `json:"verification,omitempty"`
	Filling        *FillingStage        `json:"filling,omitempty"`

	Output *Output     `json:"output,omitempty"`
	Errors []StepError `json:"errors,omitempty"`

	// ProcessingTime is the wall-clock duration in milliseconds from workflow
	// start to filling completion. Written once, when filling completes.
	ProcessingTime int64 `json:"processing_time_ms,omitempty"`

	Usage TokenUsage `json:"token_usage"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppendError appends a step error to the record.
func (r *ProcessingRecord) AppendError(step Step, message string) {
	r.Errors = append(r.Errors, StepError{
		Step:      string(step),
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

// Progress returns the workflow progress as a percentage of completed stages.
func (r *ProcessingRecord) Progress() int {
	done := 0
	if r.Analysis != nil && r.Analysis.Status == StageCompleted {
		done++
	}
	if r.DataCollection != nil && r.DataCollection.Status == StageCompleted {
		done++
	}
	if r.Verification != nil && r.Verification.Status == StageCompleted {
		done++
	}
	if r.Filling != nil && r.Filling.Status == StageCompleted {
		done++
	}
	return done * 100 / TotalSteps
}

// StatusReport is the answer to a status query.
type StatusReport struct {
	ID          string      `json:"id"`
	Status      Status      `json:"status"`
	CurrentStep Step        `json:"current_step"`
	Progress    int         `json:"progress"`
	Errors      []StepError `json:"errors,omitempty"`
}

// BatchStatus is the status of a multi-document batch.
type BatchStatus string

const (
	BatchQueued     BatchStatus = "queued"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
)

// BatchRecord tracks a background batch of documents. Documents within a
// batch are processed sequentially in submission order; distinct batches run
// independently with no ordering guarantee between them.
type BatchRecord struct {
	ID        string      `json:"id"`
	UserID    string      `json:"user_id"`
	Status    BatchStatus `json:"status"`
	Total     int         `json:"total"`
	Processed int         `json:"processed"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	RecordIDs []string    `json:"record_ids,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// TokenUsage tracks oracle token consumption across stages.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Add merges token usage from another instance.
func (t *TokenUsage) Add(other TokenUsage) {
	t.InputTokens += other.InputTokens
	t.OutputTokens += other.OutputTokens
}
