package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition_ForwardEdges(t *testing.T) {
	assert.True(t, CanTransition(StepAnalysis, StepDataCollection))
	assert.True(t, CanTransition(StepDataCollection, StepVerification))
	assert.True(t, CanTransition(StepVerification, StepFilling))
	assert.True(t, CanTransition(StepFilling, StepCompleted))
}

func TestCanTransition_VerificationRetryEdge(t *testing.T) {
	assert.True(t, CanTransition(StepVerification, StepDataCollection))
}

func TestCanTransition_IllegalEdges(t *testing.T) {
	cases := []struct {
		from, to Step
	}{
		{StepAnalysis, StepVerification},
		{StepAnalysis, StepFilling},
		{StepDataCollection, StepAnalysis},
		{StepDataCollection, StepFilling},
		{StepFilling, StepDataCollection},
		{StepFilling, StepAnalysis},
	}
	for _, c := range cases {
		assert.False(t, CanTransition(c.from, c.to), "%s -> %s should be illegal", c.from, c.to)
	}
}

func TestCanTransition_TerminalSteps(t *testing.T) {
	for _, to := range []Step{StepAnalysis, StepDataCollection, StepVerification, StepFilling, StepCompleted, StepFailed} {
		assert.False(t, CanTransition(StepCompleted, to))
		assert.False(t, CanTransition(StepFailed, to))
	}
}

func TestCanTransition_FailedReachableFromEveryActiveStep(t *testing.T) {
	for _, from := range []Step{StepAnalysis, StepDataCollection, StepVerification, StepFilling} {
		assert.True(t, CanTransition(from, StepFailed), "%s -> failed should be legal", from)
	}
}

func TestProgress(t *testing.T) {
	r := &ProcessingRecord{}
	assert.Equal(t, 0, r.Progress())

	r.Analysis = &AnalysisStage{Status: StageCompleted}
	assert.Equal(t, 25, r.Progress())

	r.DataCollection = &DataCollectionStage{Status: StageCompleted}
	r.Verification = &VerificationStage{Status: StageCompleted}
	assert.Equal(t, 75, r.Progress())

	r.Filling = &FillingStage{Status: StageCompleted}
	assert.Equal(t, 100, r.Progress())
}

func TestProgress_InProgressStageDoesNotCount(t *testing.T) {
	r := &ProcessingRecord{
		Analysis:       &AnalysisStage{Status: StageCompleted},
		DataCollection: &DataCollectionStage{Status: StageProcessing},
	}
	assert.Equal(t, 25, r.Progress())
}

func TestAppendError(t *testing.T) {
	r := &ProcessingRecord{}
	before := time.Now().UTC()
	r.AppendError(StepAnalysis, "boom")
	r.AppendError(StepFilling, "later")

	assert.Len(t, r.Errors, 2)
	assert.Equal(t, "analysis", r.Errors[0].Step)
	assert.Equal(t, "boom", r.Errors[0].Message)
	assert.False(t, r.Errors[0].Resolved)
	assert.False(t, r.Errors[0].Timestamp.Before(before))
	assert.Equal(t, "filling", r.Errors[1].Step)
}

func TestTokenUsageAdd(t *testing.T) {
	u := TokenUsage{InputTokens: 10, OutputTokens: 5}
	u.Add(TokenUsage{InputTokens: 3, OutputTokens: 7})
	assert.Equal(t, 13, u.InputTokens)
	assert.Equal(t, 12, u.OutputTokens)
}

func TestDefaultDimensionReport(t *testing.T) {
	for _, dim := range AnalysisDimensions {
		r := DefaultDimensionReport(dim)
		assert.Equal(t, string(dim), r.Name)
		assert.Equal(t, 0.5, r.Confidence)
		assert.NotEmpty(t, r.Summary)
	}

	unknown := DefaultDimensionReport(AnalysisDimension("novelty"))
	assert.Equal(t, "novelty", unknown.Name)
	assert.Equal(t, 0.5, unknown.Confidence)
}
