package pipeline

import (
	"context"
	"strconv"
	"strings"

	"github.com/stretchr/testify/mock"

	"github.com/scribeworks/formfill-cli/pkg/oracle"
)

// mockOracle is a testify mock for the Oracle interface.
type mockOracle struct {
	mock.Mock
}

func (m *mockOracle) CallWithRetry(ctx context.Context, mc oracle.ModelConfig, prompt, systemPrompt string) (*oracle.Response, error) {
	args := m.Called(ctx, mc, prompt, systemPrompt)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*oracle.Response), args.Error(1)
}

// scriptedOracle answers by matching prompt substrings against a script,
// in order. Unmatched prompts get the fallback.
type scriptedOracle struct {
	script   []scriptEntry
	fallback string
}

type scriptEntry struct {
	contains string
	reply    string
	err      error
}

func (s *scriptedOracle) CallWithRetry(_ context.Context, _ oracle.ModelConfig, prompt, _ string) (*oracle.Response, error) {
	for _, entry := range s.script {
		if strings.Contains(prompt, entry.contains) {
			if entry.err != nil {
				return nil, entry.err
			}
			return oracleResponse(entry.reply), nil
		}
	}
	return oracleResponse(s.fallback), nil
}

func oracleResponse(text string) *oracle.Response {
	return &oracle.Response{
		ID:         "msg_test",
		Model:      "test-model",
		Content:    []oracle.ContentBlock{{Type: "text", Text: text}},
		StopReason: "end_turn",
		Usage:      oracle.TokenUsage{InputTokens: 100, OutputTokens: 50},
	}
}

// dimensionReply builds a well-formed dimension assessment response.
func dimensionReply(name, summary string, confidence float64) string {
	return `{"name": "` + name + `", "summary": "` + summary + `", "findings": ["finding one"], "confidence": ` + strconv.FormatFloat(confidence, 'f', -1, 64) + `}`
}
