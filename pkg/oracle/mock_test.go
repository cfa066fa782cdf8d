package oracle

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// mockClient is a testify mock for the Client interface.
type mockClient struct {
	mock.Mock
}

func (m *mockClient) Complete(ctx context.Context, req Request) (*Response, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Response), args.Error(1)
}

// textResponse builds a minimal single-block response for tests.
func textResponse(text string) *Response {
	return &Response{
		ID:         "msg_test",
		Model:      "test-model",
		Content:    []ContentBlock{{Type: "text", Text: text}},
		StopReason: "end_turn",
		Usage:      TokenUsage{InputTokens: 10, OutputTokens: 5},
	}
}
