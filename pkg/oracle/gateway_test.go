package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scribeworks/formfill-cli/internal/resilience"
)

// fastGatewayConfig keeps backoff negligible so retry tests run quickly.
func fastGatewayConfig() GatewayConfig {
	cfg := DefaultGatewayConfig()
	cfg.BaseDelay = time.Millisecond
	return cfg
}

func testModelConfig() ModelConfig {
	return ModelConfig{Model: "test-model", MaxTokens: 1024}
}

func TestGatewayCallSuccess(t *testing.T) {
	client := &mockClient{}
	client.On("Complete", mock.Anything, mock.MatchedBy(func(req Request) bool {
		return req.Model == "test-model" && req.Prompt == "hello" && req.System == "sys"
	})).Return(textResponse("world"), nil).Once()

	gw := NewGateway(client, fastGatewayConfig())
	resp, err := gw.Call(context.Background(), testModelConfig(), "hello", "sys")

	require.NoError(t, err)
	assert.Equal(t, "world", resp.Text())
	client.AssertExpectations(t)
}

func TestGatewayCallClassifiesErrors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"timeout", eris.New("request timeout"), true},
		{"rate limit", resilience.NewTransientError(eris.New("rate limit exceeded"), 429), true},
		{"overloaded", resilience.NewTransientError(eris.New("overloaded"), 529), true},
		{"bad request", eris.New("invalid model name"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &mockClient{}
			client.On("Complete", mock.Anything, mock.Anything).Return(nil, tt.err).Once()

			gw := NewGateway(client, fastGatewayConfig())
			_, err := gw.Call(context.Background(), testModelConfig(), "p", "")

			require.Error(t, err)
			var ge *GatewayError
			require.ErrorAs(t, err, &ge)
			assert.Equal(t, tt.transient, ge.Transient)
		})
	}
}

func TestGatewayRetryBound(t *testing.T) {
	// Transient failures get exactly MaxRetries+1 attempts before giving up.
	client := &mockClient{}
	client.On("Complete", mock.Anything, mock.Anything).
		Return(nil, eris.New("service unavailable")).Times(4)

	gw := NewGateway(client, fastGatewayConfig())
	_, err := gw.CallWithRetry(context.Background(), testModelConfig(), "p", "")

	require.Error(t, err)
	client.AssertExpectations(t)
	client.AssertNumberOfCalls(t, "Complete", 4)
}

func TestGatewayRetryRecoversAfterTransientFailures(t *testing.T) {
	client := &mockClient{}
	client.On("Complete", mock.Anything, mock.Anything).
		Return(nil, eris.New("connection timeout")).Twice()
	client.On("Complete", mock.Anything, mock.Anything).
		Return(textResponse("recovered"), nil).Once()

	gw := NewGateway(client, fastGatewayConfig())
	resp, err := gw.CallWithRetry(context.Background(), testModelConfig(), "p", "")

	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Text())
	client.AssertNumberOfCalls(t, "Complete", 3)
}

func TestGatewayNoRetryOnNonTransient(t *testing.T) {
	client := &mockClient{}
	client.On("Complete", mock.Anything, mock.Anything).
		Return(nil, eris.New("prompt exceeds maximum context length")).Once()

	gw := NewGateway(client, fastGatewayConfig())
	_, err := gw.CallWithRetry(context.Background(), testModelConfig(), "p", "")

	require.Error(t, err)
	var ge *GatewayError
	require.ErrorAs(t, err, &ge)
	assert.False(t, ge.Transient)
	client.AssertNumberOfCalls(t, "Complete", 1)
}

func TestGatewayCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	client := &mockClient{}
	client.On("Complete", mock.Anything, mock.Anything).
		Return(nil, eris.New("internal server error"))

	cfg := fastGatewayConfig()
	cfg.MaxRetries = 1
	cfg.Breaker.FailureThreshold = 2
	gw := NewGateway(client, cfg)

	// Two attempts per call with MaxRetries=1; the breaker trips after the
	// second failure and fails fast from then on.
	_, err := gw.CallWithRetry(context.Background(), testModelConfig(), "p", "")
	require.Error(t, err)

	_, err = gw.Call(context.Background(), testModelConfig(), "p", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	client.AssertNumberOfCalls(t, "Complete", 2)
}

func TestGatewayRateLimiterWaits(t *testing.T) {
	client := &mockClient{}
	client.On("Complete", mock.Anything, mock.Anything).
		Return(textResponse("ok"), nil)

	cfg := fastGatewayConfig()
	cfg.RequestsPerMinute = 6000
	gw := NewGateway(client, cfg)

	for i := 0; i < 3; i++ {
		_, err := gw.Call(context.Background(), testModelConfig(), "p", "")
		require.NoError(t, err)
	}
	client.AssertNumberOfCalls(t, "Complete", 3)
}
