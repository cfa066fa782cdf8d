package oracle

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/scribeworks/formfill-cli/internal/resilience"
)

// ModelConfig selects the model and sampling parameters for one call.
type ModelConfig struct {
	Model       string
	MaxTokens   int64
	Temperature *float64
}

// GatewayError is the classified failure of an oracle call. Transient
// failures (timeouts, rate limits, 5xx upstream) are retried by the gateway;
// everything else propagates immediately.
type GatewayError struct {
	Transient bool
	Message   string
	Err       error
}

func (e *GatewayError) Error() string {
	return e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// classify wraps an upstream error into a GatewayError.
func classify(err error) *GatewayError {
	return &GatewayError{
		Transient: resilience.IsTransient(err),
		Message:   err.Error(),
		Err:       err,
	}
}

// GatewayConfig controls retry and protection behavior.
type GatewayConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	// Default: 3 (four total attempts).
	MaxRetries int

	// BaseDelay is the backoff base before the first retry; successive
	// retries double it, plus up to 250ms of jitter. Default: 800ms.
	BaseDelay time.Duration

	// RequestsPerMinute throttles calls to the upstream service.
	// Zero disables throttling.
	RequestsPerMinute int

	// Breaker configures the circuit breaker guarding the service.
	Breaker resilience.CircuitBreakerConfig
}

// DefaultGatewayConfig returns the production defaults.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		MaxRetries: 3,
		BaseDelay:  800 * time.Millisecond,
		Breaker:    resilience.DefaultCircuitBreakerConfig(),
	}
}

// Gateway invokes the oracle with retry, rate limiting, and a circuit
// breaker. It is safe for concurrent use and is constructed once at process
// start and injected into every stage agent.
type Gateway struct {
	client  Client
	cfg     GatewayConfig
	breaker *resilience.CircuitBreaker
	limiter *rate.Limiter
}

// NewGateway wraps a client with the gateway's protections.
func NewGateway(client Client, cfg GatewayConfig) *Gateway {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 800 * time.Millisecond
	}

	breakerCfg := cfg.Breaker
	if breakerCfg.ShouldTrip == nil {
		// Only transient upstream failures count toward opening the circuit;
		// caller mistakes (bad model name, oversized prompt) do not.
		breakerCfg.ShouldTrip = resilience.IsTransient
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute)
	}

	return &Gateway{
		client:  client,
		cfg:     cfg,
		breaker: resilience.NewCircuitBreaker(breakerCfg),
		limiter: limiter,
	}
}

// Call performs a single completion with no retries. Failures are returned
// as classified GatewayErrors.
func (g *Gateway) Call(ctx context.Context, mc ModelConfig, prompt, systemPrompt string) (*Response, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "oracle: rate limit wait")
		}
	}

	resp, err := resilience.ExecuteVal(ctx, g.breaker, func(ctx context.Context) (*Response, error) {
		return g.client.Complete(ctx, Request{
			Model:       mc.Model,
			MaxTokens:   mc.MaxTokens,
			System:      systemPrompt,
			Prompt:      prompt,
			Temperature: mc.Temperature,
		})
	})
	if err != nil {
		return nil, classify(err)
	}
	return resp, nil
}

// CallWithRetry performs a completion, retrying transient failures with
// exponential backoff and jitter. Non-transient failures and exhausted
// retries propagate immediately. Each retry is logged with its attempt
// number and computed delay.
func (g *Gateway) CallWithRetry(ctx context.Context, mc ModelConfig, prompt, systemPrompt string) (*Response, error) {
	retryCfg := resilience.RetryConfig{
		MaxAttempts:    g.cfg.MaxRetries + 1,
		InitialBackoff: g.cfg.BaseDelay,
		Multiplier:     2.0,
		JitterMax:      250 * time.Millisecond,
		ShouldRetry: func(err error) bool {
			var ge *GatewayError
			if eris.As(err, &ge) {
				return ge.Transient
			}
			return resilience.IsTransient(err)
		},
		OnRetry: resilience.RetryLogger("oracle", "complete"),
	}

	return resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*Response, error) {
		return g.Call(ctx, mc, prompt, systemPrompt)
	})
}
