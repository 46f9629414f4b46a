package toolexecutor

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/harun/callguard/pkg/backoff"
	"github.com/harun/callguard/pkg/circuitbreaker"
	"github.com/harun/callguard/pkg/ratelimit"
)

// RateLimitPlugin acquires a permit from the limiter of the tool's dependency, for the
// first invocation and for every retry. Tools whose dependency has no configured limiter
// pass through.
type RateLimitPlugin struct {
	limiters *ratelimit.Registry
}

// NewRateLimitPlugin creates a rate limit plugin over limiters.
func NewRateLimitPlugin(limiters *ratelimit.Registry) *RateLimitPlugin {
	return &RateLimitPlugin{limiters: limiters}
}

func (p *RateLimitPlugin) Name() string  { return "ratelimit" }
func (p *RateLimitPlugin) Priority() int { return PriorityRateLimit }

func (p *RateLimitPlugin) BeforeExecute(ctx context.Context, pctx *PluginExecutionContext) (BeforeResult, error) {
	limiter, ok := p.limiters.Get(pctx.Tool.DependencyKey())
	if !ok {
		return Continue(), nil
	}
	if err := limiter.Acquire(ctx); err != nil {
		return Continue(), err
	}
	pctx.GateAttempts(limiter.Acquire)
	return Continue(), nil
}

// CircuitBreakerPlugin gates calls on the breaker of the tool's dependency. Every tool
// invocation, retries included, is admitted by the breaker and reports its outcome to it.
type CircuitBreakerPlugin struct {
	breakers *circuitbreaker.Registry
	// IsFailure decides which tool errors count against the dependency. Nil counts all.
	IsFailure func(error) bool
}

// NewCircuitBreakerPlugin creates a circuit breaker plugin over breakers.
func NewCircuitBreakerPlugin(breakers *circuitbreaker.Registry) *CircuitBreakerPlugin {
	return &CircuitBreakerPlugin{breakers: breakers}
}

func (p *CircuitBreakerPlugin) Name() string  { return "circuitbreaker" }
func (p *CircuitBreakerPlugin) Priority() int { return PriorityCircuitBreaker }

func (p *CircuitBreakerPlugin) BeforeExecute(ctx context.Context, pctx *PluginExecutionContext) (BeforeResult, error) {
	breaker := p.breakers.Get(pctx.Tool.DependencyKey())
	pending, err := breaker.Allow()
	if err != nil {
		return Continue(), err
	}

	// pending settles the admitted attempt that has not reported yet. A retry is only
	// started after a failed attempt, so that failure is recorded before asking again.
	pctx.GateAttempts(func(ctx context.Context) error {
		if pending != nil {
			pending(p.classify(pctx.LastToolError()))
			pending = nil
		}
		next, err := breaker.Allow()
		if err != nil {
			return err
		}
		pending = next
		return nil
	})
	pctx.OnFinish(func(result interface{}, err error) {
		if pending != nil {
			pending(p.outcome(pctx))
		}
	})
	return Continue(), nil
}

func (p *CircuitBreakerPlugin) outcome(pctx *PluginExecutionContext) error {
	if pctx.Attempts == 0 {
		return circuitbreaker.ErrNotAttempted
	}
	return p.classify(pctx.LastToolError())
}

func (p *CircuitBreakerPlugin) classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return circuitbreaker.ErrNotAttempted
	}
	if p.IsFailure != nil && !p.IsFailure(err) {
		return nil
	}
	return err
}

// RetryPlugin recovers failed tool invocations by invoking the tool again with backoff.
// Each retry passes the attempt gates of the rate limit and circuit breaker plugins; a
// refused retry ends recovery. Failures raised by plugins before or after the tool are
// not retried.
type RetryPlugin struct {
	config      backoff.Config
	maxAttempts int
	logger      zerolog.Logger
}

// NewRetryPlugin retries up to maxAttempts invocations in total (the failed one included).
func NewRetryPlugin(config backoff.Config, maxAttempts int, logger zerolog.Logger) *RetryPlugin {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &RetryPlugin{
		config:      config,
		maxAttempts: maxAttempts,
		logger:      logger.With().Str("component", "retry_plugin").Logger(),
	}
}

func (p *RetryPlugin) Name() string  { return "retry" }
func (p *RetryPlugin) Priority() int { return PriorityRetry }

func (p *RetryPlugin) OnError(ctx context.Context, pctx *PluginExecutionContext, err error) (interface{}, bool, error) {
	if pctx.Phase != PhaseExecute || p.maxAttempts < 2 {
		return nil, false, nil
	}

	first := true
	result, retryErr := backoff.Retry(ctx, p.config, p.maxAttempts, func(ctx context.Context) (interface{}, error) {
		if first {
			first = false
			return nil, err
		}
		result, err := pctx.Invoke(ctx)
		var rejected *AttemptRejectedError
		if errors.As(err, &rejected) {
			return nil, backoff.Permanent(err)
		}
		return result, err
	})
	if retryErr != nil {
		p.logger.Debug().
			Str("tool", pctx.ToolName).
			Str("execution_id", pctx.ExecutionID).
			Int("attempts", pctx.Attempts).
			Err(retryErr).
			Msg("Retries did not recover tool call")
		return nil, false, nil
	}

	result, err = pctx.PostProcess(ctx, result)
	if err != nil {
		return nil, false, err
	}
	pctx.Set("retry_attempts", pctx.Attempts)
	return result, true, nil
}
