// Package backoff computes retry delays and retries operations with them.
package backoff

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// Strategy selects how the delay grows between attempts.
type Strategy string

const (
	Exponential Strategy = "exponential"
	Linear      Strategy = "linear"
	Constant    Strategy = "constant"
)

// DefaultJitterFactor is the fraction of the delay used as jitter range when none is set.
const DefaultJitterFactor = 0.1

// Config configures delay calculation and retry behavior.
type Config struct {
	Strategy Strategy
	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration
	// MaxDelay caps every computed delay (0 = uncapped).
	MaxDelay time.Duration
	// Multiplier is the growth factor for exponential backoff.
	Multiplier float64
	// Increment is added per attempt for linear backoff.
	Increment time.Duration
	// Jitter randomizes the delay by ±JitterFactor.
	Jitter       bool
	JitterFactor float64
	// IsRetryable decides whether an error is worth retrying. Nil retries everything
	// except errors wrapped with Permanent.
	IsRetryable func(error) bool

	// Random returns a value in [0,1). Defaults to math/rand.
	Random func() float64
	// Sleep waits for d or until ctx is done. Defaults to a timer select.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultConfig returns exponential backoff starting at one second, capped at thirty.
func DefaultConfig() Config {
	return Config{
		Strategy:     Exponential,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Increment:    time.Second,
		Jitter:       true,
		JitterFactor: DefaultJitterFactor,
	}
}

// CalculateBackoff returns the delay to wait before retry number attempt (1-based).
func CalculateBackoff(attempt int, cfg Config) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	initial := float64(cfg.InitialDelay) / float64(time.Millisecond)
	if initial < 0 {
		initial = 0
	}

	var delay float64
	switch cfg.Strategy {
	case Linear:
		increment := float64(cfg.Increment) / float64(time.Millisecond)
		delay = initial + increment*float64(attempt-1)
	case Constant:
		delay = initial
	default:
		multiplier := cfg.Multiplier
		if multiplier <= 0 {
			multiplier = 2.0
		}
		delay = initial * math.Pow(multiplier, float64(attempt-1))
	}

	if cfg.MaxDelay > 0 {
		maxDelay := float64(cfg.MaxDelay) / float64(time.Millisecond)
		if delay > maxDelay {
			delay = maxDelay
		}
	}

	if cfg.Jitter {
		factor := cfg.JitterFactor
		if factor <= 0 {
			factor = DefaultJitterFactor
		}
		random := cfg.Random
		if random == nil {
			random = rand.Float64 // #nosec G404 -- jitter does not require cryptographic randomness
		}
		delay += delay * factor * (2*random() - 1)
	}

	if delay < 0 || math.IsNaN(delay) {
		delay = 0
	}
	if math.IsInf(delay, 1) || delay > float64(math.MaxInt64/int64(time.Millisecond)) {
		return time.Duration(math.MaxInt64)
	}

	return time.Duration(math.Floor(delay)) * time.Millisecond
}

// PermanentError marks an error that must not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps err so Retry returns it without waiting.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was wrapped with Permanent.
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}

// RetryAfterHinter is implemented by errors that know the earliest useful retry time,
// such as rate-limit and open-circuit rejections.
type RetryAfterHinter interface {
	RetryAfterHint() time.Duration
}

// RetryAfter extracts the retry hint carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var hinter RetryAfterHinter
	if errors.As(err, &hinter) {
		return hinter.RetryAfterHint(), true
	}
	return 0, false
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Retry invokes fn until it succeeds, the error is not retryable, ctx is done, or
// maxAttempts (including the first) is reached. maxAttempts <= 0 means unbounded.
func Retry[T any](ctx context.Context, cfg Config, maxAttempts int, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if ctx == nil {
		ctx = context.Background()
	}

	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		if IsPermanent(err) {
			return zero, errors.Unwrap(err)
		}
		if cfg.IsRetryable != nil && !cfg.IsRetryable(err) {
			return zero, err
		}
		if maxAttempts > 0 && attempt >= maxAttempts {
			return zero, &ExhaustedError{Attempts: attempt, Err: err}
		}

		delay := CalculateBackoff(attempt, cfg)
		if hint, ok := RetryAfter(err); ok && hint > delay {
			delay = hint
		}

		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, delay, err)
		}
		log.Debug().
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying after error")

		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
}

// Do is Retry for operations without a result value.
func Do(ctx context.Context, cfg Config, maxAttempts int, fn func(ctx context.Context) error) error {
	_, err := Retry(ctx, cfg, maxAttempts, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
