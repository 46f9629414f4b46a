package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/callguard/pkg/eventbus"
)

// State is the availability state of a monitored dependency.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half-open"
)

// ErrCircuitOpen is matched by every rejection the breaker returns.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrNotAttempted passed to a done function releases the admission without recording
// an outcome, for calls that were admitted but never reached the dependency.
var ErrNotAttempted = errors.New("call not attempted")

// OpenError is returned without invoking the guarded function while the circuit is open.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open, retry in %s", e.Name, e.RetryAfter)
}

func (e *OpenError) Unwrap() error {
	return ErrCircuitOpen
}

// RetryAfterHint reports how long until a trial call would be admitted.
func (e *OpenError) RetryAfterHint() time.Duration {
	return e.RetryAfter
}

// Config configures a circuit breaker.
type Config struct {
	// Name identifies the dependency this breaker guards.
	Name string

	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int

	// SuccessThreshold is the number of consecutive half-open successes to close.
	SuccessThreshold int

	// ResetTimeout is how long the circuit stays open before trying half-open.
	ResetTimeout time.Duration

	// HalfOpenMaxCalls bounds concurrent trial calls in half-open (default SuccessThreshold).
	HalfOpenMaxCalls int

	// Disabled turns the breaker into a pass-through.
	Disabled bool

	// OnStateChange is called after every transition, outside the breaker lock.
	OnStateChange func(name string, from, to State)

	Bus    *eventbus.Bus
	Logger zerolog.Logger
	Now    func() time.Time
}

// DefaultConfig returns the documented defaults: 5 failures, 2 successes, 30s reset.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = c.SuccessThreshold
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Stats contains counters and timestamps for a breaker.
type Stats struct {
	Name                 string
	State                State
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	TotalSuccesses       int64
	TotalFailures        int64
	TotalRejected        int64
	LastFailure          time.Time
	LastStateChange      time.Time
}

type transition struct {
	from, to State
	at       time.Time
}

// CircuitBreaker gates calls to one dependency. State mutation is serialized; the
// guarded function runs outside the lock.
type CircuitBreaker struct {
	config Config
	logger zerolog.Logger

	mu               sync.Mutex
	state            State
	generation       uint64
	failures         int
	successes        int
	halfOpenInFlight int
	lastFailure      time.Time
	lastStateChange  time.Time
	totalSuccesses   int64
	totalFailures    int64
	totalRejected    int64
}

// New creates a circuit breaker in the closed state.
func New(config Config) *CircuitBreaker {
	config = config.withDefaults()
	return &CircuitBreaker{
		config:          config,
		logger:          config.Logger.With().Str("component", "circuitbreaker").Str("dependency", config.Name).Logger(),
		state:           Closed,
		lastStateChange: config.Now(),
	}
}

// Name returns the dependency name.
func (cb *CircuitBreaker) Name() string {
	return cb.config.Name
}

// Allow asks for admission of one call. On success the returned done function must be
// called exactly once with the call's outcome (nil for success).
func (cb *CircuitBreaker) Allow() (func(err error), error) {
	if cb.config.Disabled {
		return func(error) {}, nil
	}

	cb.mu.Lock()
	var pending []transition
	pending = cb.advance(pending)

	switch cb.state {
	case Open:
		cb.totalRejected++
		retryAfter := cb.config.ResetTimeout - cb.config.Now().Sub(cb.lastStateChange)
		if retryAfter < 0 {
			retryAfter = 0
		}
		cb.mu.Unlock()
		cb.emit(pending)
		return nil, &OpenError{Name: cb.config.Name, RetryAfter: retryAfter}

	case HalfOpen:
		if cb.halfOpenInFlight >= cb.config.HalfOpenMaxCalls {
			cb.totalRejected++
			cb.mu.Unlock()
			cb.emit(pending)
			return nil, &OpenError{Name: cb.config.Name}
		}
		cb.halfOpenInFlight++
	}

	generation := cb.generation
	trial := cb.state == HalfOpen
	cb.mu.Unlock()
	cb.emit(pending)

	var once sync.Once
	return func(err error) {
		once.Do(func() { cb.record(generation, trial, err) })
	}, nil
}

// Execute runs fn with circuit breaker protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	done, err := cb.Allow()
	if err != nil {
		return err
	}

	err = fn(ctx)
	done(err)
	return err
}

// ExecuteWithResult runs a function that returns a value with circuit breaker protection.
func ExecuteWithResult[T any](cb *CircuitBreaker, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	done, err := cb.Allow()
	if err != nil {
		return zero, err
	}

	result, err := fn(ctx)
	done(err)
	if err != nil {
		return zero, err
	}
	return result, nil
}

// State returns the current state, moving open to half-open once the reset timeout elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	pending := cb.advance(nil)
	state := cb.state
	cb.mu.Unlock()
	cb.emit(pending)
	return state
}

// Stats returns current circuit breaker statistics.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	pending := cb.advance(nil)
	stats := Stats{
		Name:                 cb.config.Name,
		State:                cb.state,
		ConsecutiveFailures:  cb.failures,
		ConsecutiveSuccesses: cb.successes,
		TotalSuccesses:       cb.totalSuccesses,
		TotalFailures:        cb.totalFailures,
		TotalRejected:        cb.totalRejected,
		LastFailure:          cb.lastFailure,
		LastStateChange:      cb.lastStateChange,
	}
	cb.mu.Unlock()
	cb.emit(pending)
	return stats
}

// Reset manually returns the breaker to the closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	var pending []transition
	if cb.state != Closed {
		pending = cb.transitionTo(Closed, pending)
	}
	cb.failures = 0
	cb.successes = 0
	cb.mu.Unlock()
	cb.emit(pending)
}

func (cb *CircuitBreaker) record(generation uint64, trial bool, err error) {
	cb.mu.Lock()
	var pending []transition

	if errors.Is(err, ErrNotAttempted) {
		if trial && generation == cb.generation && cb.halfOpenInFlight > 0 {
			cb.halfOpenInFlight--
		}
		cb.mu.Unlock()
		return
	}

	if err != nil {
		cb.totalFailures++
		cb.lastFailure = cb.config.Now()
	} else {
		cb.totalSuccesses++
	}

	if trial && generation == cb.generation && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}

	// Outcomes of calls admitted before the last transition do not move the state machine.
	if generation != cb.generation {
		cb.mu.Unlock()
		return
	}

	if err != nil {
		pending = cb.recordFailure(pending)
	} else {
		pending = cb.recordSuccess(pending)
	}
	cb.mu.Unlock()
	cb.emit(pending)
}

func (cb *CircuitBreaker) recordFailure(pending []transition) []transition {
	cb.failures++
	cb.successes = 0

	switch cb.state {
	case Closed:
		if cb.failures >= cb.config.FailureThreshold {
			pending = cb.transitionTo(Open, pending)
		}
	case HalfOpen:
		pending = cb.transitionTo(Open, pending)
	}
	return pending
}

func (cb *CircuitBreaker) recordSuccess(pending []transition) []transition {
	switch cb.state {
	case Closed:
		cb.failures = 0
	case HalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			pending = cb.transitionTo(Closed, pending)
		}
	}
	return pending
}

// advance applies the time-driven open -> half-open transition. Caller holds mu.
func (cb *CircuitBreaker) advance(pending []transition) []transition {
	if cb.state == Open && cb.config.Now().Sub(cb.lastStateChange) >= cb.config.ResetTimeout {
		pending = cb.transitionTo(HalfOpen, pending)
	}
	return pending
}

// transitionTo changes state and resets per-state counters. Caller holds mu.
func (cb *CircuitBreaker) transitionTo(newState State, pending []transition) []transition {
	oldState := cb.state
	now := cb.config.Now()

	cb.state = newState
	cb.generation++
	cb.lastStateChange = now
	cb.failures = 0
	cb.successes = 0
	cb.halfOpenInFlight = 0

	return append(pending, transition{from: oldState, to: newState, at: now})
}

func (cb *CircuitBreaker) emit(pending []transition) {
	for _, t := range pending {
		event := cb.logger.Info()
		if t.to == Open {
			event = cb.logger.Warn()
		}
		event.
			Str("from", string(t.from)).
			Str("to", string(t.to)).
			Msg("Circuit breaker state changed")

		cb.config.Bus.Publish(eventbus.CircuitStateChangedEvent{
			Name:      cb.config.Name,
			From:      string(t.from),
			To:        string(t.to),
			Timestamp: t.at,
		})
		if cb.config.OnStateChange != nil {
			cb.config.OnStateChange(cb.config.Name, t.from, t.to)
		}
	}
}
