// Package circuitbreaker stops calls to a dependency after repeated failures and
// tries recovery after a cooldown.
//
// Invariants:
// - closed -> open after FailureThreshold consecutive failures.
// - open rejects with *OpenError (errors.Is ErrCircuitOpen) until ResetTimeout elapses.
// - half-open admits at most HalfOpenMaxCalls trials; SuccessThreshold successes close,
//   any failure reopens and restarts the timer.
//
// Usage:
//
//	cb := circuitbreaker.New(circuitbreaker.Config{Name: "openai", FailureThreshold: 3})
//	err := cb.Execute(ctx, func(ctx context.Context) error { return callProvider(ctx) })
package circuitbreaker
