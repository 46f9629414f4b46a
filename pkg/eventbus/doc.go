// Package eventbus delivers typed observability events between components.
//
// Invariants:
// - Every Subscribe returns the Unsubscribe for exactly that registration.
// - Publish never fails; a panicking handler is isolated from its siblings.
//
// Usage:
//
//	bus := eventbus.New()
//	unsubscribe := bus.Subscribe(eventbus.KindHookError, func(evt eventbus.Event) {
//		hookErr := evt.(eventbus.HookErrorEvent)
//		_ = hookErr
//	})
//	defer unsubscribe()
package eventbus
