package eventbus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus_PublishDeliversByKind(t *testing.T) {
	bus := New()

	var hookEvents []HookErrorEvent
	var circuitEvents int

	unsubHook := bus.Subscribe(KindHookError, func(evt Event) {
		hookEvents = append(hookEvents, evt.(HookErrorEvent))
	})
	defer unsubHook()
	unsubCircuit := bus.Subscribe(KindCircuitStateChanged, func(evt Event) {
		circuitEvents++
	})
	defer unsubCircuit()

	bus.Publish(HookErrorEvent{HookName: "audit", Err: errors.New("boom"), ConsecutiveErrors: 1})

	require.Len(t, hookEvents, 1)
	assert.Equal(t, "audit", hookEvents[0].HookName)
	assert.Equal(t, 1, hookEvents[0].ConsecutiveErrors)
	assert.Equal(t, 0, circuitEvents)
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	bus := New()
	calls := 0

	unsubscribe := bus.Subscribe(KindCircuitStateChanged, func(evt Event) { calls++ })
	assert.Equal(t, 1, bus.SubscriberCount(KindCircuitStateChanged))

	bus.Publish(CircuitStateChangedEvent{Name: "openai", From: "closed", To: "open"})
	unsubscribe()
	unsubscribe()
	bus.Publish(CircuitStateChangedEvent{Name: "openai", From: "open", To: "half-open"})

	assert.Equal(t, 1, calls)
	assert.Equal(t, 0, bus.SubscriberCount(KindCircuitStateChanged))
}

func TestBus_UnsubscribeOnlyRemovesOwnRegistration(t *testing.T) {
	bus := New()
	var order []string

	unsubA := bus.Subscribe(KindHookError, func(evt Event) { order = append(order, "a") })
	unsubB := bus.Subscribe(KindHookError, func(evt Event) { order = append(order, "b") })
	defer unsubB()

	unsubA()
	bus.Publish(HookErrorEvent{})

	assert.Equal(t, []string{"b"}, order)
}

func TestBus_PanickingHandlerIsIsolated(t *testing.T) {
	bus := New()
	delivered := false

	bus.Subscribe(KindHookError, func(evt Event) { panic("handler bug") })
	bus.Subscribe(KindHookError, func(evt Event) { delivered = true })

	assert.NotPanics(t, func() { bus.Publish(HookErrorEvent{}) })
	assert.True(t, delivered)
}

func TestBus_NilSafe(t *testing.T) {
	var bus *Bus
	assert.NotPanics(t, func() {
		bus.Publish(HookErrorEvent{})
		bus.Subscribe(KindHookError, func(Event) {})()
	})
	assert.Equal(t, 0, bus.SubscriberCount(KindHookError))
}
