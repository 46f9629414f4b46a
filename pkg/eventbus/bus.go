package eventbus

import (
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
)

// Kind identifies an event type on the bus.
type Kind string

const (
	// KindHookError is published when a lifecycle hook fails or times out.
	KindHookError Kind = "hook:error"
	// KindCircuitStateChanged is published on every circuit breaker transition.
	KindCircuitStateChanged Kind = "circuit:state_changed"
)

// Event is implemented by every payload published on the bus.
type Event interface {
	Kind() Kind
}

// HookErrorEvent reports a failed hook invocation.
type HookErrorEvent struct {
	ExecutionID       string
	HookName          string
	Event             string
	Err               error
	ConsecutiveErrors int
	Disabled          bool
	Timestamp         time.Time
}

// Kind implements Event.
func (HookErrorEvent) Kind() Kind { return KindHookError }

// CircuitStateChangedEvent reports a circuit breaker transition.
type CircuitStateChangedEvent struct {
	Name      string
	From      string
	To        string
	Timestamp time.Time
}

// Kind implements Event.
func (CircuitStateChangedEvent) Kind() Kind { return KindCircuitStateChanged }

// Handler receives published events.
type Handler func(Event)

// Unsubscribe removes a subscription. Calling it more than once is a no-op.
type Unsubscribe func()

// Bus is an in-process publish/subscribe hub with typed events.
// Handlers run synchronously on the publishing goroutine in subscription order.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[Kind][]subscription
}

type subscription struct {
	id      string
	handler Handler
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[Kind][]subscription),
	}
}

// Subscribe registers handler for kind and returns the teardown for that registration.
func (b *Bus) Subscribe(kind Kind, handler Handler) Unsubscribe {
	if b == nil || handler == nil {
		return func() {}
	}

	id, err := gonanoid.New()
	if err != nil {
		id = fmt.Sprintf("sub-%d", time.Now().UnixNano())
	}

	b.mu.Lock()
	b.subscribers[kind] = append(b.subscribers[kind], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			subs := b.subscribers[kind]
			for i, sub := range subs {
				if sub.id != id {
					continue
				}
				next := make([]subscription, 0, len(subs)-1)
				next = append(next, subs[:i]...)
				next = append(next, subs[i+1:]...)
				if len(next) == 0 {
					delete(b.subscribers, kind)
				} else {
					b.subscribers[kind] = next
				}
				return
			}
		})
	}
}

// Publish delivers evt to every handler subscribed to its kind.
// A panicking handler is logged and does not affect other handlers.
func (b *Bus) Publish(evt Event) {
	if b == nil || evt == nil {
		return
	}

	b.mu.RLock()
	subs := b.subscribers[evt.Kind()]
	b.mu.RUnlock()

	for _, sub := range subs {
		deliver(sub, evt)
	}
}

// SubscriberCount returns the number of live subscriptions for kind.
func (b *Bus) SubscriberCount(kind Kind) int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[kind])
}

func deliver(sub subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Str("kind", string(evt.Kind())).
				Str("subscription", sub.id).
				Interface("panic", r).
				Msg("Event handler panicked")
		}
	}()
	sub.handler(evt)
}
