package events

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
)

// emitQueueSize bounds events waiting for the async dispatcher.
const emitQueueSize = 64

// ErrHandlerPanicked wraps a panic recovered from a handler.
var ErrHandlerPanicked = errors.New("event handler panicked")

// HandlerFunc is a function that handles an event.
type HandlerFunc func(ctx context.Context, event Event) error

// EventBus fans session events out to subscribers in the order the
// session produced them. Handlers of one event run one after another, in
// subscription order, so a subscriber never sees disconnected before the
// logged_in that preceded it.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]handlerEntry
	stopCh   chan struct{}
	stopped  bool

	queue    chan queuedEvent
	dispatch sync.WaitGroup
}

type handlerEntry struct {
	name    string
	handler HandlerFunc
}

type queuedEvent struct {
	ctx   context.Context
	event Event
}

// NewEventBus creates a bus and starts its dispatcher.
func NewEventBus() *EventBus {
	eb := &EventBus{
		handlers: make(map[EventType][]handlerEntry),
		stopCh:   make(chan struct{}),
		queue:    make(chan queuedEvent, emitQueueSize),
	}
	eb.dispatch.Add(1)
	go eb.dispatchLoop()
	return eb
}

func (eb *EventBus) dispatchLoop() {
	defer eb.dispatch.Done()
	for q := range eb.queue {
		if err := eb.deliver(q.ctx, q.event); err != nil {
			log.Debug().Err(err).Str("event", string(q.event.Type)).Msg("async event handler failed")
		}
	}
}

// Subscribe registers a handler for one event type. Handlers run in the
// order they subscribed. The name identifies the handler for Unsubscribe
// and logging.
func (eb *EventBus) Subscribe(eventType EventType, name string, handler HandlerFunc) {
	if !known(eventType) {
		log.Warn().Str("event", string(eventType)).Str("handler", name).Msg("subscribing to unknown event type")
	}

	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handlerEntry{
		name:    name,
		handler: handler,
	})

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("subscribed to event")
}

func known(t EventType) bool {
	return t == EventShutdown || slices.Contains(AllTypes(), t)
}

// SubscribeAll registers the same handler for every session event type.
func (eb *EventBus) SubscribeAll(name string, handler HandlerFunc) {
	for _, t := range AllTypes() {
		eb.Subscribe(t, name, handler)
	}
}

// UnsubscribeAll removes a named handler from every session event type.
func (eb *EventBus) UnsubscribeAll(name string) {
	for _, t := range AllTypes() {
		eb.Unsubscribe(t, name)
	}
}

// Unsubscribe removes a named handler from a specific event type.
func (eb *EventBus) Unsubscribe(eventType EventType, name string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	handlers, exists := eb.handlers[eventType]
	if !exists {
		return
	}
	eb.handlers[eventType] = slices.DeleteFunc(slices.Clone(handlers), func(h handlerEntry) bool {
		return h.name == name
	})

	log.Debug().
		Str("event", string(eventType)).
		Str("handler", name).
		Msg("unsubscribed from event")
}

// Emit queues an event for the dispatcher and returns at once. Queued
// events are delivered in Emit order. A full queue drops the event.
func (eb *EventBus) Emit(ctx context.Context, event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.stopped {
		return
	}
	select {
	case eb.queue <- queuedEvent{ctx: ctx, event: event}:
	default:
		log.Warn().Str("event", string(event.Type)).Msg("event queue full, dropping event")
	}
}

// EmitSync delivers an event to every handler before returning. All
// handlers run even when one fails; the first error is returned.
func (eb *EventBus) EmitSync(ctx context.Context, event Event) error {
	eb.mu.RLock()
	stopped := eb.stopped
	eb.mu.RUnlock()
	if stopped {
		return nil
	}
	return eb.deliver(ctx, event)
}

func (eb *EventBus) deliver(ctx context.Context, event Event) error {
	eb.mu.RLock()
	handlers := slices.Clone(eb.handlers[event.Type])
	eb.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	log.Trace().
		Str("event", string(event.Type)).
		Str("source", event.Source).
		Int("handlers", len(handlers)).
		Msg("delivering event")

	var firstErr error
	for _, h := range handlers {
		if err := call(ctx, h, event); err != nil {
			log.Error().
				Err(err).
				Str("event", string(event.Type)).
				Str("handler", h.name).
				Msg("handler returned error")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// call runs one handler, turning a panic into an error.
func call(ctx context.Context, h handlerEntry, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %s: %v", ErrHandlerPanicked, h.name, r)
		}
	}()
	return h.handler(ctx, event)
}

// Stop delivers what Emit already queued, then refuses new events.
func (eb *EventBus) Stop() {
	eb.mu.Lock()
	if eb.stopped {
		eb.mu.Unlock()
		return
	}
	eb.stopped = true
	close(eb.stopCh)
	close(eb.queue)
	eb.mu.Unlock()

	eb.dispatch.Wait()
	log.Info().Msg("event bus stopped")
}

// StopCh returns a channel that is closed when the EventBus is stopped.
func (eb *EventBus) StopCh() <-chan struct{} {
	return eb.stopCh
}

// HandlerCount returns the number of handlers registered for a specific event type.
func (eb *EventBus) HandlerCount(eventType EventType) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}
