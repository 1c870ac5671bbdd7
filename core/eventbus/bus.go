// Package eventbus provides the named-event subscribe/dispatch/await
// primitive shared by every session component.
//
// Dispatch is synchronous within a single Emit call and follows registration
// order. Waiters created with [Bus.WaitFor] suspend cooperatively: an Emit
// never blocks on a waiter, and a waiter registered after an Emit began is
// not visible to that Emit.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/parley-ai/parley-core/core/events"
)

// ErrWaitTimeout reports that a WaitFor deadline elapsed before a matching
// event was emitted.
var ErrWaitTimeout = errors.New("timed out waiting for event")

// Handler consumes one event. A non-nil error is captured and reported on
// [Bus.Errors]; it never stops the remaining handlers of the same emit.
type Handler func(events.Event) error

// HandlerError pairs a failed handler invocation with the event that
// triggered it.
type HandlerError struct {
	Kind  events.Kind
	Event events.Event
	Err   error
}

func (e HandlerError) Error() string {
	return fmt.Sprintf("handler for %q failed: %v", e.Kind, e.Err)
}

func (e HandlerError) Unwrap() error { return e.Err }

type subscription struct {
	id      uint64
	kind    events.Kind
	handler Handler
	once    bool
	fired   atomic.Bool
}

// Subscription identifies a registered handler so it can be removed again.
type Subscription struct {
	bus *Bus
	sub *subscription
}

// Cancel removes the handler from the bus. Safe to call more than once and
// after the handler already fired.
func (s *Subscription) Cancel() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.remove(s.sub)
}

// Bus dispatches typed events to named-event subscribers.
type Bus struct {
	mu       sync.Mutex
	handlers map[events.Kind][]*subscription
	nextID   uint64

	errs    chan HandlerError
	dropped atomic.Int64
}

// New creates an empty bus. Handler failures are buffered on the error
// channel; once it is full further failures are counted and logged instead
// of blocking dispatch.
func New() *Bus {
	return &Bus{
		handlers: map[events.Kind][]*subscription{},
		errs:     make(chan HandlerError, 64),
	}
}

// Errors exposes captured handler failures.
func (b *Bus) Errors() <-chan HandlerError {
	return b.errs
}

// DroppedErrors reports how many handler failures could not be buffered.
func (b *Bus) DroppedErrors() int64 {
	return b.dropped.Load()
}

// On registers a persistent handler for kind. Handlers for the same kind run
// in registration order.
func (b *Bus) On(kind events.Kind, handler Handler) *Subscription {
	return b.add(kind, handler, false)
}

// Once registers a handler that is removed after its first invocation.
func (b *Bus) Once(kind events.Kind, handler Handler) *Subscription {
	return b.add(kind, handler, true)
}

// Off removes a previously registered handler.
func (b *Bus) Off(sub *Subscription) {
	sub.Cancel()
}

func (b *Bus) add(kind events.Kind, handler Handler, once bool) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &subscription{id: b.nextID, kind: kind, handler: handler, once: once}
	b.handlers[kind] = append(b.handlers[kind], sub)
	return &Subscription{bus: b, sub: sub}
}

func (b *Bus) remove(sub *subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[sub.kind]
	for i, candidate := range subs {
		if candidate.id == sub.id {
			b.handlers[sub.kind] = slices.Delete(subs, i, i+1)
			break
		}
	}
	if len(b.handlers[sub.kind]) == 0 {
		delete(b.handlers, sub.kind)
	}
}

// Emit invokes every handler currently registered for the event's kind,
// synchronously and in registration order, then removes fired one-shot
// handlers. Handlers registered while the emit is running are not invoked
// by it.
func (b *Bus) Emit(event events.Event) {
	kind := event.Kind()

	b.mu.Lock()
	snapshot := slices.Clone(b.handlers[kind])
	b.mu.Unlock()

	for _, sub := range snapshot {
		if sub.once {
			if !sub.fired.CompareAndSwap(false, true) {
				continue
			}
			b.remove(sub)
		}

		if err := b.invoke(sub, event); err != nil {
			b.report(HandlerError{Kind: kind, Event: event, Err: err})
		}
	}
}

func (b *Bus) invoke(sub *subscription, event events.Event) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("handler panicked: %v", recovered)
		}
	}()
	return sub.handler(event)
}

func (b *Bus) report(handlerErr HandlerError) {
	select {
	case b.errs <- handlerErr:
	default:
		b.dropped.Add(1)
		logger.Warn("dropping handler error, error channel full",
			"kind", string(handlerErr.Kind), "error", handlerErr.Err)
	}
}

// WaitFor suspends the caller until an event of the given kind matching the
// predicate is emitted, or ctx ends. A nil predicate matches any event of
// the kind. An elapsed deadline yields [ErrWaitTimeout].
func (b *Bus) WaitFor(ctx context.Context, kind events.Kind, predicate func(events.Event) bool) (events.Event, error) {
	matched := make(chan events.Event, 1)

	sub := b.On(kind, func(event events.Event) error {
		if predicate != nil && !predicate(event) {
			return nil
		}
		select {
		case matched <- event:
		default:
		}
		return nil
	})
	defer sub.Cancel()

	select {
	case event := <-matched:
		return event, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %q", ErrWaitTimeout, kind)
		}
		return nil, ctx.Err()
	}
}
