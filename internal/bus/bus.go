package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/joehacksalot/badgecore/internal/groutine"
)

// MaxPayloadBytes bounds the size of an individual event payload. Payload
// types that implement Sized are checked against this limit; other payload
// types are accepted unchecked, matching the firmware's per-event bound
// which only applies to fixed-layout wire payloads in the first place.
const MaxPayloadBytes = 8 * 1024

// DefaultNotifyTimeout is the default wait duration passed to Notify by
// producers that don't have a more specific deadline in mind.
const DefaultNotifyTimeout = 100 * time.Millisecond

// Sized is implemented by payload types that know their own wire size, so
// Notify can enforce MaxPayloadBytes.
type Sized interface {
	Size() int
}

// ErrQueueFull is returned by Notify when the event could not be queued
// within its timeout.
var ErrQueueFull = errors.New("bus: queue full")

// ErrPayloadTooLarge is returned by Notify when a Sized payload exceeds
// MaxPayloadBytes.
var ErrPayloadTooLarge = errors.New("bus: payload too large")

// Handler processes a dispatched event's payload. Handlers run sequentially
// on the bus's single worker goroutine and must not block for long.
type Handler func(payload any)

type envelope struct {
	event   Event
	payload any
}

// Bus is the badge's single-worker notification dispatcher. A Bus must be
// started with Run before any Notify succeeds, and is safe for concurrent
// use by any number of producers.
type Bus struct {
	logger *logrus.Logger
	queue  chan envelope

	mu       sync.RWMutex
	handlers map[Event][]Handler
}

// New creates a Bus with the given queue depth (the number of events that
// may be buffered ahead of the worker).
func New(logger *logrus.Logger, queueDepth int) *Bus {
	if queueDepth <= 0 {
		queueDepth = 64
	}
	return &Bus{
		logger:   logger,
		queue:    make(chan envelope, queueDepth),
		handlers: make(map[Event][]Handler),
	}
}

// Subscribe registers handler to run whenever event is dispatched. Multiple
// handlers for the same event are invoked in registration order.
func (b *Bus) Subscribe(event Event, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[event] = append(b.handlers[event], handler)
}

// Notify enqueues event with payload, waiting up to timeout for room in the
// queue. It returns ErrQueueFull if the timeout elapses first, or
// ErrPayloadTooLarge if payload implements Sized and exceeds
// MaxPayloadBytes.
func (b *Bus) Notify(event Event, payload any, timeout time.Duration) error {
	if sized, ok := payload.(Sized); ok && sized.Size() > MaxPayloadBytes {
		return ErrPayloadTooLarge
	}

	env := envelope{event: event, payload: payload}
	if timeout <= 0 {
		select {
		case b.queue <- env:
			return nil
		default:
			return ErrQueueFull
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case b.queue <- env:
		return nil
	case <-timer.C:
		return ErrQueueFull
	}
}

// Run launches the serializing worker in a named background goroutine that
// runs until ctx is canceled. Run itself returns immediately.
func (b *Bus) Run(ctx context.Context) {
	groutine.Go(ctx, "notification-bus", func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case env := <-b.queue:
				b.dispatch(env)
			}
		}
	})
}

func (b *Bus) dispatch(env envelope) {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[env.event]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.WithFields(logrus.Fields{
						"event": env.event,
						"panic": r,
					}).Error("notification handler panicked")
				}
			}()
			h(env.payload)
		}()
	}
}
