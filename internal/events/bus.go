package events

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-workshop-api/internal/observability"
)

// All subscribes a handler to every event name.
const All = "*"

type subscription struct {
	name    string
	handler Handler
}

// Bus dispatches events synchronously to subscribers in subscription order.
// A failing or panicking subscriber is logged and does not stop the others.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	logger   zerolog.Logger
	now      func() time.Time
}

// NewBus constructs an in-process dispatcher.
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string][]subscription),
		logger:   logger.With().Str("component", "event_bus").Logger(),
		now:      time.Now,
	}
}

// Subscribe registers handler for the event name, or for every event when name is All.
func (b *Bus) Subscribe(name, subscriber string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[name] = append(b.handlers[name], subscription{name: subscriber, handler: handler})
}

// Emit stamps the event and runs every matching handler.
func (b *Bus) Emit(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = b.now().UTC()
	}

	b.mu.RLock()
	subscribers := make([]subscription, 0, len(b.handlers[event.Name])+len(b.handlers[All]))
	subscribers = append(subscribers, b.handlers[event.Name]...)
	subscribers = append(subscribers, b.handlers[All]...)
	b.mu.RUnlock()

	observability.EventsEmitted().WithLabelValues(event.Name).Inc()

	var errs []error
	for _, sub := range subscribers {
		if err := b.dispatch(ctx, sub, event); err != nil {
			b.logger.Error().
				Err(err).
				Str("event", event.Name).
				Str("subscriber", sub.name).
				Uint("workshop_id", event.WorkshopID).
				Msg("event subscriber failed")
			errs = append(errs, fmt.Errorf("%s: %w", sub.name, err))
		}
	}

	return errors.Join(errs...)
}

func (b *Bus) dispatch(ctx context.Context, sub subscription, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("subscriber panic: %v", r)
		}
	}()
	return sub.handler(ctx, event)
}

// Fanout emits to several sinks, continuing past failures.
type Fanout []Sink

func (f Fanout) Emit(ctx context.Context, event Event) error {
	var errs []error
	for _, sink := range f {
		if sink == nil {
			continue
		}
		if err := sink.Emit(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps emitted events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(_ context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Names returns the recorded event names in emission order.
func (r *Recorder) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.events))
	for _, event := range r.events {
		names = append(names, event.Name)
	}
	return names
}

// Count returns how many recorded events carry the name.
func (r *Recorder) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, event := range r.events {
		if event.Name == name {
			count++
		}
	}
	return count
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
