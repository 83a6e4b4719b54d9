// Package events carries engine events to their consumers. The engine only
// sees the Publisher interface; delivery and its failures stay on the
// subscriber side.
package events

import (
	"context"
	"sync"

	"bloodmatch/pkg/logger"
	"bloodmatch/pkg/model"
)

const DefaultBufferSize = 256

type Publisher interface {
	Publish(events ...model.Event)
}

type Handler func(ctx context.Context, event model.Event) error

type subscription struct {
	name    string
	ch      chan model.Event
	handler Handler
	types   map[model.EventType]struct{}
}

func (s *subscription) wants(t model.EventType) bool {
	if len(s.types) == 0 {
		return true
	}
	_, ok := s.types[t]
	return ok
}

// Bus fans events out to subscribers, each drained by its own goroutine in
// publish order. Publish blocks when a subscriber's buffer is full, so it
// must not be called while holding engine locks.
type Bus struct {
	mu     sync.RWMutex
	subs   []*subscription
	closed bool
	wg     sync.WaitGroup
	log    *logger.Logger
}

func NewBus(log *logger.Logger) *Bus {
	return &Bus{log: log}
}

// Subscribe registers a handler for the given event types, or every type when
// none are listed. Handler errors are logged and do not stop delivery.
func (b *Bus) Subscribe(name string, buffer int, handler Handler, types ...model.EventType) {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	sub := &subscription{
		name:    name,
		ch:      make(chan model.Event, buffer),
		handler: handler,
		types:   make(map[model.EventType]struct{}, len(types)),
	}
	for _, t := range types {
		sub.types[t] = struct{}{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		b.log.Warn("Subscription ignored, event bus closed", "subscriber", name)
		return
	}
	b.subs = append(b.subs, sub)

	b.wg.Add(1)
	go b.drain(sub)
}

func (b *Bus) drain(sub *subscription) {
	defer b.wg.Done()
	for event := range sub.ch {
		if err := sub.handler(context.Background(), event); err != nil {
			b.log.Error("Event handler failed",
				"subscriber", sub.name,
				"event_type", event.Type,
				"event_id", event.ID,
				"request_id", event.RequestID,
				"error", err,
			)
		}
	}
}

func (b *Bus) Publish(events ...model.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.log.Warn("Events dropped, event bus closed", "count", len(events))
		return
	}
	for _, event := range events {
		for _, sub := range b.subs {
			if sub.wants(event.Type) {
				sub.ch <- event
			}
		}
	}
}

// Close stops accepting events and waits until every buffered event has been
// handled.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
	b.mu.Unlock()

	b.wg.Wait()
}
