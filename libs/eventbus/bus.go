// Package eventbus is the in-process publish/subscribe fan-out. Cross-process
// transport (kafka) plugs in behind the same Publish contract.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/md-rashed-zaman/eventrelay/libs/events"
)

// Handler consumes one envelope. Errors are reported to the publisher but do
// not stop delivery to other handlers.
type Handler func(ctx context.Context, env events.Envelope) error

type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[int64]Handler
	nextID int64
	logger *slog.Logger
}

func New(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[string]map[int64]Handler),
		logger: logger,
	}
}

// Subscription deregisters its handler on Dispose. Dispose is idempotent.
type Subscription struct {
	bus       *Bus
	eventType string
	id        int64
	once      sync.Once
}

func (s *Subscription) Dispose() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		if handlers, ok := s.bus.subs[s.eventType]; ok {
			delete(handlers, s.id)
			if len(handlers) == 0 {
				delete(s.bus.subs, s.eventType)
			}
		}
	})
}

func (b *Bus) Subscribe(eventType string, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	if b.subs[eventType] == nil {
		b.subs[eventType] = make(map[int64]Handler)
	}
	b.subs[eventType][id] = handler
	return &Subscription{bus: b, eventType: eventType, id: id}
}

// Publish delivers env to every handler subscribed under its event type.
// One handler's failure (or panic) does not prevent delivery to the rest;
// all failures come back joined.
func (b *Bus) Publish(ctx context.Context, env events.Envelope) error {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs[env.EventType]))
	for _, h := range b.subs[env.EventType] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	var errs []error
	for _, h := range handlers {
		if err := b.deliver(ctx, h, env); err != nil {
			errs = append(errs, err)
			if b.logger != nil {
				b.logger.Error("event handler failed",
					"event_type", env.EventType,
					"message_id", env.MessageID,
					"err", err)
			}
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) deliver(ctx context.Context, h Handler, env events.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, env)
}
