// Package subscriber is the transactional, deduplicated consumption base
// used by projections. Every delivery runs inside one transaction: inbox
// re-check, business handler, inbox mark. A handler error rolls all of it
// back, so redelivery is always safe.
package subscriber

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/eventrelay/libs/eventbus"
	"github.com/md-rashed-zaman/eventrelay/libs/events"
)

// Handler is the business side of a subscription. It runs inside the
// delivery transaction and must use tx for every write.
type Handler func(ctx context.Context, tx pgx.Tx, env events.Envelope) error

// Ledger is the inbox contract the subscriber deduplicates through.
type Ledger interface {
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	IsProcessedTx(ctx context.Context, tx pgx.Tx, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, tx pgx.Tx, messageID string) (bool, error)
}

// Checkpointer optionally records the last handled message per projection.
type Checkpointer interface {
	Advance(ctx context.Context, tx pgx.Tx, projectionName, messageID string) error
}

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type registration struct {
	eventType string
	handler   Handler
}

// Subscriber owns a set of event-type handlers and their bus registrations.
// Register handlers with Handle, then Start; Stop disposes everything.
type Subscriber struct {
	name       string
	pool       beginner
	ledger     Ledger
	bus        *eventbus.Bus
	logger     *slog.Logger
	checkpoint Checkpointer

	registrations []registration
	subs          []*eventbus.Subscription
}

func New(name string, pool beginner, ledger Ledger, bus *eventbus.Bus, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		name:   name,
		pool:   pool,
		ledger: ledger,
		bus:    bus,
		logger: logger,
	}
}

// WithCheckpoints enables advisory checkpoint advancement.
func (s *Subscriber) WithCheckpoints(cp Checkpointer) *Subscriber {
	s.checkpoint = cp
	return s
}

// Handle registers a handler for eventType. Call before Start.
func (s *Subscriber) Handle(eventType string, handler Handler) *Subscriber {
	s.registrations = append(s.registrations, registration{eventType: eventType, handler: handler})
	return s
}

// Start subscribes every registered handler, wrapped with idempotent
// delivery.
func (s *Subscriber) Start() {
	for _, reg := range s.registrations {
		handler := reg.handler
		sub := s.bus.Subscribe(reg.eventType, func(ctx context.Context, env events.Envelope) error {
			return s.deliver(ctx, handler, env)
		})
		s.subs = append(s.subs, sub)
	}
}

// Stop disposes all bus registrations so no handler starts during teardown.
func (s *Subscriber) Stop() {
	for _, sub := range s.subs {
		sub.Dispose()
	}
	s.subs = nil
}

func (s *Subscriber) deliver(ctx context.Context, handler Handler, env events.Envelope) error {
	// Cheap pre-check outside the transaction.
	processed, err := s.ledger.IsProcessed(ctx, env.MessageID)
	if err != nil {
		return err
	}
	if processed {
		s.logger.Info("duplicate message skipped", "subscriber", s.name, "message_id", env.MessageID, "event_type", env.EventType)
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Authoritative re-check: a concurrent delivery may have won between the
	// pre-check and here.
	processed, err = s.ledger.IsProcessedTx(ctx, tx, env.MessageID)
	if err != nil {
		return err
	}
	if processed {
		return nil
	}

	if err := handler(ctx, tx, env); err != nil {
		s.logger.Error("handler failed, rolling back",
			"subscriber", s.name, "message_id", env.MessageID, "event_type", env.EventType, "err", err)
		return err
	}

	inserted, err := s.ledger.MarkProcessed(ctx, tx, env.MessageID)
	if err != nil {
		return err
	}
	if !inserted {
		// Lost the race to a concurrent identical delivery: its transaction
		// holds the side effects, ours must not double them.
		return nil
	}

	if s.checkpoint != nil {
		if err := s.checkpoint.Advance(ctx, tx, s.name, env.MessageID); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}
