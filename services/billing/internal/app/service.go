// Package app holds the billing command handlers: load the aggregate, apply
// the command, and in one transaction append the new events to the event
// store and stage their integration envelopes on the outbox.
package app

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/eventrelay/libs/appctx"
	"github.com/md-rashed-zaman/eventrelay/libs/events"
	"github.com/md-rashed-zaman/eventrelay/libs/eventstore"
	"github.com/md-rashed-zaman/eventrelay/services/billing/internal/domain"
)

var ErrTenantRequired = errors.New("ambient tenant is required")

type eventStore interface {
	AppendToStream(ctx context.Context, tx pgx.Tx, stream eventstore.StreamID, expectedVersion int, evts []eventstore.DomainEvent) error
	LoadStream(ctx context.Context, stream eventstore.StreamID) ([]eventstore.Record, error)
}

type outboxAppender interface {
	Append(ctx context.Context, tx pgx.Tx, env events.Envelope) error
}

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Service struct {
	pool   beginner
	store  eventStore
	outbox outboxAppender
}

func NewService(pool beginner, store eventStore, outbox outboxAppender) *Service {
	return &Service{pool: pool, store: store, outbox: outbox}
}

type CreateBillingCommand struct {
	BillingID   string
	Amount      int64
	Currency    string
	BillingType string
}

func (s *Service) CreateBilling(ctx context.Context, cmd CreateBillingCommand) error {
	tenantID, ok := appctx.TenantID(ctx)
	if !ok {
		return ErrTenantRequired
	}

	b, err := domain.NewBilling(cmd.BillingID, cmd.Amount, cmd.Currency, cmd.BillingType)
	if err != nil {
		return err
	}
	return s.commit(ctx, tenantID, b)
}

type PayBillingCommand struct {
	BillingID     string
	PaymentMethod string
	TransactionID string
	PaidAt        time.Time
}

func (s *Service) PayBilling(ctx context.Context, cmd PayBillingCommand) error {
	return s.mutate(ctx, cmd.BillingID, func(b *domain.Billing) error {
		return b.Pay(cmd.PaymentMethod, cmd.TransactionID, cmd.PaidAt)
	})
}

type CancelBillingCommand struct {
	BillingID string
	Reason    string
}

func (s *Service) CancelBilling(ctx context.Context, cmd CancelBillingCommand) error {
	return s.mutate(ctx, cmd.BillingID, func(b *domain.Billing) error {
		return b.Cancel(cmd.Reason)
	})
}

// mutate rehydrates the aggregate, applies the command, and commits. A
// concurrency conflict surfaces to the caller; it is never retried here.
func (s *Service) mutate(ctx context.Context, billingID string, apply func(*domain.Billing) error) error {
	tenantID, ok := appctx.TenantID(ctx)
	if !ok {
		return ErrTenantRequired
	}

	records, err := s.store.LoadStream(ctx, eventstore.StreamID{
		TenantID:      tenantID,
		AggregateType: domain.AggregateType,
		AggregateID:   billingID,
	})
	if err != nil {
		return err
	}
	b, err := domain.Rehydrated(records)
	if err != nil {
		return err
	}
	if err := apply(b); err != nil {
		return err
	}
	return s.commit(ctx, tenantID, b)
}

// commit appends the staged events and their outbox envelopes atomically.
func (s *Service) commit(ctx context.Context, tenantID string, b *domain.Billing) error {
	staged := b.UncommittedEvents()
	if len(staged) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	stream := eventstore.StreamID{
		TenantID:      tenantID,
		AggregateType: domain.AggregateType,
		AggregateID:   b.ID,
	}
	if err := s.store.AppendToStream(ctx, tx, stream, b.Version, staged); err != nil {
		return err
	}

	for _, evt := range staged {
		env, err := events.NewEnvelope(evt.EventType, evt.Data)
		if err != nil {
			return err
		}
		env.OccurredAt = evt.OccurredAt
		env.SchemaVersion = evt.SchemaVersion
		if err := s.outbox.Append(ctx, tx, env); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	b.ClearUncommitted()
	b.Version += len(staged)
	return nil
}
