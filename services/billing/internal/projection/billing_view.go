// Package projection folds billing integration events into the billing_view
// read model. Handlers run under the idempotent subscriber base, so each
// message takes effect exactly once regardless of redelivery.
package projection

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/eventrelay/libs/events"
	"github.com/md-rashed-zaman/eventrelay/libs/subscriber"
	"github.com/md-rashed-zaman/eventrelay/services/billing/internal/domain"
	"github.com/md-rashed-zaman/eventrelay/services/billing/internal/storage"
)

const Name = "billing_view"

type viewStore interface {
	InsertPending(ctx context.Context, tx pgx.Tx, view storage.BillingView) error
	MarkPaid(ctx context.Context, tx pgx.Tx, tenantID, billingID, paymentMethod, transactionID string, paidAt time.Time) error
	MarkCancelled(ctx context.Context, tx pgx.Tx, tenantID, billingID, reason string) error
}

type BillingView struct {
	store    viewStore
	registry *events.Registry
}

func NewBillingView(store viewStore) *BillingView {
	registry := events.NewRegistry()
	registry.Register(domain.EventBillingCreated, 1, func() any { return &domain.BillingCreated{} }, nil)
	registry.Register(domain.EventBillingPaid, 1, func() any { return &domain.BillingPaid{} }, nil)
	registry.Register(domain.EventBillingCancelled, 1, func() any { return &domain.BillingCancelled{} }, nil)
	return &BillingView{store: store, registry: registry}
}

// Register binds the projection's handlers onto the subscriber base.
func (p *BillingView) Register(sub *subscriber.Subscriber) {
	sub.Handle(domain.EventBillingCreated, p.handleCreated)
	sub.Handle(domain.EventBillingPaid, p.handlePaid)
	sub.Handle(domain.EventBillingCancelled, p.handleCancelled)
}

func (p *BillingView) handleCreated(ctx context.Context, tx pgx.Tx, env events.Envelope) error {
	evt, err := p.decode(env)
	if err != nil {
		return err
	}
	created := evt.(*domain.BillingCreated)
	return p.store.InsertPending(ctx, tx, storage.BillingView{
		TenantID:    env.TenantID,
		BillingID:   created.BillingID,
		Amount:      created.Amount,
		Currency:    created.Currency,
		BillingType: created.BillingType,
	})
}

func (p *BillingView) handlePaid(ctx context.Context, tx pgx.Tx, env events.Envelope) error {
	evt, err := p.decode(env)
	if err != nil {
		return err
	}
	paid := evt.(*domain.BillingPaid)
	return p.store.MarkPaid(ctx, tx, env.TenantID, paid.BillingID, paid.PaymentMethod, paid.TransactionID, paid.PaidAt)
}

func (p *BillingView) handleCancelled(ctx context.Context, tx pgx.Tx, env events.Envelope) error {
	evt, err := p.decode(env)
	if err != nil {
		return err
	}
	cancelled := evt.(*domain.BillingCancelled)
	return p.store.MarkCancelled(ctx, tx, env.TenantID, cancelled.BillingID, cancelled.Reason)
}

func (p *BillingView) decode(env events.Envelope) (any, error) {
	if env.TenantID == "" {
		return nil, fmt.Errorf("envelope %s has no tenant", env.MessageID)
	}
	return p.registry.Decode(env)
}
