package projection

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/eventrelay/libs/eventbus"
	"github.com/md-rashed-zaman/eventrelay/libs/events"
	"github.com/md-rashed-zaman/eventrelay/libs/subscriber"
	"github.com/md-rashed-zaman/eventrelay/services/billing/internal/domain"
	"github.com/md-rashed-zaman/eventrelay/services/billing/internal/storage"
)

type fakeTx struct {
	pgx.Tx
}

func (tx *fakeTx) Commit(context.Context) error   { return nil }
func (tx *fakeTx) Rollback(context.Context) error { return nil }

type fakePool struct{}

func (p *fakePool) Begin(context.Context) (pgx.Tx, error) { return &fakeTx{}, nil }

type fakeLedger struct {
	processed map[string]bool
}

func (l *fakeLedger) IsProcessed(_ context.Context, id string) (bool, error) {
	return l.processed[id], nil
}
func (l *fakeLedger) IsProcessedTx(_ context.Context, _ pgx.Tx, id string) (bool, error) {
	return l.processed[id], nil
}
func (l *fakeLedger) MarkProcessed(_ context.Context, _ pgx.Tx, id string) (bool, error) {
	l.processed[id] = true
	return true, nil
}

type memViewStore struct {
	rows      map[string]*storage.BillingView // key tenant|billing
	paidCalls int
}

func newMemViewStore() *memViewStore {
	return &memViewStore{rows: make(map[string]*storage.BillingView)}
}

func (s *memViewStore) key(tenantID, billingID string) string { return tenantID + "|" + billingID }

func (s *memViewStore) InsertPending(_ context.Context, _ pgx.Tx, view storage.BillingView) error {
	k := s.key(view.TenantID, view.BillingID)
	if _, exists := s.rows[k]; exists {
		return nil
	}
	view.Status = "pending"
	s.rows[k] = &view
	return nil
}

func (s *memViewStore) MarkPaid(_ context.Context, _ pgx.Tx, tenantID, billingID, paymentMethod, transactionID string, paidAt time.Time) error {
	row := s.rows[s.key(tenantID, billingID)]
	if row == nil {
		return storage.ErrViewNotFound
	}
	s.paidCalls++
	row.Status = "paid"
	row.PaymentMethod = paymentMethod
	row.TransactionID = transactionID
	row.PaidAt = &paidAt
	return nil
}

func (s *memViewStore) MarkCancelled(_ context.Context, _ pgx.Tx, tenantID, billingID, reason string) error {
	row := s.rows[s.key(tenantID, billingID)]
	if row == nil {
		return storage.ErrViewNotFound
	}
	row.Status = "cancelled"
	row.CancelReason = reason
	return nil
}

func envelopeFor(t *testing.T, eventType string, payload any) events.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	env, err := events.NewEnvelope(eventType, data)
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	env.TenantID = "t-1"
	return env
}

func startProjection(t *testing.T) (*eventbus.Bus, *memViewStore, func()) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := eventbus.New(logger)
	store := newMemViewStore()
	sub := subscriber.New(Name, &fakePool{}, &fakeLedger{processed: make(map[string]bool)}, bus, logger)
	NewBillingView(store).Register(sub)
	sub.Start()
	return bus, store, sub.Stop
}

func TestBillingLifecycleProjection(t *testing.T) {
	bus, store, stop := startProjection(t)
	defer stop()
	ctx := context.Background()

	created := envelopeFor(t, domain.EventBillingCreated, domain.BillingCreated{
		BillingID: "bill_1", Amount: 1000, Currency: "CNY", BillingType: "subscription",
	})
	if err := bus.Publish(ctx, created); err != nil {
		t.Fatalf("created delivery failed: %v", err)
	}

	row := store.rows["t-1|bill_1"]
	if row == nil || row.Status != "pending" || row.Amount != 1000 {
		t.Fatalf("expected pending row with amount 1000, got %+v", row)
	}

	paidAt := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	paid := envelopeFor(t, domain.EventBillingPaid, domain.BillingPaid{
		BillingID: "bill_1", PaymentMethod: "card", TransactionID: "tx1", PaidAt: paidAt,
	})
	if err := bus.Publish(ctx, paid); err != nil {
		t.Fatalf("paid delivery failed: %v", err)
	}
	if row.Status != "paid" || row.TransactionID != "tx1" || row.PaidAt == nil || !row.PaidAt.Equal(paidAt) {
		t.Fatalf("expected paid row, got %+v", row)
	}

	// Redelivering the same message must leave the row unchanged.
	if err := bus.Publish(ctx, paid); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if store.paidCalls != 1 {
		t.Fatalf("expected exactly one paid side effect, got %d", store.paidCalls)
	}
}

func TestCancelledProjection(t *testing.T) {
	bus, store, stop := startProjection(t)
	defer stop()
	ctx := context.Background()

	_ = bus.Publish(ctx, envelopeFor(t, domain.EventBillingCreated, domain.BillingCreated{
		BillingID: "bill_2", Amount: 500, Currency: "USD",
	}))
	_ = bus.Publish(ctx, envelopeFor(t, domain.EventBillingCancelled, domain.BillingCancelled{
		BillingID: "bill_2", Reason: "customer request",
	}))

	row := store.rows["t-1|bill_2"]
	if row == nil || row.Status != "cancelled" || row.CancelReason != "customer request" {
		t.Fatalf("expected cancelled row, got %+v", row)
	}
}

func TestPaidOvertakingCreated_RetriedAfterCreateLands(t *testing.T) {
	bus, store, stop := startProjection(t)
	defer stop()
	ctx := context.Background()

	paidAt := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	paid := envelopeFor(t, domain.EventBillingPaid, domain.BillingPaid{
		BillingID: "bill_4", PaymentMethod: "card", TransactionID: "tx4", PaidAt: paidAt,
	})

	// Paid arrives first. The delivery must fail so the message stays
	// unprocessed instead of silently updating zero rows.
	if err := bus.Publish(ctx, paid); !errors.Is(err, storage.ErrViewNotFound) {
		t.Fatalf("expected ErrViewNotFound for out-of-order paid, got %v", err)
	}
	if store.paidCalls != 0 {
		t.Fatal("out-of-order paid must not take effect")
	}

	if err := bus.Publish(ctx, envelopeFor(t, domain.EventBillingCreated, domain.BillingCreated{
		BillingID: "bill_4", Amount: 2000, Currency: "CNY",
	})); err != nil {
		t.Fatalf("created delivery failed: %v", err)
	}

	// Redelivery after the row exists succeeds.
	if err := bus.Publish(ctx, paid); err != nil {
		t.Fatalf("redelivered paid failed: %v", err)
	}
	row := store.rows["t-1|bill_4"]
	if row == nil || row.Status != "paid" || row.TransactionID != "tx4" {
		t.Fatalf("expected paid row after redelivery, got %+v", row)
	}
}

func TestProjection_RejectsTenantlessEnvelope(t *testing.T) {
	bus, store, stop := startProjection(t)
	defer stop()

	env := envelopeFor(t, domain.EventBillingCreated, domain.BillingCreated{BillingID: "bill_3", Amount: 1, Currency: "EUR"})
	env.TenantID = ""
	if err := bus.Publish(context.Background(), env); err == nil {
		t.Fatal("expected error for tenantless envelope")
	}
	if len(store.rows) != 0 {
		t.Fatal("tenantless envelope must not create rows")
	}
}
