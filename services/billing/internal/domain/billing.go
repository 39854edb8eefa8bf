// Package domain holds the event-sourced Billing aggregate. State is derived
// entirely from the aggregate's own event history; commands validate against
// that state and raise new events.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/eventrelay/libs/eventstore"
)

const AggregateType = "billing"

const (
	EventBillingCreated   = "BillingCreated"
	EventBillingPaid      = "BillingPaid"
	EventBillingCancelled = "BillingCancelled"
)

const (
	StatusPending   = "pending"
	StatusPaid      = "paid"
	StatusCancelled = "cancelled"
)

var (
	ErrAmountInvalid    = errors.New("billing amount must be positive")
	ErrCurrencyRequired = errors.New("billing currency is required")
	ErrNotPending       = errors.New("billing is not pending")
	ErrAlreadyCancelled = errors.New("billing is already cancelled")
)

type BillingCreated struct {
	BillingID   string `json:"billing_id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	BillingType string `json:"billing_type"`
}

type BillingPaid struct {
	BillingID     string    `json:"billing_id"`
	PaymentMethod string    `json:"payment_method"`
	TransactionID string    `json:"transaction_id"`
	PaidAt        time.Time `json:"paid_at"`
}

type BillingCancelled struct {
	BillingID string `json:"billing_id"`
	Reason    string `json:"reason"`
}

// Billing is a single bill for a tenant: created pending, then paid or
// cancelled.
type Billing struct {
	eventstore.AggregateBase

	Status      string
	Amount      int64
	Currency    string
	BillingType string

	PaymentMethod string
	TransactionID string
	PaidAt        time.Time
	CancelReason  string
}

// NewBilling creates a pending bill, raising BillingCreated.
func NewBilling(billingID string, amount int64, currency, billingType string) (*Billing, error) {
	if amount <= 0 {
		return nil, ErrAmountInvalid
	}
	if currency == "" {
		return nil, ErrCurrencyRequired
	}

	b := &Billing{}
	b.ID = billingID
	if err := b.raise(EventBillingCreated, BillingCreated{
		BillingID:   billingID,
		Amount:      amount,
		Currency:    currency,
		BillingType: billingType,
	}); err != nil {
		return nil, err
	}
	b.Status = StatusPending
	b.Amount = amount
	b.Currency = currency
	b.BillingType = billingType
	return b, nil
}

// Pay marks a pending bill paid.
func (b *Billing) Pay(paymentMethod, transactionID string, paidAt time.Time) error {
	if b.Status != StatusPending {
		return fmt.Errorf("%w: %s", ErrNotPending, b.Status)
	}
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}
	if err := b.raise(EventBillingPaid, BillingPaid{
		BillingID:     b.ID,
		PaymentMethod: paymentMethod,
		TransactionID: transactionID,
		PaidAt:        paidAt,
	}); err != nil {
		return err
	}
	b.Status = StatusPaid
	b.PaymentMethod = paymentMethod
	b.TransactionID = transactionID
	b.PaidAt = paidAt
	return nil
}

// Cancel voids a pending bill.
func (b *Billing) Cancel(reason string) error {
	if b.Status == StatusCancelled {
		return ErrAlreadyCancelled
	}
	if b.Status != StatusPending {
		return fmt.Errorf("%w: %s", ErrNotPending, b.Status)
	}
	if err := b.raise(EventBillingCancelled, BillingCancelled{BillingID: b.ID, Reason: reason}); err != nil {
		return err
	}
	b.Status = StatusCancelled
	b.CancelReason = reason
	return nil
}

func (b *Billing) raise(eventType string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b.Raise(eventstore.DomainEvent{
		EventType:     eventType,
		OccurredAt:    time.Now().UTC(),
		SchemaVersion: 1,
		Data:          data,
	})
	return nil
}

// Apply folds one persisted record into state during rehydration.
func (b *Billing) Apply(rec eventstore.Record) error {
	switch rec.EventType {
	case EventBillingCreated:
		var evt BillingCreated
		if err := json.Unmarshal(rec.Data, &evt); err != nil {
			return err
		}
		b.Status = StatusPending
		b.Amount = evt.Amount
		b.Currency = evt.Currency
		b.BillingType = evt.BillingType
	case EventBillingPaid:
		var evt BillingPaid
		if err := json.Unmarshal(rec.Data, &evt); err != nil {
			return err
		}
		b.Status = StatusPaid
		b.PaymentMethod = evt.PaymentMethod
		b.TransactionID = evt.TransactionID
		b.PaidAt = evt.PaidAt
	case EventBillingCancelled:
		var evt BillingCancelled
		if err := json.Unmarshal(rec.Data, &evt); err != nil {
			return err
		}
		b.Status = StatusCancelled
		b.CancelReason = evt.Reason
	default:
		return fmt.Errorf("unknown event type %q", rec.EventType)
	}
	return nil
}

// Rehydrated rebuilds a Billing from its stream.
func Rehydrated(records []eventstore.Record) (*Billing, error) {
	b := &Billing{}
	if err := eventstore.Rehydrate(&b.AggregateBase, b, records); err != nil {
		return nil, err
	}
	return b, nil
}
