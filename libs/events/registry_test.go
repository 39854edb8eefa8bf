package events

import (
	"encoding/json"
	"testing"
)

type billingCreated struct {
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	BillingType string `json:"billing_type"`
}

func TestRegistry_DecodeTyped(t *testing.T) {
	reg := NewRegistry()
	reg.Register("BillingCreated", 1, func() any { return &billingCreated{} }, nil)

	env, _ := NewEnvelope("BillingCreated", []byte(`{"amount":1000,"currency":"CNY","billing_type":"subscription"}`))
	decoded, err := reg.Decode(env)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	payload, ok := decoded.(*billingCreated)
	if !ok {
		t.Fatalf("expected *billingCreated, got %T", decoded)
	}
	if payload.Amount != 1000 || payload.Currency != "CNY" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestRegistry_Upcast(t *testing.T) {
	reg := NewRegistry()
	// v1 used "amount_cents"; v2 renamed it to "amount".
	reg.Register("BillingCreated", 2, func() any { return &billingCreated{} }, map[int]Upcaster{
		1: func(payload json.RawMessage) (json.RawMessage, error) {
			var old struct {
				AmountCents int64  `json:"amount_cents"`
				Currency    string `json:"currency"`
			}
			if err := json.Unmarshal(payload, &old); err != nil {
				return nil, err
			}
			return json.Marshal(map[string]any{"amount": old.AmountCents, "currency": old.Currency})
		},
	})

	env, _ := NewEnvelope("BillingCreated", []byte(`{"amount_cents":500,"currency":"USD"}`))
	env.SchemaVersion = 1

	decoded, err := reg.Decode(env)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	payload := decoded.(*billingCreated)
	if payload.Amount != 500 || payload.Currency != "USD" {
		t.Fatalf("upcast produced wrong payload: %+v", payload)
	}
}

func TestRegistry_UnknownType(t *testing.T) {
	reg := NewRegistry()
	env, _ := NewEnvelope("Nope", []byte(`{}`))
	if _, err := reg.Decode(env); err == nil {
		t.Fatal("expected error for unregistered type")
	}
}

func TestRegistry_MissingUpcaster(t *testing.T) {
	reg := NewRegistry()
	reg.Register("X", 3, func() any { return &struct{}{} }, nil)
	env, _ := NewEnvelope("X", []byte(`{}`))
	env.SchemaVersion = 1
	if _, err := reg.Decode(env); err == nil {
		t.Fatal("expected error when upcaster chain is incomplete")
	}
}
