package events

import (
	"context"
	"errors"
	"testing"

	"github.com/md-rashed-zaman/eventrelay/libs/appctx"
)

func TestNewEnvelope_Defaults(t *testing.T) {
	env, err := NewEnvelope("BillingCreated", []byte(`{"amount":1000}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.MessageID == "" {
		t.Fatal("expected message id to default")
	}
	if env.SchemaVersion != 1 {
		t.Fatalf("expected schema version 1, got %d", env.SchemaVersion)
	}
	if env.OccurredAt.IsZero() {
		t.Fatal("expected occurred_at to default")
	}
}

func TestNewEnvelope_Invalid(t *testing.T) {
	if _, err := NewEnvelope("  ", []byte(`{}`)); !errors.Is(err, ErrEventTypeRequired) {
		t.Fatalf("expected ErrEventTypeRequired, got %v", err)
	}
	if _, err := NewEnvelope("X", []byte(`{broken`)); !errors.Is(err, ErrPayloadNotJSON) {
		t.Fatalf("expected ErrPayloadNotJSON, got %v", err)
	}
}

func TestEnrichFromContext_FillsUnsetOnly(t *testing.T) {
	ctx := appctx.WithTenantID(context.Background(), "t-A")
	ctx = appctx.WithUserID(ctx, "u-1")
	ctx = appctx.WithRequestID(ctx, "req-1")

	env, _ := NewEnvelope("X", []byte(`{}`))
	env.UserID = "u-explicit"

	got := env.EnrichFromContext(ctx)
	if got.TenantID != "t-A" {
		t.Fatalf("expected ambient tenant, got %q", got.TenantID)
	}
	if got.UserID != "u-explicit" {
		t.Fatalf("explicit user must win, got %q", got.UserID)
	}
	if got.RequestID != "req-1" {
		t.Fatalf("expected ambient request id, got %q", got.RequestID)
	}
	// original untouched
	if env.TenantID != "" {
		t.Fatal("enrichment must not mutate the original envelope")
	}
}
