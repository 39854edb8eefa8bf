package appctx

import (
	"context"
	"testing"
)

func TestTenantID_RoundTrip(t *testing.T) {
	ctx := WithTenantID(context.Background(), "t-1")
	got, ok := TenantID(ctx)
	if !ok || got != "t-1" {
		t.Fatalf("expected t-1, got %q ok=%v", got, ok)
	}
}

func TestTenantID_Unset(t *testing.T) {
	if _, ok := TenantID(context.Background()); ok {
		t.Fatal("expected no tenant on empty context")
	}
}

func TestTenantID_BlankTreatedAsUnset(t *testing.T) {
	ctx := WithTenantID(context.Background(), "   ")
	if _, ok := TenantID(ctx); ok {
		t.Fatal("expected blank tenant to read as unset")
	}
}

func TestUserAndRequestID(t *testing.T) {
	ctx := WithUserID(context.Background(), "u-9")
	ctx = WithRequestID(ctx, "req-42")

	if got, ok := UserID(ctx); !ok || got != "u-9" {
		t.Fatalf("user id: got %q ok=%v", got, ok)
	}
	if got, ok := RequestID(ctx); !ok || got != "req-42" {
		t.Fatalf("request id: got %q ok=%v", got, ok)
	}
}
