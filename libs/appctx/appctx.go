// Package appctx carries per-call metadata (tenant, user, request) through
// context.Context. Values are set once at the edge (HTTP middleware, consumer
// loop) and read-only afterwards.
package appctx

import (
	"context"
	"strings"
)

type ctxKey int

const (
	ctxKeyTenantID ctxKey = iota
	ctxKeyUserID
	ctxKeyRequestID
)

func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ctxKeyTenantID, strings.TrimSpace(tenantID))
}

func TenantID(ctx context.Context) (string, bool) {
	v, _ := ctx.Value(ctxKeyTenantID).(string)
	if v == "" {
		return "", false
	}
	return v, true
}

func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKeyUserID, strings.TrimSpace(userID))
}

func UserID(ctx context.Context) (string, bool) {
	v, _ := ctx.Value(ctxKeyUserID).(string)
	if v == "" {
		return "", false
	}
	return v, true
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, strings.TrimSpace(requestID))
}

func RequestID(ctx context.Context) (string, bool) {
	v, _ := ctx.Value(ctxKeyRequestID).(string)
	if v == "" {
		return "", false
	}
	return v, true
}
