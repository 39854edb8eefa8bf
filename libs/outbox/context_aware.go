package outbox

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/eventrelay/libs/appctx"
	"github.com/md-rashed-zaman/eventrelay/libs/events"
)

// ContextAware decorates an Appender with ambient enrichment and the tenant
// isolation gate: an envelope carrying a tenant id different from the
// ambient one is rejected before any row is written.
type ContextAware struct {
	next Appender
}

func NewContextAware(next Appender) (*ContextAware, error) {
	if next == nil {
		return nil, ErrAppenderRequired
	}
	return &ContextAware{next: next}, nil
}

func (o *ContextAware) Append(ctx context.Context, tx pgx.Tx, env events.Envelope) error {
	if ambient, ok := appctx.TenantID(ctx); ok && env.TenantID != "" && env.TenantID != ambient {
		return ErrTenantMismatch
	}
	return o.next.Append(ctx, tx, env.EnrichFromContext(ctx))
}
