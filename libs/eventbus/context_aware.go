package eventbus

import (
	"context"

	"github.com/md-rashed-zaman/eventrelay/libs/events"
)

// Publisher is the publish side of a bus.
type Publisher interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// ContextAware fills unset tenant/user/request ids from the ambient context
// before publishing. Values already set on the envelope are never
// overwritten.
type ContextAware struct {
	next Publisher
}

func NewContextAware(next Publisher) *ContextAware {
	return &ContextAware{next: next}
}

func (p *ContextAware) Publish(ctx context.Context, env events.Envelope) error {
	return p.next.Publish(ctx, env.EnrichFromContext(ctx))
}
