package eventstore

import "fmt"

// Applier is the state-transition side of an aggregate: fold one persisted
// record into in-memory state. Upcasting of old schema versions happens here,
// keyed by Record.SchemaVersion.
type Applier interface {
	Apply(rec Record) error
}

// AggregateBase carries the bookkeeping every event-sourced aggregate needs:
// the version it was loaded at and the events raised since. Embed it in the
// domain type; it is owned by a single command handler per use case and never
// shared across requests.
type AggregateBase struct {
	ID      string
	Version int

	pending []DomainEvent
}

// Raise stages a new event. It is not persisted until the command handler
// appends it to the store.
func (b *AggregateBase) Raise(evt DomainEvent) {
	if evt.AggregateID == "" {
		evt.AggregateID = b.ID
	}
	b.pending = append(b.pending, evt)
}

// UncommittedEvents returns the staged events in raise order.
func (b *AggregateBase) UncommittedEvents() []DomainEvent {
	return b.pending
}

// ClearUncommitted drops staged events. Call only after a successful append.
func (b *AggregateBase) ClearUncommitted() {
	b.pending = nil
}

// Rehydrate replays a loaded stream through the aggregate's Apply function.
// It validates the versions are exactly 1..N and records the last version on
// base so the next append carries the right expected version.
func Rehydrate(base *AggregateBase, agg Applier, records []Record) error {
	if len(records) == 0 {
		return ErrStreamMissing
	}
	for i, rcd := range records {
		if rcd.Version != i+1 {
			return fmt.Errorf("%w: expected version %d, got %d", ErrStreamCorrupt, i+1, rcd.Version)
		}
		if err := agg.Apply(rcd); err != nil {
			return fmt.Errorf("apply %s v%d: %w", rcd.EventType, rcd.Version, err)
		}
	}
	last := records[len(records)-1]
	base.ID = last.AggregateID
	base.Version = last.Version
	return nil
}
