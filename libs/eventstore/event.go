package eventstore

import (
	"encoding/json"
	"time"
)

// DomainEvent is a single state change produced by an aggregate. It is
// immutable once raised; persistence adds stream coordinates around it.
type DomainEvent struct {
	EventType     string
	AggregateID   string
	OccurredAt    time.Time
	SchemaVersion int
	Data          json.RawMessage
}

// StreamID identifies one aggregate stream. All three parts participate in
// the uniqueness constraint that arbitrates concurrent writers.
type StreamID struct {
	TenantID      string
	AggregateType string
	AggregateID   string
}

// Record is the persisted form of a DomainEvent.
type Record struct {
	ID            int64
	TenantID      string
	AggregateType string
	AggregateID   string
	Version       int
	EventType     string
	OccurredAt    time.Time
	SchemaVersion int
	Data          json.RawMessage
	UserID        string
	RequestID     string
	CreatedAt     time.Time
}
