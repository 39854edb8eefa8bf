// Package events defines the integration-event envelope shared by the
// outbox, the event bus, and subscribers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/appctx"
)

var (
	ErrEventTypeRequired = errors.New("event type is required")
	ErrPayloadNotJSON    = errors.New("payload must be valid JSON")
)

// Envelope is the wire/storage form of a published event. Immutable once
// constructed; enrichment returns a copy.
type Envelope struct {
	MessageID     string          `json:"message_id"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	SchemaVersion int             `json:"schema_version"`
	TenantID      string          `json:"tenant_id,omitempty"`
	UserID        string          `json:"user_id,omitempty"`
	RequestID     string          `json:"request_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope builds a valid envelope with a fresh message id.
func NewEnvelope(eventType string, payload []byte) (Envelope, error) {
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return Envelope{}, ErrEventTypeRequired
	}
	if !json.Valid(payload) {
		return Envelope{}, ErrPayloadNotJSON
	}
	return Envelope{
		MessageID:     uuid.NewString(),
		EventType:     eventType,
		OccurredAt:    time.Now().UTC(),
		SchemaVersion: 1,
		Payload:       payload,
	}, nil
}

// EnrichFromContext fills tenant/user/request ids that are still unset from
// the ambient context. Values already present on the envelope win.
func (e Envelope) EnrichFromContext(ctx context.Context) Envelope {
	if e.TenantID == "" {
		if tenantID, ok := appctx.TenantID(ctx); ok {
			e.TenantID = tenantID
		}
	}
	if e.UserID == "" {
		if userID, ok := appctx.UserID(ctx); ok {
			e.UserID = userID
		}
	}
	if e.RequestID == "" {
		if requestID, ok := appctx.RequestID(ctx); ok {
			e.RequestID = requestID
		}
	}
	return e
}
