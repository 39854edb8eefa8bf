package kafkax

import (
	"strconv"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// EnvelopeMeta is the canonical envelope metadata carried on Kafka message
// headers. The payload travels as the message value.
type EnvelopeMeta struct {
	MessageID     string
	EventType     string
	OccurredAt    time.Time
	SchemaVersion int
	TenantID      string
	UserID        string
	RequestID     string
}

// EnvelopeHeaders encodes meta as Kafka headers. Empty fields are omitted.
func EnvelopeHeaders(meta EnvelopeMeta) []kafka.Header {
	headers := []kafka.Header{
		{Key: "message_id", Value: []byte(meta.MessageID)},
		{Key: "event_type", Value: []byte(meta.EventType)},
		{Key: "occurred_at", Value: []byte(meta.OccurredAt.UTC().Format(time.RFC3339Nano))},
		{Key: "schema_version", Value: []byte(strconv.Itoa(meta.SchemaVersion))},
	}
	for _, opt := range []struct{ key, value string }{
		{"tenant_id", meta.TenantID},
		{"user_id", meta.UserID},
		{"request_id", meta.RequestID},
	} {
		if opt.value != "" {
			headers = append(headers, kafka.Header{Key: opt.key, Value: []byte(opt.value)})
		}
	}
	return headers
}

// ExtractEnvelopeMeta reads envelope metadata back out of a message, falling
// back to the key/topic when headers are absent.
func ExtractEnvelopeMeta(msg kafka.Message) EnvelopeMeta {
	meta := EnvelopeMeta{
		MessageID:     HeaderValue(msg.Headers, "message_id"),
		EventType:     HeaderValue(msg.Headers, "event_type"),
		TenantID:      HeaderValue(msg.Headers, "tenant_id"),
		UserID:        HeaderValue(msg.Headers, "user_id"),
		RequestID:     HeaderValue(msg.Headers, "request_id"),
		SchemaVersion: 1,
	}
	if meta.MessageID == "" {
		meta.MessageID = string(msg.Key)
	}
	if meta.EventType == "" {
		meta.EventType = msg.Topic
	}
	if raw := HeaderValue(msg.Headers, "schema_version"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			meta.SchemaVersion = v
		}
	}
	if raw := HeaderValue(msg.Headers, "occurred_at"); raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			meta.OccurredAt = ts
		}
	}
	return meta
}

func HeaderValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
