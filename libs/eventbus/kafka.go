package eventbus

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/eventrelay/libs/events"
	"github.com/md-rashed-zaman/eventrelay/libs/kafkax"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// KafkaPublisher sends envelopes to Kafka, one topic per event type. It
// satisfies the same Publish contract as the in-process bus, so the outbox
// publisher can drain into either.
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: kafka.NewWriter(kafka.WriterConfig{
			Brokers:  brokers,
			Balancer: &kafka.Hash{},
		}),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, env events.Envelope) error {
	key := env.TenantID
	if key == "" {
		key = env.MessageID
	}
	msg := kafka.Message{
		Topic: env.EventType,
		Key:   []byte(key),
		Value: env.Payload,
		Headers: kafkax.EnvelopeHeaders(kafkax.EnvelopeMeta{
			MessageID:     env.MessageID,
			EventType:     env.EventType,
			OccurredAt:    env.OccurredAt,
			SchemaVersion: env.SchemaVersion,
			TenantID:      env.TenantID,
			UserID:        env.UserID,
			RequestID:     env.RequestID,
		}),
	}
	msg.Headers = kafkax.InjectTraceHeaders(ctx, msg.Headers)
	return p.writer.WriteMessages(ctx, msg)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// messageReader is the consume side of a kafka group reader. *kafka.Reader
// satisfies it.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaBridge feeds envelopes consumed from a Kafka topic into a local
// publisher (normally the in-process bus), reconstructing the envelope from
// the message headers and value.
type KafkaBridge struct {
	reader messageReader
	local  Publisher
	logger *slog.Logger
}

type KafkaBridgeConfig struct {
	Brokers string
	GroupID string
	Topic   string
}

func NewKafkaBridge(logger *slog.Logger, local Publisher, cfg KafkaBridgeConfig) *KafkaBridge {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  kafkax.SplitBrokers(cfg.Brokers),
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &KafkaBridge{reader: reader, local: local, logger: logger}
}

// Run consumes until ctx is cancelled. The offset is committed only after
// local delivery succeeds, so a failed delivery leaves the message
// uncommitted and it comes back; the inbox makes the eventual duplicate
// deliveries no-ops.
func (b *KafkaBridge) Run(ctx context.Context) {
	defer b.reader.Close()

	for {
		msg, err := b.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			b.logger.Error("kafka fetch error", "err", err)
			time.Sleep(1 * time.Second)
			continue
		}

		msgCtx := kafkax.ExtractTraceContext(ctx, msg)
		spanCtx, span := otel.Tracer("kafka").Start(msgCtx, "kafka.consume",
			trace.WithAttributes(
				attribute.String("messaging.system", "kafka"),
				attribute.String("messaging.destination", msg.Topic),
			),
		)

		meta := kafkax.ExtractEnvelopeMeta(msg)
		env := events.Envelope{
			MessageID:     meta.MessageID,
			EventType:     meta.EventType,
			OccurredAt:    meta.OccurredAt,
			SchemaVersion: meta.SchemaVersion,
			TenantID:      meta.TenantID,
			UserID:        meta.UserID,
			RequestID:     meta.RequestID,
			Payload:       msg.Value,
		}

		if err := b.local.Publish(spanCtx, env); err != nil {
			b.logger.Error("bridge delivery failed, offset not committed",
				"message_id", env.MessageID, "event_type", env.EventType, "err", err)
			span.RecordError(err)
			span.End()
			continue
		}

		if err := b.reader.CommitMessages(ctx, msg); err != nil {
			b.logger.Error("kafka commit failed", "message_id", env.MessageID, "err", err)
			span.RecordError(err)
		}
		span.End()
	}
}
