package eventbus

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/md-rashed-zaman/eventrelay/libs/events"
	"github.com/segmentio/kafka-go"
)

// scriptedReader hands out a fixed message sequence, then cancels the run
// context so Run returns.
type scriptedReader struct {
	msgs      []kafka.Message
	idx       int
	committed []kafka.Message
	cancel    context.CancelFunc
	closed    bool
}

func (r *scriptedReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if r.idx >= len(r.msgs) {
		r.cancel()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.msgs[r.idx]
	r.idx++
	return msg, nil
}

func (r *scriptedReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.committed = append(r.committed, msgs...)
	return nil
}

func (r *scriptedReader) Close() error {
	r.closed = true
	return nil
}

type selectivePublisher struct {
	failTypes map[string]error
	delivered []events.Envelope
}

func (p *selectivePublisher) Publish(_ context.Context, env events.Envelope) error {
	if err, ok := p.failTypes[env.EventType]; ok {
		return err
	}
	p.delivered = append(p.delivered, env)
	return nil
}

func bridgeMessage(topic, messageID string) kafka.Message {
	return kafka.Message{
		Topic: topic,
		Key:   []byte(messageID),
		Value: []byte(`{}`),
		Headers: []kafka.Header{
			{Key: "message_id", Value: []byte(messageID)},
			{Key: "event_type", Value: []byte(topic)},
		},
	}
}

func TestBridgeRun_CommitsOnlyDeliveredMessages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &scriptedReader{
		msgs: []kafka.Message{
			bridgeMessage("BillingPaid", "m-fail"),
			bridgeMessage("BillingCreated", "m-ok"),
		},
		cancel: cancel,
	}
	local := &selectivePublisher{failTypes: map[string]error{"BillingPaid": errors.New("projection broken")}}
	bridge := &KafkaBridge{
		reader: reader,
		local:  local,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	bridge.Run(ctx)

	if len(local.delivered) != 1 || local.delivered[0].MessageID != "m-ok" {
		t.Fatalf("expected only the healthy message delivered, got %+v", local.delivered)
	}
	// The failed delivery must leave its offset uncommitted so the broker
	// redelivers it.
	if len(reader.committed) != 1 || string(reader.committed[0].Key) != "m-ok" {
		t.Fatalf("expected exactly the delivered message committed, got %+v", reader.committed)
	}
	if !reader.closed {
		t.Fatal("expected reader closed on shutdown")
	}
}

func TestBridgeRun_ReconstructsEnvelopeFromHeaders(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msg := bridgeMessage("BillingCreated", "m-1")
	msg.Headers = append(msg.Headers, kafka.Header{Key: "tenant_id", Value: []byte("t-7")})
	reader := &scriptedReader{msgs: []kafka.Message{msg}, cancel: cancel}
	local := &selectivePublisher{}
	bridge := &KafkaBridge{
		reader: reader,
		local:  local,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	bridge.Run(ctx)

	if len(local.delivered) != 1 {
		t.Fatalf("expected one delivery, got %d", len(local.delivered))
	}
	env := local.delivered[0]
	if env.MessageID != "m-1" || env.EventType != "BillingCreated" || env.TenantID != "t-7" {
		t.Fatalf("envelope not reconstructed from headers: %+v", env)
	}
}
