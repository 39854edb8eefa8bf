package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/eventrelay/libs/events"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (tx *fakeTx) Commit(context.Context) error   { tx.committed = true; return nil }
func (tx *fakeTx) Rollback(context.Context) error { tx.rolledBack = true; return nil }

type fakePool struct {
	tx *fakeTx
}

func (p *fakePool) Begin(context.Context) (pgx.Tx, error) {
	p.tx = &fakeTx{}
	return p.tx, nil
}

type fakeStore struct {
	due       []Record
	published []string
	failed    []Failure
	dead      []string
}

func (s *fakeStore) ClaimPending(_ context.Context, _ pgx.Tx, _ time.Time, limit int) ([]Record, error) {
	if len(s.due) > limit {
		return s.due[:limit], nil
	}
	return s.due, nil
}

func (s *fakeStore) MarkPublished(_ context.Context, _ pgx.Tx, messageID string) error {
	s.published = append(s.published, messageID)
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, _ pgx.Tx, failure Failure) error {
	s.failed = append(s.failed, failure)
	return nil
}

func (s *fakeStore) MarkDead(_ context.Context, _ pgx.Tx, messageID string, _ int, _ string) error {
	s.dead = append(s.dead, messageID)
	return nil
}

type fakeBus struct {
	failTypes map[string]error
	delivered []events.Envelope
}

func (b *fakeBus) Publish(_ context.Context, env events.Envelope) error {
	if err, ok := b.failTypes[env.EventType]; ok {
		return err
	}
	b.delivered = append(b.delivered, env)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dueRecord(t *testing.T, eventType string, attempts int) Record {
	t.Helper()
	env, err := events.NewEnvelope(eventType, []byte(`{}`))
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	return Record{Envelope: env, Status: StatusPending, Attempts: attempts}
}

func newTestPublisher(t *testing.T, store *fakeStore, bus *fakeBus, cfg PublisherConfig) (*Publisher, *fakePool) {
	t.Helper()
	cfg.normalize()
	pool := &fakePool{}
	return &Publisher{
		pool:   pool,
		store:  store,
		bus:    bus,
		logger: testLogger(),
		cfg:    cfg,
		now:    func() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) },
	}, pool
}

func TestRunCycle_PublishesAndMarks(t *testing.T) {
	store := &fakeStore{due: []Record{dueRecord(t, "BillingCreated", 0), dueRecord(t, "BillingPaid", 0)}}
	bus := &fakeBus{}
	pub, pool := newTestPublisher(t, store, bus, PublisherConfig{})

	if err := pub.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if len(bus.delivered) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(bus.delivered))
	}
	if len(store.published) != 2 {
		t.Fatalf("expected 2 marked published, got %d", len(store.published))
	}
	if !pool.tx.committed {
		t.Fatal("expected cycle transaction committed")
	}
}

func TestRunCycle_FailureIsolatedAndRescheduled(t *testing.T) {
	store := &fakeStore{due: []Record{dueRecord(t, "BillingCreated", 0), dueRecord(t, "BillingPaid", 2)}}
	bus := &fakeBus{failTypes: map[string]error{"BillingPaid": errors.New("broker down")}}
	pub, _ := newTestPublisher(t, store, bus, PublisherConfig{BackoffBase: 5 * time.Second, BackoffCap: time.Minute})

	if err := pub.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	// good record still delivered
	if len(store.published) != 1 {
		t.Fatalf("expected 1 published, got %d", len(store.published))
	}
	if len(store.failed) != 1 {
		t.Fatalf("expected 1 rescheduled, got %d", len(store.failed))
	}
	failure := store.failed[0]
	if failure.Attempts != 3 {
		t.Fatalf("expected attempts 3, got %d", failure.Attempts)
	}
	// attempt 3 with base 5s -> 20s
	wantAt := time.Date(2026, 1, 1, 12, 0, 20, 0, time.UTC)
	if !failure.NextAttemptAt.Equal(wantAt) {
		t.Fatalf("expected next attempt %s, got %s", wantAt, failure.NextAttemptAt)
	}
	if failure.LastError != "broker down" {
		t.Fatalf("expected last error recorded, got %q", failure.LastError)
	}
}

func TestRunCycle_DeadLetterAfterMaxAttempts(t *testing.T) {
	store := &fakeStore{due: []Record{dueRecord(t, "BillingPaid", 9)}}
	bus := &fakeBus{failTypes: map[string]error{"BillingPaid": errors.New("still down")}}
	pub, _ := newTestPublisher(t, store, bus, PublisherConfig{MaxAttempts: 10})

	if err := pub.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if len(store.dead) != 1 {
		t.Fatalf("expected 1 dead-lettered record, got %d", len(store.dead))
	}
	if len(store.failed) != 0 {
		t.Fatal("dead-lettered record must not also be rescheduled")
	}
}

func TestRunCycle_EmptyBatchCommits(t *testing.T) {
	store := &fakeStore{}
	pub, pool := newTestPublisher(t, store, &fakeBus{}, PublisherConfig{})
	if err := pub.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if !pool.tx.committed {
		t.Fatal("expected empty cycle to commit")
	}
}

type fakeLease struct {
	held bool
}

func (l *fakeLease) TryAcquire(context.Context) (bool, error) { return l.held, nil }
func (l *fakeLease) Release(context.Context) error            { return nil }

func TestRunCycle_SkipsWhenLeaseHeldElsewhere(t *testing.T) {
	store := &fakeStore{due: []Record{dueRecord(t, "BillingCreated", 0)}}
	bus := &fakeBus{}
	pub, _ := newTestPublisher(t, store, bus, PublisherConfig{})
	pub.WithLease(&fakeLease{held: false})

	if err := pub.RunCycle(context.Background()); err != nil {
		t.Fatalf("cycle failed: %v", err)
	}
	if len(bus.delivered) != 0 {
		t.Fatal("expected no deliveries without the lease")
	}
}
