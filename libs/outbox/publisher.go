package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/eventrelay/libs/events"
	otelx "github.com/md-rashed-zaman/eventrelay/libs/otel"
)

// Bus is the publish side the outbox drains into. The in-process event bus
// satisfies it; so does the kafka bridge.
type Bus interface {
	Publish(ctx context.Context, env events.Envelope) error
}

// Lease is an optional mutual-exclusion hint for scale-out: when held by
// another instance the cycle is skipped. Correctness does not depend on it;
// the SKIP LOCKED claim already prevents double delivery.
type Lease interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type store interface {
	ClaimPending(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]Record, error)
	MarkPublished(ctx context.Context, tx pgx.Tx, messageID string) error
	MarkFailed(ctx context.Context, tx pgx.Tx, failure Failure) error
	MarkDead(ctx context.Context, tx pgx.Tx, messageID string, attempts int, lastError string) error
}

// Publisher drains pending outbox records into the bus on a fixed interval.
// Each cycle runs in one transaction: claim, publish per record, transition
// per record, commit. A record that fails to publish is rescheduled with
// exponential backoff and does not block the rest of the batch.
type Publisher struct {
	pool   beginner
	store  store
	bus    Bus
	lease  Lease
	logger *slog.Logger
	cfg    PublisherConfig

	now func() time.Time
}

type PublisherConfig struct {
	PollEvery   time.Duration
	BatchSize   int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	MaxAttempts int
}

func (cfg *PublisherConfig) normalize() {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 5 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 10 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
}

func NewPublisher(pool beginner, repo *Repository, bus Bus, logger *slog.Logger, cfg PublisherConfig) (*Publisher, error) {
	if bus == nil {
		return nil, ErrPublisherRequired
	}
	cfg.normalize()
	return &Publisher{
		pool:   pool,
		store:  repo,
		bus:    bus,
		logger: logger,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// WithLease sets an optional scale-out lease.
func (p *Publisher) WithLease(lease Lease) *Publisher {
	p.lease = lease
	return p
}

// Run polls until ctx is cancelled. The in-flight cycle is allowed to finish
// before returning.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Shutdown stops scheduling new cycles; a cycle already started
			// is not torn down mid-transaction.
			cycleCtx := context.WithoutCancel(ctx)
			if err := p.RunCycle(cycleCtx); err != nil {
				p.logger.Error("outbox cycle failed", "err", err)
			}
		}
	}
}

// RunCycle executes one fetch-due / publish / transition pass.
func (p *Publisher) RunCycle(ctx context.Context) error {
	if p.lease != nil {
		held, err := p.lease.TryAcquire(ctx)
		if err != nil {
			p.logger.Warn("outbox lease check failed, proceeding on db claim", "err", err)
		} else if !held {
			return nil
		}
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := p.store.ClaimPending(ctx, tx, p.now(), p.cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return tx.Commit(ctx)
	}

	for _, rcd := range records {
		p.publishOne(ctx, tx, rcd)
	}
	return tx.Commit(ctx)
}

func (p *Publisher) publishOne(ctx context.Context, tx pgx.Tx, rcd Record) {
	msgCtx := otelx.ContextWithTraceContext(ctx, rcd.Traceparent, rcd.Tracestate)

	if err := p.bus.Publish(msgCtx, rcd.Envelope); err != nil {
		attempts := rcd.Attempts + 1
		if attempts >= p.cfg.MaxAttempts {
			p.logger.Error("outbox record dead-lettered",
				"message_id", rcd.Envelope.MessageID,
				"event_type", rcd.Envelope.EventType,
				"attempts", attempts,
				"err", err)
			if markErr := p.store.MarkDead(ctx, tx, rcd.Envelope.MessageID, attempts, err.Error()); markErr != nil {
				p.logger.Error("outbox mark dead failed", "message_id", rcd.Envelope.MessageID, "err", markErr)
			}
			return
		}

		delay := NextAttemptDelay(p.cfg.BackoffBase, p.cfg.BackoffCap, attempts)
		p.logger.Warn("outbox publish failed, rescheduled",
			"message_id", rcd.Envelope.MessageID,
			"event_type", rcd.Envelope.EventType,
			"attempts", attempts,
			"retry_in", delay,
			"err", err)
		if markErr := p.store.MarkFailed(ctx, tx, Failure{
			MessageID:     rcd.Envelope.MessageID,
			Attempts:      attempts,
			NextAttemptAt: p.now().Add(delay),
			LastError:     err.Error(),
		}); markErr != nil {
			p.logger.Error("outbox mark failed errored", "message_id", rcd.Envelope.MessageID, "err", markErr)
		}
		return
	}

	if err := p.store.MarkPublished(ctx, tx, rcd.Envelope.MessageID); err != nil {
		p.logger.Error("outbox mark published failed", "message_id", rcd.Envelope.MessageID, "err", err)
	}
}
