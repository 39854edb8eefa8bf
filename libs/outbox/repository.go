package outbox

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/eventrelay/libs/db"
	"github.com/md-rashed-zaman/eventrelay/libs/events"
	otelx "github.com/md-rashed-zaman/eventrelay/libs/otel"
)

// Appender is the write side of the outbox. Command handlers call it inside
// the same transaction as their event-store writes.
type Appender interface {
	Append(ctx context.Context, tx pgx.Tx, env events.Envelope) error
}

// Record is a staged integration event plus its delivery bookkeeping.
type Record struct {
	ID            int64
	Envelope      events.Envelope
	Status        Status
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Append stages env as pending. Must run in the caller's transaction so the
// record commits (or rolls back) together with the state change it announces.
func (r *Repository) Append(ctx context.Context, tx pgx.Tx, env events.Envelope) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO messaging_outbox
			(message_id, event_type, occurred_at, schema_version, tenant_id, user_id, request_id, payload, status, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, env.MessageID, env.EventType, env.OccurredAt, env.SchemaVersion,
		nullIfEmpty(env.TenantID), nullIfEmpty(env.UserID), nullIfEmpty(env.RequestID),
		env.Payload, StatusPending.String(), traceparent, tracestate)
	return err
}

// ClaimPending returns due pending records, claiming them for this
// transaction. FOR UPDATE SKIP LOCKED keeps concurrently running publisher
// instances from picking up the same rows.
func (r *Repository) ClaimPending(ctx context.Context, tx pgx.Tx, now time.Time, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, message_id, event_type, occurred_at, schema_version,
		       COALESCE(tenant_id, ''), COALESCE(user_id, ''), COALESCE(request_id, ''),
		       payload, status, attempts, next_attempt_at, COALESCE(last_error, ''),
		       COALESCE(traceparent, ''), COALESCE(tracestate, ''), created_at, updated_at
		FROM messaging_outbox
		WHERE status = 'pending' AND next_attempt_at <= $1
		ORDER BY next_attempt_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rcd Record
		var status string
		if err := rows.Scan(&rcd.ID, &rcd.Envelope.MessageID, &rcd.Envelope.EventType, &rcd.Envelope.OccurredAt,
			&rcd.Envelope.SchemaVersion, &rcd.Envelope.TenantID, &rcd.Envelope.UserID, &rcd.Envelope.RequestID,
			&rcd.Envelope.Payload, &status, &rcd.Attempts, &rcd.NextAttemptAt, &rcd.LastError,
			&rcd.Traceparent, &rcd.Tracestate, &rcd.CreatedAt, &rcd.UpdatedAt); err != nil {
			return nil, err
		}
		parsed, err := ParseStatus(status)
		if err != nil {
			return nil, err
		}
		rcd.Status = parsed
		records = append(records, rcd)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// MarkPublished is the terminal success transition.
func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, messageID string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE messaging_outbox
		SET status = 'published', updated_at = now()
		WHERE message_id = $1 AND status = 'pending'
	`, messageID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// Failure records one failed publish attempt and schedules the next one.
type Failure struct {
	MessageID     string
	Attempts      int
	NextAttemptAt time.Time
	LastError     string
}

// MarkFailed reschedules a record after a publish failure. Status stays
// pending so the record keeps being picked up.
func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, failure Failure) error {
	tag, err := tx.Exec(ctx, `
		UPDATE messaging_outbox
		SET attempts = $2, next_attempt_at = $3, last_error = $4, updated_at = now()
		WHERE message_id = $1 AND status = 'pending'
	`, failure.MessageID, failure.Attempts, failure.NextAttemptAt, failure.LastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// MarkDead moves a record to the terminal failed status after the retry
// budget is exhausted. The record stays in the table for operators.
func (r *Repository) MarkDead(ctx context.Context, tx pgx.Tx, messageID string, attempts int, lastError string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE messaging_outbox
		SET status = 'failed', attempts = $2, last_error = $3, updated_at = now()
		WHERE message_id = $1 AND status = 'pending'
	`, messageID, attempts, lastError)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
