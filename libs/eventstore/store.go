package eventstore

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/eventrelay/libs/appctx"
	"github.com/md-rashed-zaman/eventrelay/libs/db"
)

const pgUniqueViolation = "23505"

// Store is the append-only event log. Concurrency control is the unique
// index on (tenant_id, aggregate_type, aggregate_id, version); there is no
// lock table.
type Store struct {
	pool *db.Pool
}

func NewStore(pool *db.Pool) *Store {
	return &Store{pool: pool}
}

// AppendToStream inserts one record per event with versions
// expectedVersion+1 .. expectedVersion+len(events). It must run inside the
// caller's transaction so the append commits atomically with outbox writes.
// A unique violation on the stream index surfaces as ErrConcurrencyConflict.
func (s *Store) AppendToStream(ctx context.Context, tx pgx.Tx, stream StreamID, expectedVersion int, events []DomainEvent) error {
	if len(events) == 0 {
		return ErrNoEvents
	}

	userID, _ := appctx.UserID(ctx)
	requestID, _ := appctx.RequestID(ctx)

	for i, evt := range events {
		occurredAt := evt.OccurredAt
		if occurredAt.IsZero() {
			occurredAt = time.Now().UTC()
		}
		schemaVersion := evt.SchemaVersion
		if schemaVersion <= 0 {
			schemaVersion = 1
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO event_store_events
				(tenant_id, aggregate_type, aggregate_id, version, event_type, occurred_at, schema_version, event_data, user_id, request_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, stream.TenantID, stream.AggregateType, stream.AggregateID, expectedVersion+i+1,
			evt.EventType, occurredAt, schemaVersion, evt.Data, nullIfEmpty(userID), nullIfEmpty(requestID))
		if err != nil {
			if isUniqueViolation(err) {
				return ErrConcurrencyConflict
			}
			return err
		}
	}
	return nil
}

// LoadStream returns the full stream ordered by version ascending, or an
// empty slice when the aggregate does not exist.
func (s *Store) LoadStream(ctx context.Context, stream StreamID) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, tenant_id, aggregate_type, aggregate_id, version, event_type,
		       occurred_at, schema_version, event_data,
		       COALESCE(user_id, ''), COALESCE(request_id, ''), created_at
		FROM event_store_events
		WHERE tenant_id = $1 AND aggregate_type = $2 AND aggregate_id = $3
		ORDER BY version
	`, stream.TenantID, stream.AggregateType, stream.AggregateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rcd Record
		if err := rows.Scan(&rcd.ID, &rcd.TenantID, &rcd.AggregateType, &rcd.AggregateID, &rcd.Version,
			&rcd.EventType, &rcd.OccurredAt, &rcd.SchemaVersion, &rcd.Data,
			&rcd.UserID, &rcd.RequestID, &rcd.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rcd)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func nullIfEmpty(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
