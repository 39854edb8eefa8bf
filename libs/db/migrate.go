package db

import (
	"context"
	"log/slog"
)

// Migrate creates the core messaging tables. Statements are idempotent so
// every service instance can run them at boot.
func Migrate(ctx context.Context, pool *Pool, logger *slog.Logger, extra ...string) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS event_store_events (
			id BIGSERIAL PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			aggregate_type TEXT NOT NULL,
			aggregate_id TEXT NOT NULL,
			version INT NOT NULL,
			event_type TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			schema_version INT NOT NULL DEFAULT 1,
			event_data JSONB NOT NULL,
			user_id TEXT,
			request_id TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (tenant_id, aggregate_type, aggregate_id, version)
		)`,
		`CREATE TABLE IF NOT EXISTS messaging_outbox (
			id BIGSERIAL PRIMARY KEY,
			message_id TEXT NOT NULL UNIQUE,
			event_type TEXT NOT NULL,
			occurred_at TIMESTAMPTZ NOT NULL,
			schema_version INT NOT NULL DEFAULT 1,
			tenant_id TEXT,
			user_id TEXT,
			request_id TEXT,
			payload JSONB NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			attempts INT NOT NULL DEFAULT 0,
			next_attempt_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_error TEXT,
			traceparent TEXT,
			tracestate TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messaging_outbox_due
			ON messaging_outbox (status, next_attempt_at)`,
		`CREATE TABLE IF NOT EXISTS messaging_inbox (
			id BIGSERIAL PRIMARY KEY,
			message_id TEXT NOT NULL UNIQUE,
			processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS projection_checkpoints (
			projection_name TEXT PRIMARY KEY,
			last_message_id TEXT,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
	}
	statements = append(statements, extra...)

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	logger.Info("migrations completed")
	return nil
}
