// Package inbox is the idempotent-consumption ledger: a row per processed
// message id. At-least-once delivery becomes effectively-once because the
// second delivery finds the row and skips the handler.
package inbox

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/md-rashed-zaman/eventrelay/libs/db"
)

const pgUniqueViolation = "23505"

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// IsProcessed is the cheap pre-check used before opening a transaction.
func (r *Repository) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM messaging_inbox WHERE message_id = $1)
	`, messageID).Scan(&exists)
	return exists, err
}

// IsProcessedTx is the authoritative in-transaction re-check guarding the
// window between the pre-check and the transaction start.
func (r *Repository) IsProcessedTx(ctx context.Context, tx pgx.Tx, messageID string) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM messaging_inbox WHERE message_id = $1)
	`, messageID).Scan(&exists)
	return exists, err
}

// MarkProcessed records the message id. Returns false when a concurrent
// identical insert won the race; the caller treats that as already
// processed, not as an error.
func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, messageID string) (bool, error) {
	_, err := tx.Exec(ctx, `
		INSERT INTO messaging_inbox (message_id) VALUES ($1)
	`, messageID)
	if err == nil {
		return true, nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return false, nil
	}
	return false, err
}
