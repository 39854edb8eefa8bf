// Package storage holds the billing_view read model. Rows are keyed by
// (tenant_id, billing_id) and written only by the projection subscriber.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/eventrelay/libs/db"
)

// ErrViewNotFound means the row a lifecycle update targets does not exist
// yet. Publish order is best-effort: a Paid or Cancelled delivery can
// overtake its Created when the earlier record is under retry backoff, so
// the update must fail and be redelivered rather than silently hit zero rows.
var ErrViewNotFound = errors.New("billing view row not found")

type BillingView struct {
	TenantID      string
	BillingID     string
	Status        string
	Amount        int64
	Currency      string
	BillingType   string
	PaymentMethod string
	TransactionID string
	PaidAt        *time.Time
	CancelReason  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Migration is appended to the core schema at boot.
const Migration = `CREATE TABLE IF NOT EXISTS billing_view (
	tenant_id TEXT NOT NULL,
	billing_id TEXT NOT NULL,
	status TEXT NOT NULL,
	amount BIGINT NOT NULL,
	currency TEXT NOT NULL,
	billing_type TEXT NOT NULL DEFAULT '',
	payment_method TEXT NOT NULL DEFAULT '',
	transaction_id TEXT NOT NULL DEFAULT '',
	paid_at TIMESTAMPTZ,
	cancel_reason TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (tenant_id, billing_id)
)`

type ViewRepository struct {
	pool *db.Pool
}

func NewViewRepository(pool *db.Pool) *ViewRepository {
	return &ViewRepository{pool: pool}
}

// InsertPending creates the row for a new bill. Conflict means the row
// already exists (replayed create), which is fine.
func (r *ViewRepository) InsertPending(ctx context.Context, tx pgx.Tx, view BillingView) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO billing_view (tenant_id, billing_id, status, amount, currency, billing_type)
		VALUES ($1, $2, 'pending', $3, $4, $5)
		ON CONFLICT (tenant_id, billing_id) DO NOTHING
	`, view.TenantID, view.BillingID, view.Amount, view.Currency, view.BillingType)
	return err
}

func (r *ViewRepository) MarkPaid(ctx context.Context, tx pgx.Tx, tenantID, billingID, paymentMethod, transactionID string, paidAt time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE billing_view
		SET status = 'paid', payment_method = $3, transaction_id = $4, paid_at = $5, updated_at = now()
		WHERE tenant_id = $1 AND billing_id = $2
	`, tenantID, billingID, paymentMethod, transactionID, paidAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: tenant %s billing %s", ErrViewNotFound, tenantID, billingID)
	}
	return nil
}

func (r *ViewRepository) MarkCancelled(ctx context.Context, tx pgx.Tx, tenantID, billingID, reason string) error {
	tag, err := tx.Exec(ctx, `
		UPDATE billing_view
		SET status = 'cancelled', cancel_reason = $3, updated_at = now()
		WHERE tenant_id = $1 AND billing_id = $2
	`, tenantID, billingID, reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: tenant %s billing %s", ErrViewNotFound, tenantID, billingID)
	}
	return nil
}

func (r *ViewRepository) Get(ctx context.Context, tenantID, billingID string) (BillingView, bool, error) {
	var v BillingView
	err := r.pool.QueryRow(ctx, `
		SELECT tenant_id, billing_id, status, amount, currency, billing_type,
		       payment_method, transaction_id, paid_at, cancel_reason, created_at, updated_at
		FROM billing_view
		WHERE tenant_id = $1 AND billing_id = $2
	`, tenantID, billingID).Scan(&v.TenantID, &v.BillingID, &v.Status, &v.Amount, &v.Currency, &v.BillingType,
		&v.PaymentMethod, &v.TransactionID, &v.PaidAt, &v.CancelReason, &v.CreatedAt, &v.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return BillingView{}, false, nil
		}
		return BillingView{}, false, err
	}
	return v, true, nil
}

func (r *ViewRepository) List(ctx context.Context, tenantID string, limit int) ([]BillingView, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT tenant_id, billing_id, status, amount, currency, billing_type,
		       payment_method, transaction_id, paid_at, cancel_reason, created_at, updated_at
		FROM billing_view
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BillingView
	for rows.Next() {
		var v BillingView
		if err := rows.Scan(&v.TenantID, &v.BillingID, &v.Status, &v.Amount, &v.Currency, &v.BillingType,
			&v.PaymentMethod, &v.TransactionID, &v.PaidAt, &v.CancelReason, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}
