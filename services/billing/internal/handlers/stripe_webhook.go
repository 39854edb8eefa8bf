package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/eventrelay/libs/appctx"
	"github.com/md-rashed-zaman/eventrelay/services/billing/internal/app"
	"github.com/md-rashed-zaman/eventrelay/services/billing/internal/domain"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeWebhook handles Stripe payment webhooks (no header auth; signature
// verification is the auth). Tenant and billing ids travel in the payment
// intent metadata, set when the payment was initiated.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.stripeWebhookSecret == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.stripeWebhookSecret, h.stripeWebhookTolerance)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	occurredAt := time.Unix(evt.Created, 0).UTC()
	evtType := string(evt.Type)
	h.logger.Info("payment provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", evtType,
		"occurred_at", occurredAt.Format(time.RFC3339),
	)

	if evtType != "payment_intent.succeeded" {
		// Unhandled event types are acknowledged so Stripe stops retrying.
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	var intent stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &intent); err != nil {
		h.logger.Error("stripe: invalid payment intent payload", "err", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	tenantID := strings.TrimSpace(intent.Metadata["tenant_id"])
	billingID := strings.TrimSpace(intent.Metadata["billing_id"])
	if tenantID == "" || billingID == "" {
		h.logger.Warn("stripe: missing metadata on payment intent (tenant_id/billing_id)",
			"provider_event_id", evt.ID)
		writeJSON(w, http.StatusOK, map[string]any{"status": "ignored"})
		return
	}

	paymentMethod := "stripe"
	if intent.PaymentMethod != nil && intent.PaymentMethod.Type != "" {
		paymentMethod = string(intent.PaymentMethod.Type)
	}

	ctx := appctx.WithTenantID(r.Context(), tenantID)
	err = h.svc.PayBilling(ctx, app.PayBillingCommand{
		BillingID:     billingID,
		PaymentMethod: paymentMethod,
		TransactionID: intent.ID,
		PaidAt:        occurredAt,
	})
	if err != nil {
		// A replayed webhook finds the bill already paid. Acknowledge it so
		// Stripe stops retrying.
		if errors.Is(err, domain.ErrNotPending) || errors.Is(err, domain.ErrAlreadyCancelled) {
			h.logger.Info("stripe: duplicate or stale payment event ignored",
				"provider_event_id", evt.ID, "billing_id", billingID)
			writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
			return
		}
		h.logger.Error("stripe: failed to apply payment", "err", err, "billing_id", billingID)
		http.Error(w, "failed to apply payment", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}
