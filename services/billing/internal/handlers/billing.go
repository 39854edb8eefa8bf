// Package handlers is the billing service's HTTP surface. Tenant and user
// identity arrive as headers and are copied into the request context by the
// callcontext middleware before these handlers run.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/eventrelay/libs/appctx"
	"github.com/md-rashed-zaman/eventrelay/libs/eventstore"
	"github.com/md-rashed-zaman/eventrelay/libs/outbox"
	"github.com/md-rashed-zaman/eventrelay/services/billing/internal/app"
	"github.com/md-rashed-zaman/eventrelay/services/billing/internal/domain"
	"github.com/md-rashed-zaman/eventrelay/services/billing/internal/storage"
)

type Handler struct {
	svc                    *app.Service
	views                  *storage.ViewRepository
	logger                 *slog.Logger
	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
}

type Config struct {
	StripeWebhookSecret           string
	StripeWebhookToleranceSeconds int
}

func New(svc *app.Service, views *storage.ViewRepository, logger *slog.Logger, cfg Config) *Handler {
	tolSeconds := cfg.StripeWebhookToleranceSeconds
	if tolSeconds <= 0 {
		tolSeconds = 300
	}
	return &Handler{
		svc:                    svc,
		views:                  views,
		logger:                 logger,
		stripeWebhookSecret:    strings.TrimSpace(cfg.StripeWebhookSecret),
		stripeWebhookTolerance: time.Duration(tolSeconds) * time.Second,
	}
}

// Register mounts all billing routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/billings", h.Billings)
	mux.HandleFunc("/billings/get", h.GetBilling)
	mux.HandleFunc("/billings/pay", h.PayBilling)
	mux.HandleFunc("/billings/cancel", h.CancelBilling)
	mux.HandleFunc("/webhooks/stripe", h.StripeWebhook)
}

type createBillingRequest struct {
	BillingID   string `json:"billing_id,omitempty"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	BillingType string `json:"billing_type,omitempty"`
}

// Billings dispatches on method: POST creates, GET lists.
func (h *Handler) Billings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.createBilling(w, r)
	case http.MethodGet:
		h.listBillings(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) createBilling(w http.ResponseWriter, r *http.Request) {
	var req createBillingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BillingID = strings.TrimSpace(req.BillingID)
	req.Currency = strings.TrimSpace(strings.ToUpper(req.Currency))
	req.BillingType = strings.TrimSpace(req.BillingType)
	if req.BillingID == "" {
		req.BillingID = uuid.NewString()
	}

	err := h.svc.CreateBilling(r.Context(), app.CreateBillingCommand{
		BillingID:   req.BillingID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		BillingType: req.BillingType,
	})
	if err != nil {
		h.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"billing_id": req.BillingID, "status": domain.StatusPending})
}

type payBillingRequest struct {
	BillingID     string `json:"billing_id"`
	PaymentMethod string `json:"payment_method"`
	TransactionID string `json:"transaction_id"`
	PaidAt        string `json:"paid_at,omitempty"`
}

func (h *Handler) PayBilling(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req payBillingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BillingID = strings.TrimSpace(req.BillingID)
	if req.BillingID == "" {
		http.Error(w, "billing_id is required", http.StatusBadRequest)
		return
	}
	var paidAt time.Time
	if s := strings.TrimSpace(req.PaidAt); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			http.Error(w, "invalid paid_at", http.StatusBadRequest)
			return
		}
		paidAt = parsed
	}

	err := h.svc.PayBilling(r.Context(), app.PayBillingCommand{
		BillingID:     req.BillingID,
		PaymentMethod: strings.TrimSpace(req.PaymentMethod),
		TransactionID: strings.TrimSpace(req.TransactionID),
		PaidAt:        paidAt,
	})
	if err != nil {
		h.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"billing_id": req.BillingID, "status": domain.StatusPaid})
}

type cancelBillingRequest struct {
	BillingID string `json:"billing_id"`
	Reason    string `json:"reason,omitempty"`
}

func (h *Handler) CancelBilling(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelBillingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BillingID = strings.TrimSpace(req.BillingID)
	if req.BillingID == "" {
		http.Error(w, "billing_id is required", http.StatusBadRequest)
		return
	}

	err := h.svc.CancelBilling(r.Context(), app.CancelBillingCommand{
		BillingID: req.BillingID,
		Reason:    strings.TrimSpace(req.Reason),
	})
	if err != nil {
		h.writeCommandError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"billing_id": req.BillingID, "status": domain.StatusCancelled})
}

// GetBilling reads from the billing_view read model, which is eventually
// consistent with the event store.
func (h *Handler) GetBilling(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	tenantID, ok := appctx.TenantID(r.Context())
	if !ok {
		http.Error(w, "missing tenant context", http.StatusBadRequest)
		return
	}
	billingID := strings.TrimSpace(r.URL.Query().Get("billing_id"))
	if billingID == "" {
		http.Error(w, "billing_id is required", http.StatusBadRequest)
		return
	}

	view, found, err := h.views.Get(r.Context(), tenantID, billingID)
	if err != nil {
		http.Error(w, "failed to load billing", http.StatusInternalServerError)
		return
	}
	if !found {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, viewResponse(view))
}

func (h *Handler) listBillings(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := appctx.TenantID(r.Context())
	if !ok {
		http.Error(w, "missing tenant context", http.StatusBadRequest)
		return
	}

	views, err := h.views.List(r.Context(), tenantID, 100)
	if err != nil {
		http.Error(w, "failed to list billings", http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(views))
	for _, v := range views {
		out = append(out, viewResponse(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"billings": out})
}

func (h *Handler) writeCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, app.ErrTenantRequired):
		http.Error(w, "missing tenant context", http.StatusBadRequest)
	case errors.Is(err, domain.ErrAmountInvalid),
		errors.Is(err, domain.ErrCurrencyRequired):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, eventstore.ErrStreamMissing):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, eventstore.ErrConcurrencyConflict):
		http.Error(w, "concurrent modification, retry", http.StatusConflict)
	case errors.Is(err, domain.ErrNotPending),
		errors.Is(err, domain.ErrAlreadyCancelled):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, outbox.ErrTenantMismatch):
		http.Error(w, "tenant mismatch", http.StatusForbidden)
	default:
		h.logger.Error("billing command failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func viewResponse(v storage.BillingView) map[string]any {
	resp := map[string]any{
		"billing_id":   v.BillingID,
		"status":       v.Status,
		"amount":       v.Amount,
		"currency":     v.Currency,
		"billing_type": v.BillingType,
		"created_at":   v.CreatedAt.UTC().Format(time.RFC3339),
		"updated_at":   v.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if v.PaymentMethod != "" {
		resp["payment_method"] = v.PaymentMethod
	}
	if v.TransactionID != "" {
		resp["transaction_id"] = v.TransactionID
	}
	if v.PaidAt != nil {
		resp["paid_at"] = v.PaidAt.UTC().Format(time.RFC3339)
	}
	if v.CancelReason != "" {
		resp["cancel_reason"] = v.CancelReason
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
