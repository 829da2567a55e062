package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/warpweft/api/internal/platform/httpx"
	"github.com/warpweft/api/internal/services"
)

const (
	maxWebhookBodySize    = 1 << 20
	stripeSignatureHeader = "Stripe-Signature"
)

// WebhookHandlers receives payment gateway callbacks.
type WebhookHandlers struct {
	payments services.PaymentService
}

// NewWebhookHandlers constructs a new WebhookHandlers instance.
func NewWebhookHandlers(payments services.PaymentService) *WebhookHandlers {
	return &WebhookHandlers{payments: payments}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments/stripe", h.stripeCallback)
}

// stripeCallback verifies and applies a gateway notification. The raw body is
// passed through untouched so signature verification sees exactly what Stripe
// signed.
func (h *WebhookHandlers) stripeCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "failed to read request body", http.StatusBadRequest))
		return
	}

	if _, err := h.payments.HandleCallback(ctx, payload, r.Header.Get(stripeSignatureHeader)); err != nil {
		if errors.Is(err, services.ErrPaymentInvalidSignature) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature verification failed", http.StatusUnauthorized))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to process webhook", http.StatusInternalServerError))
		return
	}

	// A processed callback is acknowledged with the same body whether it
	// changed the order or replayed a delivery the reconciler already applied.
	writeJSONResponse(w, http.StatusOK, map[string]any{"success": true})
}
