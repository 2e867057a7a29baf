package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/vidaleve/backend/internal/checkout"
	"github.com/vidaleve/backend/internal/metrics"
	"github.com/vidaleve/backend/internal/middleware"
)

type CheckoutService interface {
	CreateCheckout(ctx context.Context, buyer *checkout.Buyer, req checkout.Request) (*checkout.Result, error)
	HandleEvent(ctx context.Context, ev *checkout.Event) (string, error)
	Pix(kit int) (*checkout.PixCode, error)
}

// EventParser verifies and decodes a payment webhook delivery.
type EventParser interface {
	ParseEvent(payload []byte, signature string) (*checkout.Event, error)
}

// CheckoutHandler serves the storefront payment endpoints.
type CheckoutHandler struct {
	Checkout CheckoutService
	Events   EventParser
	Logger   *slog.Logger
}

// CreateCheckout handles POST /create-checkout. Anonymous carts are allowed;
// a wallet discount needs a signed-in buyer.
func (h *CheckoutHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkout.Request
	if !decodeJSON(w, r, &req) {
		return
	}
	var buyer *checkout.Buyer
	if p := middleware.ProfileFromCtx(r.Context()); p != nil {
		buyer = &checkout.Buyer{UserID: p.ID, Email: p.Email}
	}
	res, err := h.Checkout.CreateCheckout(r.Context(), buyer, req)
	if err != nil {
		writeServiceError(w, orDefault(h.Logger), "create checkout", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// StripeWebhook handles POST /stripe-webhook.
func (h *CheckoutHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	logger := orDefault(h.Logger)
	if h.Events == nil {
		writeError(w, http.StatusServiceUnavailable, checkout.ErrNotConfigured.Error())
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	ev, err := h.Events.ParseEvent(payload, r.Header.Get("Stripe-Signature"))
	if errors.Is(err, checkout.ErrInvalidSignature) {
		metrics.RecordWebhook("stripe", "bad_signature")
		writeError(w, http.StatusBadRequest, "invalid signature")
		return
	}
	if err != nil {
		metrics.RecordWebhook("stripe", "malformed")
		writeError(w, http.StatusBadRequest, "invalid event")
		return
	}
	outcome, err := h.Checkout.HandleEvent(r.Context(), ev)
	if err != nil {
		metrics.RecordWebhook("stripe", "error")
		logger.Error("handle stripe event", "event_id", ev.ID, "type", ev.Type, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	metrics.RecordWebhook("stripe", outcome)
	writeJSON(w, http.StatusOK, map[string]interface{}{"received": true, "outcome": outcome})
}

// PixCode handles GET /pix-code?kit=N.
func (h *CheckoutHandler) PixCode(w http.ResponseWriter, r *http.Request) {
	kit, err := strconv.Atoi(r.URL.Query().Get("kit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "kit must be a number")
		return
	}
	code, err := h.Checkout.Pix(kit)
	if err != nil {
		writeServiceError(w, orDefault(h.Logger), "pix code", err)
		return
	}
	writeJSON(w, http.StatusOK, code)
}
