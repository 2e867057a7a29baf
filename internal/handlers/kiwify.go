package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/vidaleve/backend/internal/ledger"
	"github.com/vidaleve/backend/internal/metrics"
)

// ReferralCrediter credits a referral wallet once per external order.
type ReferralCrediter interface {
	CreditReferral(ctx context.Context, code, orderID, customerEmail string) (*ledger.CreditResult, error)
}

// KiwifyHandler serves POST /kiwify-webhook.
type KiwifyHandler struct {
	Ledger ReferralCrediter
	// Token, when set, is the secret Kiwify signs the body with (HMAC-SHA1,
	// hex, in the signature query parameter).
	Token  string
	Logger *slog.Logger
}

// Kiwify statuses that mean the buyer paid.
var paidStatuses = map[string]bool{"paid": true, "approved": true, "complete": true}

const maxWebhookBytes = 1 << 20

// Webhook credits the referrer named in tracking_parameters.ref. Unknown codes
// are 404; an order already credited is a 200 no-op so Kiwify stops retrying.
func (h *KiwifyHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	logger := orDefault(h.Logger)
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if h.Token != "" && !validKiwifySignature(h.Token, body, r.URL.Query().Get("signature")) {
		metrics.RecordWebhook("kiwify", "bad_signature")
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	if !gjson.ValidBytes(body) {
		metrics.RecordWebhook("kiwify", "malformed")
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	payload := gjson.ParseBytes(body)
	status := strings.ToLower(firstString(payload, "order_status"))
	orderID := firstString(payload, "order_id", "order_ref")
	email := firstString(payload, "customer_email", "Customer.email")
	ref := firstString(payload, "tracking_parameters.ref", "TrackingParameters.ref")

	if !paidStatuses[status] {
		metrics.RecordWebhook("kiwify", "ignored")
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "order status ignored: " + status})
		return
	}
	if ref == "" {
		metrics.RecordWebhook("kiwify", "ignored")
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "no referral code"})
		return
	}
	if orderID == "" {
		metrics.RecordWebhook("kiwify", "malformed")
		writeError(w, http.StatusBadRequest, "order_id is required")
		return
	}

	res, err := h.Ledger.CreditReferral(r.Context(), ref, orderID, email)
	switch {
	case errors.Is(err, ledger.ErrUnknownReferralCode):
		metrics.RecordWebhook("kiwify", "unknown_code")
		writeError(w, http.StatusNotFound, "referral code not found")
		return
	case errors.Is(err, ledger.ErrAlreadyProcessed):
		metrics.RecordWebhook("kiwify", "duplicate")
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "order already processed"})
		return
	case err != nil:
		metrics.RecordWebhook("kiwify", "error")
		logger.Error("credit referral", "order_id", orderID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	metrics.RecordWebhook("kiwify", "credited")
	logger.Info("referral credited", "order_id", orderID, "referrer_user_id", res.Referral.ReferrerUserID,
		"new_balance", res.NewBalance.StringFixed(2))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"message":     "referral credited",
		"new_balance": res.NewBalance,
	})
}

func firstString(payload gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := strings.TrimSpace(payload.Get(p).String()); v != "" {
			return v
		}
	}
	return ""
}

func validKiwifySignature(token string, body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
