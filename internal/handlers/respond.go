package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vidaleve/backend/internal/affiliate"
	"github.com/vidaleve/backend/internal/checkout"
	"github.com/vidaleve/backend/internal/habits"
	"github.com/vidaleve/backend/internal/imc"
	"github.com/vidaleve/backend/internal/ledger"
	"github.com/vidaleve/backend/internal/notify"
	"github.com/vidaleve/backend/internal/repository"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON decodes the request body into v, replying 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

// errorStatuses maps domain errors to HTTP statuses. The first match wins.
var errorStatuses = []struct {
	err    error
	status int
}{
	{ledger.ErrWalletNotFound, http.StatusNotFound},
	{ledger.ErrUnknownReferralCode, http.StatusNotFound},
	{affiliate.ErrNotAffiliate, http.StatusNotFound},
	{affiliate.ErrUnknownCode, http.StatusNotFound},
	{affiliate.ErrWithdrawalNotFound, http.StatusNotFound},
	{habits.ErrRewardNotFound, http.StatusNotFound},
	{checkout.ErrUnknownKit, http.StatusNotFound},
	{notify.ErrNoSubscribers, http.StatusNotFound},
	{repository.ErrNotFound, http.StatusNotFound},

	{ledger.ErrInsufficientFunds, http.StatusPaymentRequired},
	{affiliate.ErrInsufficientBalance, http.StatusPaymentRequired},
	{habits.ErrInsufficientPoints, http.StatusPaymentRequired},

	{affiliate.ErrWithdrawalPending, http.StatusConflict},
	{affiliate.ErrWithdrawalResolved, http.StatusConflict},

	{ledger.ErrInvalidAmount, http.StatusBadRequest},
	{affiliate.ErrBelowMinimum, http.StatusBadRequest},
	{affiliate.ErrMissingPixKey, http.StatusBadRequest},
	{habits.ErrUnknownKind, http.StatusBadRequest},
	{habits.ErrInvalidItem, http.StatusBadRequest},
	{habits.ErrInvalidAmount, http.StatusBadRequest},
	{checkout.ErrEmptyCart, http.StatusBadRequest},
	{checkout.ErrInvalidItem, http.StatusBadRequest},
	{checkout.ErrDiscountTooLarge, http.StatusBadRequest},
	{notify.ErrUnknownType, http.StatusBadRequest},
	{notify.ErrInvalidSettings, http.StatusBadRequest},

	{habits.ErrMissingMeasurements, http.StatusUnprocessableEntity},
	{imc.ErrInvalidMeasurements, http.StatusUnprocessableEntity},

	{checkout.ErrAuthRequired, http.StatusUnauthorized},
	{checkout.ErrNotConfigured, http.StatusServiceUnavailable},
}

// writeServiceError replies with the status mapped to err. Unmapped errors
// are logged and reported as a generic 500.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, op string, err error) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			writeError(w, e.status, err.Error())
			return
		}
	}
	logger.Error(op, "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func orDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
