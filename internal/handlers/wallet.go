package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vidaleve/backend/internal/ledger"
	"github.com/vidaleve/backend/internal/middleware"
	"github.com/vidaleve/backend/internal/models"
)

type WalletLedger interface {
	Wallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	Transactions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.WalletTransaction, error)
	Debit(ctx context.Context, userID uuid.UUID, req ledger.DebitRequest) (*ledger.DebitResult, error)
	ExpireInactive(ctx context.Context) (*ledger.ExpireResult, error)
}

// WalletHandler serves the referral wallet endpoints.
type WalletHandler struct {
	Ledger WalletLedger
	Logger *slog.Logger
}

// GetWallet handles GET /wallet.
func (h *WalletHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	p := middleware.ProfileFromCtx(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	wallet, err := h.Ledger.Wallet(r.Context(), p.ID)
	if err != nil {
		writeServiceError(w, orDefault(h.Logger), "get wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// ListTransactions handles GET /wallet/transactions?limit=N.
func (h *WalletHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	p := middleware.ProfileFromCtx(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 200 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = n
	}
	txs, err := h.Ledger.Transactions(r.Context(), p.ID, limit)
	if err != nil {
		writeServiceError(w, orDefault(h.Logger), "list wallet transactions", err)
		return
	}
	if txs == nil {
		txs = []*models.WalletTransaction{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txs})
}

type useBalanceRequest struct {
	Amount       decimal.Decimal `json:"amount"`
	ProductTitle string          `json:"product_title"`
	Items        json.RawMessage `json:"items"`
}

// UseBalance handles POST /use-wallet-balance: a purchase paid entirely from the wallet.
func (h *WalletHandler) UseBalance(w http.ResponseWriter, r *http.Request) {
	p := middleware.ProfileFromCtx(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req useBalanceRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	res, err := h.Ledger.Debit(r.Context(), p.ID, ledger.DebitRequest{
		Amount:       req.Amount,
		ProductTitle: req.ProductTitle,
		Items:        req.Items,
	})
	if err != nil {
		writeServiceError(w, orDefault(h.Logger), "debit wallet", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":     true,
		"new_balance": res.NewBalance,
		"order_id":    res.OrderID,
	})
}

// ExpireCredits handles POST /expire-wallet-credits, called by the scheduler
// or an admin.
func (h *WalletHandler) ExpireCredits(w http.ResponseWriter, r *http.Request) {
	res, err := h.Ledger.ExpireInactive(r.Context())
	if err != nil {
		writeServiceError(w, orDefault(h.Logger), "expire wallet credits", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
