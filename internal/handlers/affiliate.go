package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/vidaleve/backend/internal/affiliate"
	"github.com/vidaleve/backend/internal/middleware"
	"github.com/vidaleve/backend/internal/models"
)

type AffiliateProgram interface {
	Register(ctx context.Context, userID uuid.UUID) (*models.Affiliate, error)
	ValidateCode(ctx context.Context, code string) (*models.Affiliate, error)
	Dashboard(ctx context.Context, userID uuid.UUID) (*affiliate.Dashboard, error)
	RequestWithdrawal(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, pixKey string) (*models.PixWithdrawal, error)
	ResolveWithdrawal(ctx context.Context, id uuid.UUID, approve bool) (*models.PixWithdrawal, error)
	PendingWithdrawals(ctx context.Context) ([]*models.PixWithdrawal, error)
}

// AffiliateHandler serves the affiliate program endpoints.
type AffiliateHandler struct {
	Affiliates AffiliateProgram
	Logger     *slog.Logger
}

// Register handles POST /affiliate/register. Repeat calls return the existing affiliate.
func (h *AffiliateHandler) Register(w http.ResponseWriter, r *http.Request) {
	p := middleware.ProfileFromCtx(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	a, err := h.Affiliates.Register(r.Context(), p.ID)
	if err != nil {
		writeServiceError(w, orDefault(h.Logger), "register affiliate", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Dashboard handles GET /affiliate.
func (h *AffiliateHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	p := middleware.ProfileFromCtx(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	d, err := h.Affiliates.Dashboard(r.Context(), p.ID)
	if err != nil {
		writeServiceError(w, orDefault(h.Logger), "affiliate dashboard", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// ValidateCode handles GET /affiliate/codes/{code}, used by the cart before checkout.
func (h *AffiliateHandler) ValidateCode(w http.ResponseWriter, r *http.Request) {
	a, err := h.Affiliates.ValidateCode(r.Context(), r.PathValue("code"))
	if err != nil {
		writeServiceError(w, orDefault(h.Logger), "validate affiliate code", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"valid": true, "code": a.Code})
}

type withdrawalRequest struct {
	Amount decimal.Decimal `json:"amount"`
	PixKey string          `json:"pix_key"`
}

// RequestWithdrawal handles POST /affiliate/withdrawals.
func (h *AffiliateHandler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	p := middleware.ProfileFromCtx(r.Context())
	if p == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req withdrawalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	wd, err := h.Affiliates.RequestWithdrawal(r.Context(), p.ID, req.Amount, req.PixKey)
	if err != nil {
		writeServiceError(w, orDefault(h.Logger), "request withdrawal", err)
		return
	}
	writeJSON(w, http.StatusCreated, wd)
}

// PendingWithdrawals handles GET /admin/withdrawals.
func (h *AffiliateHandler) PendingWithdrawals(w http.ResponseWriter, r *http.Request) {
	list, err := h.Affiliates.PendingWithdrawals(r.Context())
	if err != nil {
		writeServiceError(w, orDefault(h.Logger), "list pending withdrawals", err)
		return
	}
	if list == nil {
		list = []*models.PixWithdrawal{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"withdrawals": list})
}

// ResolveWithdrawal handles POST /admin/withdrawals/{id}/{action} where action
// is approve or reject.
func (h *AffiliateHandler) ResolveWithdrawal(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid withdrawal id")
		return
	}
	var approve bool
	switch r.PathValue("action") {
	case "approve":
		approve = true
	case "reject":
	default:
		writeError(w, http.StatusNotFound, "unknown action")
		return
	}
	wd, err := h.Affiliates.ResolveWithdrawal(r.Context(), id, approve)
	if err != nil {
		writeServiceError(w, orDefault(h.Logger), "resolve withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, wd)
}
