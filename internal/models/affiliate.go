package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	WithdrawalPending  = "pending"
	WithdrawalPaid     = "paid"
	WithdrawalRejected = "rejected"
)

type Affiliate struct {
	ID             uuid.UUID       `json:"id"`
	UserID         uuid.UUID       `json:"user_id"`
	Code           string          `json:"code"`
	CommissionRate decimal.Decimal `json:"commission_rate"`
	Balance        decimal.Decimal `json:"balance"`
	TotalEarned    decimal.Decimal `json:"total_earned"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type AffiliateSale struct {
	ID               uuid.UUID       `json:"id"`
	AffiliateID      uuid.UUID       `json:"affiliate_id"`
	OrderID          uuid.UUID       `json:"order_id"`
	SaleAmount       decimal.Decimal `json:"sale_amount"`
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	CreatedAt        time.Time       `json:"created_at"`
}

type PixWithdrawal struct {
	ID          uuid.UUID       `json:"id"`
	AffiliateID uuid.UUID       `json:"affiliate_id"`
	Amount      decimal.Decimal `json:"amount"`
	PixKey      string          `json:"pix_key"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	ResolvedAt  *time.Time      `json:"resolved_at,omitempty"`
}
