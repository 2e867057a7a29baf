package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet transaction types. Amounts are signed: credit and refund are positive,
// purchase and expiration are negative.
const (
	WalletTxCredit     = "credit"
	WalletTxPurchase   = "purchase"
	WalletTxExpiration = "expiration"
	WalletTxRefund     = "refund"
)

const (
	ReferralStatusPending   = "pending"
	ReferralStatusApproved  = "approved"
	ReferralStatusConverted = "converted"
)

type Wallet struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"user_id"`
	Balance      decimal.Decimal `json:"balance"`
	ReferralCode string          `json:"referral_code"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type WalletTransaction struct {
	ID          uuid.UUID       `json:"id"`
	WalletID    uuid.UUID       `json:"wallet_id"`
	UserID      uuid.UUID       `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	Type        string          `json:"type"`
	Description string          `json:"description"`
	ReferralID  *uuid.UUID      `json:"referral_id,omitempty"`
	OrderID     *uuid.UUID      `json:"order_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type Referral struct {
	ID             uuid.UUID       `json:"id"`
	ReferrerUserID uuid.UUID       `json:"referrer_user_id"`
	ReferredEmail  string          `json:"referred_email"`
	KiwifyOrderID  string          `json:"kiwify_order_id"`
	Status         string          `json:"status"`
	CreditAmount   decimal.Decimal `json:"credit_amount"`
	CreatedAt      time.Time       `json:"created_at"`
}
