package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	PaymentWallet = "wallet"
	PaymentStripe = "stripe"
	PaymentPix    = "pix"

	OrderStatusPending = "pending"
	OrderStatusPaid    = "paid"
	OrderStatusExpired = "expired"
)

// OrderItem is one cart line as sent by the storefront.
type OrderItem struct {
	Title     string          `json:"title"`
	Price     decimal.Decimal `json:"price"`
	Quantity  int64           `json:"quantity"`
	Image     string          `json:"image,omitempty"`
	VariantID string          `json:"variant_id,omitempty"`
}

type Order struct {
	ID            uuid.UUID       `json:"id"`
	UserID        *uuid.UUID      `json:"user_id,omitempty"`
	ProductTitle  string          `json:"product_title"`
	Items         json.RawMessage `json:"items"`
	Total         decimal.Decimal `json:"total"`
	WalletAmount  decimal.Decimal `json:"wallet_amount"`
	PaymentMethod string          `json:"payment_method"`
	Status        string          `json:"status"`
	ExternalID    *string         `json:"external_id,omitempty"`
	AffiliateCode *string         `json:"affiliate_code,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// ItemsTotal sums price × quantity over the cart.
func ItemsTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Price.Mul(decimal.NewFromInt(it.Quantity)))
	}
	return total
}
