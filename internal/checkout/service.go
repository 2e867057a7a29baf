// Package checkout turns a storefront cart into a Stripe Checkout Session,
// settles orders from Stripe webhooks and serves the static PIX codes.
package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/vidaleve/backend/internal/affiliate"
	"github.com/vidaleve/backend/internal/config"
	"github.com/vidaleve/backend/internal/database"
	"github.com/vidaleve/backend/internal/ledger"
	"github.com/vidaleve/backend/internal/models"
	"github.com/vidaleve/backend/internal/repository"
)

var (
	ErrEmptyCart        = errors.New("cart is empty")
	ErrInvalidItem      = errors.New("each item needs a title, a positive price and quantity >= 1")
	ErrAuthRequired     = errors.New("wallet discount requires a signed-in user")
	ErrDiscountTooLarge = errors.New("wallet discount must leave at least the minimum charge")
	ErrUnknownKit       = errors.New("no PIX code for kit")
	ErrNotConfigured    = errors.New("payments are not configured")
)

// Webhook outcomes, also used as metric labels. OutcomeAwaitingPayment is a
// completed session whose delayed payment (boleto) has not cleared yet.
const (
	OutcomeProcessed       = "processed"
	OutcomeDuplicate       = "duplicate"
	OutcomeIgnored         = "ignored"
	OutcomeAwaitingPayment = "awaiting_payment"
)

// Checkout Session payment_status values.
const (
	PaymentStatusPaid              = "paid"
	PaymentStatusUnpaid            = "unpaid"
	PaymentStatusNoPaymentRequired = "no_payment_required"
)

// Gateway is the hosted payment page provider.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	ExpireSession(ctx context.Context, id string) error
}

type SessionRequest struct {
	OrderID       uuid.UUID
	Items         []models.OrderItem
	Discount      decimal.Decimal
	CustomerEmail string
}

type Session struct {
	ID  string
	URL string
}

// Event is the subset of a verified webhook delivery the service acts on.
type Event struct {
	ID            string
	Type          string
	SessionID     string
	PaymentStatus string
}

type OrderStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, o *models.Order) error
	TransitionByExternalIDTx(ctx context.Context, tx pgx.Tx, externalID, status string) (*models.Order, error)
}

type Wallets interface {
	Wallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	HoldTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal, orderID uuid.UUID, description string) (decimal.Decimal, error)
	RefundTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal, orderID uuid.UUID, description string) (decimal.Decimal, error)
}

type Affiliates interface {
	ValidateCode(ctx context.Context, code string) (*models.Affiliate, error)
	RecordSaleTx(ctx context.Context, tx pgx.Tx, code string, orderID uuid.UUID, saleAmount decimal.Decimal) (*models.AffiliateSale, error)
}

type Config struct {
	MinimumCharge decimal.Decimal
	Pix           map[int]config.PixKit
}

type Service struct {
	db         database.TxBeginner
	orders     OrderStore
	wallets    Wallets
	affiliates Affiliates
	gateway    Gateway
	cfg        Config
	logger     *slog.Logger
}

// NewService wires the checkout flow. gateway may be nil when Stripe is not
// configured; only the PIX endpoints work then.
func NewService(db database.TxBeginner, orders OrderStore, wallets Wallets, affiliates Affiliates, gateway Gateway, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MinimumCharge.IsZero() {
		cfg.MinimumCharge = decimal.RequireFromString("0.50")
	}
	return &Service{db: db, orders: orders, wallets: wallets, affiliates: affiliates, gateway: gateway, cfg: cfg, logger: logger}
}

type Request struct {
	Items          []models.OrderItem `json:"items"`
	AffiliateCode  string             `json:"affiliate_code,omitempty"`
	WalletDiscount decimal.Decimal    `json:"wallet_discount,omitempty"`
}

type Result struct {
	URL     string    `json:"url"`
	OrderID uuid.UUID `json:"order_id"`
}

// Buyer is the signed-in customer, if any.
type Buyer struct {
	UserID uuid.UUID
	Email  string
}

// CreateCheckout opens a Checkout Session for the cart and records a pending
// order keyed by the session id. A wallet discount is held from the wallet in
// the same transaction as the order; if that fails the session is expired.
func (s *Service) CreateCheckout(ctx context.Context, buyer *Buyer, req Request) (*Result, error) {
	if s.gateway == nil {
		return nil, ErrNotConfigured
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyCart
	}
	for _, it := range req.Items {
		if strings.TrimSpace(it.Title) == "" || !it.Price.IsPositive() || it.Quantity < 1 {
			return nil, ErrInvalidItem
		}
	}
	total := models.ItemsTotal(req.Items)

	var affiliateCode *string
	if code := strings.TrimSpace(req.AffiliateCode); code != "" {
		a, err := s.affiliates.ValidateCode(ctx, code)
		if err != nil {
			return nil, err
		}
		affiliateCode = &a.Code
	}

	discount := req.WalletDiscount
	if discount.IsNegative() {
		return nil, ledger.ErrInvalidAmount
	}
	if discount.IsPositive() {
		if buyer == nil {
			return nil, ErrAuthRequired
		}
		w, err := s.wallets.Wallet(ctx, buyer.UserID)
		if err != nil {
			return nil, err
		}
		if discount.GreaterThan(w.Balance) {
			return nil, ledger.ErrInsufficientFunds
		}
		if total.Sub(discount).LessThan(s.cfg.MinimumCharge) {
			return nil, ErrDiscountTooLarge
		}
	}

	items, err := json.Marshal(req.Items)
	if err != nil {
		return nil, err
	}
	order := &models.Order{
		ID:            uuid.New(),
		ProductTitle:  productTitle(req.Items),
		Items:         items,
		Total:         total,
		WalletAmount:  discount,
		PaymentMethod: models.PaymentStripe,
		Status:        models.OrderStatusPending,
		AffiliateCode: affiliateCode,
	}
	sreq := SessionRequest{OrderID: order.ID, Items: req.Items, Discount: discount}
	if buyer != nil {
		order.UserID = &buyer.UserID
		sreq.CustomerEmail = buyer.Email
	}

	session, err := s.gateway.CreateSession(ctx, sreq)
	if err != nil {
		return nil, err
	}
	order.ExternalID = &session.ID

	if err := s.recordPending(ctx, order); err != nil {
		if xerr := s.gateway.ExpireSession(ctx, session.ID); xerr != nil {
			s.logger.Error("expire orphaned session", "session_id", session.ID, "error", xerr)
		}
		return nil, err
	}
	s.logger.Info("checkout session created", "order_id", order.ID, "session_id", session.ID,
		"total", total.StringFixed(2), "wallet_amount", discount.StringFixed(2))
	return &Result{URL: session.URL, OrderID: order.ID}, nil
}

func (s *Service) recordPending(ctx context.Context, order *models.Order) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := s.orders.CreateTx(ctx, tx, order); err != nil {
		return fmt.Errorf("create order: %w", err)
	}
	if order.WalletAmount.IsPositive() {
		if _, err := s.wallets.HoldTx(ctx, tx, *order.UserID, order.WalletAmount, order.ID, "Desconto no pedido: "+order.ProductTitle); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func productTitle(items []models.OrderItem) string {
	if len(items) == 1 {
		return items[0].Title
	}
	return fmt.Sprintf("%s (+%d)", items[0].Title, len(items)-1)
}

// HandleEvent settles the order behind a Checkout Session. Each session is
// settled at most once: only pending orders transition. A completed session
// is paid only once its payment_status says so; delayed methods settle on the
// async_payment events instead.
func (s *Service) HandleEvent(ctx context.Context, ev *Event) (string, error) {
	var status string
	switch ev.Type {
	case EventSessionCompleted:
		if ev.PaymentStatus != PaymentStatusPaid && ev.PaymentStatus != PaymentStatusNoPaymentRequired {
			s.logger.Info("checkout completed, payment pending", "event_id", ev.ID,
				"session_id", ev.SessionID, "payment_status", ev.PaymentStatus)
			return OutcomeAwaitingPayment, nil
		}
		status = models.OrderStatusPaid
	case EventAsyncPaymentSucceeded:
		status = models.OrderStatusPaid
	case EventSessionExpired, EventAsyncPaymentFailed:
		status = models.OrderStatusExpired
	default:
		return OutcomeIgnored, nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	order, err := s.orders.TransitionByExternalIDTx(ctx, tx, ev.SessionID, status)
	if errors.Is(err, repository.ErrNotFound) {
		s.logger.Info("stripe event for settled or unknown session", "event_id", ev.ID, "session_id", ev.SessionID)
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return "", fmt.Errorf("transition order: %w", err)
	}

	switch status {
	case models.OrderStatusPaid:
		if order.AffiliateCode != nil {
			paid := order.Total.Sub(order.WalletAmount)
			_, err := s.affiliates.RecordSaleTx(ctx, tx, *order.AffiliateCode, order.ID, paid)
			if errors.Is(err, affiliate.ErrUnknownCode) {
				s.logger.Warn("affiliate code vanished before settlement", "order_id", order.ID, "code", *order.AffiliateCode)
			} else if err != nil {
				return "", fmt.Errorf("record affiliate sale: %w", err)
			}
		}
	case models.OrderStatusExpired:
		if order.WalletAmount.IsPositive() && order.UserID != nil {
			if _, err := s.wallets.RefundTx(ctx, tx, *order.UserID, order.WalletAmount, order.ID, "Estorno do pedido: "+order.ProductTitle); err != nil {
				return "", fmt.Errorf("refund wallet hold: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	s.logger.Info("order settled", "order_id", order.ID, "status", status, "event_id", ev.ID)
	return OutcomeProcessed, nil
}

type PixCode struct {
	Kit   int             `json:"kit"`
	Code  string          `json:"code"`
	Price decimal.Decimal `json:"price"`
}

// Pix returns the pre-generated PIX copy-and-paste code for a kit.
func (s *Service) Pix(kit int) (*PixCode, error) {
	k, ok := s.cfg.Pix[kit]
	if !ok || k.Code == "" {
		return nil, ErrUnknownKit
	}
	return &PixCode{Kit: kit, Code: k.Code, Price: k.Price}, nil
}
