// Package ledger keeps the referral wallet: an append-only transaction log and a
// balance that always equals the sum of that log. Every mutation runs in a single
// database transaction with the wallet row locked.
package ledger

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/vidaleve/backend/internal/database"
	"github.com/vidaleve/backend/internal/metrics"
	"github.com/vidaleve/backend/internal/models"
)

var (
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrInsufficientFunds   = errors.New("insufficient balance")
	ErrUnknownReferralCode = errors.New("referral code not found")
	ErrAlreadyProcessed    = errors.New("order already processed")
	ErrInvalidAmount       = errors.New("amount must be positive with at most two decimal places")
)

const (
	referralCodeLength   = 8
	referralCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	maxCodeAttempts      = 5
	defaultHistoryLimit  = 50
)

// OrderWriter persists the order a wallet purchase pays for.
type OrderWriter interface {
	CreateTx(ctx context.Context, tx pgx.Tx, o *models.Order) error
}

type Config struct {
	ReferralCredit   decimal.Decimal
	ExpirationWindow time.Duration
}

type Service struct {
	db     database.TxBeginner
	store  Store
	orders OrderWriter
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewService(db database.TxBeginner, store Store, orders OrderWriter, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, store: store, orders: orders, cfg: cfg, logger: logger, now: time.Now}
}

// NormalizeCode uppercases a referral code so lookups are case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func newReferralCode() string {
	b := make([]byte, referralCodeLength)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = referralCodeAlphabet[int(b[i])%len(referralCodeAlphabet)]
	}
	return string(b)
}

func validAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Equal(amount.Round(2))
}

// Wallet returns the user's wallet, creating it on first access.
func (s *Service) Wallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	w, err := s.walletTx(ctx, tx, userID, false)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

// walletTx loads the wallet, creating it when missing. Code collisions are
// retried inside a savepoint so the outer transaction survives.
func (s *Service) walletTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, forUpdate bool) (*models.Wallet, error) {
	w, err := s.store.WalletByUser(ctx, tx, userID, forUpdate)
	if !errors.Is(err, ErrWalletNotFound) {
		return w, err
	}
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		sp, err := tx.Begin(ctx)
		if err != nil {
			return nil, err
		}
		_, err = s.store.CreateWallet(ctx, sp, userID, newReferralCode())
		if database.IsUniqueViolation(err) {
			_ = sp.Rollback(ctx)
			continue
		}
		if err != nil {
			_ = sp.Rollback(ctx)
			return nil, fmt.Errorf("create wallet: %w", err)
		}
		if err := sp.Commit(ctx); err != nil {
			return nil, err
		}
		return s.store.WalletByUser(ctx, tx, userID, forUpdate)
	}
	return nil, errors.New("create wallet: could not allocate a unique referral code")
}

type CreditResult struct {
	Referral   *models.Referral `json:"referral"`
	NewBalance decimal.Decimal  `json:"new_balance"`
}

// CreditReferral credits the wallet owning code exactly once per external order id.
func (s *Service) CreditReferral(ctx context.Context, code, orderID, customerEmail string) (*CreditResult, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, ErrUnknownReferralCode
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	w, err := s.store.WalletByCode(ctx, tx, code, true)
	if errors.Is(err, ErrWalletNotFound) {
		return nil, ErrUnknownReferralCode
	}
	if err != nil {
		return nil, err
	}
	ref := &models.Referral{
		ReferrerUserID: w.UserID,
		ReferredEmail:  customerEmail,
		KiwifyOrderID:  orderID,
		Status:         models.ReferralStatusApproved,
		CreditAmount:   s.cfg.ReferralCredit,
	}
	inserted, err := s.store.InsertReferral(ctx, tx, ref)
	if err != nil {
		return nil, fmt.Errorf("insert referral: %w", err)
	}
	if !inserted {
		return nil, ErrAlreadyProcessed
	}
	balance, err := s.apply(ctx, tx, w, s.cfg.ReferralCredit, models.WalletTxCredit,
		"Crédito de indicação", &ref.ID, nil)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	metrics.RecordWalletOperation(models.WalletTxCredit)
	s.logger.Info("referral credited", "user_id", w.UserID, "order_id", orderID, "amount", s.cfg.ReferralCredit)
	return &CreditResult{Referral: ref, NewBalance: balance}, nil
}

type DebitRequest struct {
	Amount       decimal.Decimal
	ProductTitle string
	Items        json.RawMessage
}

type DebitResult struct {
	NewBalance decimal.Decimal `json:"new_balance"`
	OrderID    uuid.UUID       `json:"order_id"`
}

// Debit pays for a purchase entirely from the wallet. The balance never goes
// below zero; on rejection neither the balance nor the log changes.
func (s *Service) Debit(ctx context.Context, userID uuid.UUID, req DebitRequest) (*DebitResult, error) {
	if !validAmount(req.Amount) {
		return nil, ErrInvalidAmount
	}
	items := req.Items
	if len(items) == 0 {
		items = json.RawMessage("[]")
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	w, err := s.walletTx(ctx, tx, userID, true)
	if err != nil {
		return nil, err
	}
	if w.Balance.LessThan(req.Amount) {
		return nil, ErrInsufficientFunds
	}
	uid := userID
	order := &models.Order{
		UserID:        &uid,
		ProductTitle:  req.ProductTitle,
		Items:         items,
		Total:         req.Amount,
		WalletAmount:  req.Amount,
		PaymentMethod: models.PaymentWallet,
		Status:        models.OrderStatusPaid,
	}
	if err := s.orders.CreateTx(ctx, tx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	balance, err := s.apply(ctx, tx, w, req.Amount.Neg(), models.WalletTxPurchase,
		"Compra: "+req.ProductTitle, nil, &order.ID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	metrics.RecordWalletOperation(models.WalletTxPurchase)
	return &DebitResult{NewBalance: balance, OrderID: order.ID}, nil
}

// HoldTx debits amount inside the caller's transaction, typically a wallet
// discount applied to an external checkout that is still pending.
func (s *Service) HoldTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal, orderID uuid.UUID, description string) (decimal.Decimal, error) {
	if !validAmount(amount) {
		return decimal.Zero, ErrInvalidAmount
	}
	w, err := s.walletTx(ctx, tx, userID, true)
	if err != nil {
		return decimal.Zero, err
	}
	if w.Balance.LessThan(amount) {
		return decimal.Zero, ErrInsufficientFunds
	}
	balance, err := s.apply(ctx, tx, w, amount.Neg(), models.WalletTxPurchase, description, nil, &orderID)
	if err != nil {
		return decimal.Zero, err
	}
	metrics.RecordWalletOperation(models.WalletTxPurchase)
	return balance, nil
}

// RefundTx returns a previously held amount inside the caller's transaction.
func (s *Service) RefundTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount decimal.Decimal, orderID uuid.UUID, description string) (decimal.Decimal, error) {
	if !validAmount(amount) {
		return decimal.Zero, ErrInvalidAmount
	}
	w, err := s.store.WalletByUser(ctx, tx, userID, true)
	if err != nil {
		return decimal.Zero, err
	}
	balance, err := s.apply(ctx, tx, w, amount, models.WalletTxRefund, description, nil, &orderID)
	if err != nil {
		return decimal.Zero, err
	}
	metrics.RecordWalletOperation(models.WalletTxRefund)
	return balance, nil
}

type ExpireResult struct {
	ExpiredCount       int             `json:"expired_count"`
	TotalExpiredAmount decimal.Decimal `json:"total_expired_amount"`
}

// ExpireInactive zeroes wallets with no activity inside the expiration window.
// Each wallet is expired in its own transaction after re-checking, under lock,
// that nothing touched it since the candidate scan.
func (s *Service) ExpireInactive(ctx context.Context) (*ExpireResult, error) {
	cutoff := s.now().Add(-s.cfg.ExpirationWindow)
	ids, err := s.store.ListExpirable(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expirable wallets: %w", err)
	}
	res := &ExpireResult{TotalExpiredAmount: decimal.Zero}
	var failed int
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		amount, err := s.expireOne(ctx, id, cutoff)
		if err != nil {
			failed++
			s.logger.Error("expire wallet", "wallet_id", id, "error", err)
			continue
		}
		if amount.IsPositive() {
			res.ExpiredCount++
			res.TotalExpiredAmount = res.TotalExpiredAmount.Add(amount)
		}
	}
	s.logger.Info("wallet expiration finished",
		"candidates", len(ids), "expired", res.ExpiredCount, "amount", res.TotalExpiredAmount, "failed", failed)
	return res, nil
}

func (s *Service) expireOne(ctx context.Context, walletID uuid.UUID, cutoff time.Time) (decimal.Decimal, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	defer tx.Rollback(ctx)

	w, err := s.store.WalletByID(ctx, tx, walletID, true)
	if err != nil {
		return decimal.Zero, err
	}
	if !w.Balance.IsPositive() || !w.UpdatedAt.Before(cutoff) {
		return decimal.Zero, nil
	}
	recent, err := s.store.HasTransactionsSince(ctx, tx, walletID, cutoff)
	if err != nil {
		return decimal.Zero, err
	}
	if recent {
		return decimal.Zero, nil
	}
	amount := w.Balance
	if _, err := s.apply(ctx, tx, w, amount.Neg(), models.WalletTxExpiration,
		"Saldo expirado por inatividade", nil, nil); err != nil {
		return decimal.Zero, err
	}
	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, err
	}
	metrics.RecordWalletOperation(models.WalletTxExpiration)
	return amount, nil
}

func (s *Service) Transactions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.WalletTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = defaultHistoryLimit
	}
	return s.store.ListTransactions(ctx, userID, limit)
}

// apply moves the balance by delta, appends the matching log entry and queues
// a change notification, all inside tx.
func (s *Service) apply(ctx context.Context, tx pgx.Tx, w *models.Wallet, delta decimal.Decimal, txType, description string, referralID, orderID *uuid.UUID) (decimal.Decimal, error) {
	balance, err := s.store.AdjustBalance(ctx, tx, w.ID, delta)
	if err != nil {
		return decimal.Zero, err
	}
	entry := &models.WalletTransaction{
		WalletID:    w.ID,
		UserID:      w.UserID,
		Amount:      delta,
		Type:        txType,
		Description: description,
		ReferralID:  referralID,
		OrderID:     orderID,
	}
	if err := s.store.InsertTransaction(ctx, tx, entry); err != nil {
		return decimal.Zero, fmt.Errorf("insert wallet transaction: %w", err)
	}
	if err := s.store.NotifyChange(ctx, tx, w.UserID); err != nil {
		return decimal.Zero, fmt.Errorf("notify wallet change: %w", err)
	}
	w.Balance = balance
	return balance, nil
}
