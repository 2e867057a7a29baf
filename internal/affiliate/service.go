// Package affiliate runs the commission program: tracked codes earn a share of
// each paid order, and earnings leave through PIX withdrawals approved by an admin.
package affiliate

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/vidaleve/backend/internal/database"
	"github.com/vidaleve/backend/internal/models"
)

var (
	ErrNotAffiliate        = errors.New("user is not an affiliate")
	ErrUnknownCode         = errors.New("affiliate code not found")
	ErrBelowMinimum        = errors.New("withdrawal below minimum amount")
	ErrInsufficientBalance = errors.New("insufficient affiliate balance")
	ErrWithdrawalPending   = errors.New("a withdrawal is already pending")
	ErrWithdrawalNotFound  = errors.New("withdrawal not found")
	ErrWithdrawalResolved  = errors.New("withdrawal already resolved")
	ErrMissingPixKey       = errors.New("pix key is required")
)

const (
	codeLength   = 6
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeAttempts = 5
)

type Config struct {
	CommissionRate    decimal.Decimal
	MinimumWithdrawal decimal.Decimal
}

type Service struct {
	db     database.TxBeginner
	store  Store
	cfg    Config
	logger *slog.Logger
}

func NewService(db database.TxBeginner, store Store, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{db: db, store: store, cfg: cfg, logger: logger}
}

func newCode() string {
	b := make([]byte, codeLength)
	_, _ = rand.Read(b)
	for i := range b {
		b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
	}
	return string(b)
}

// Register enrols userID in the program. Calling it again returns the existing affiliate.
func (s *Service) Register(ctx context.Context, userID uuid.UUID) (*models.Affiliate, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	a, err := s.store.ByUser(ctx, tx, userID, false)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrNotAffiliate) {
		return nil, err
	}
	for attempt := 0; attempt < codeAttempts; attempt++ {
		sp, err := tx.Begin(ctx)
		if err != nil {
			return nil, err
		}
		a = &models.Affiliate{UserID: userID, Code: newCode(), CommissionRate: s.cfg.CommissionRate}
		err = s.store.Create(ctx, sp, a)
		if database.IsUniqueViolation(err) {
			_ = sp.Rollback(ctx)
			continue
		}
		if err != nil {
			_ = sp.Rollback(ctx)
			return nil, fmt.Errorf("create affiliate: %w", err)
		}
		if err := sp.Commit(ctx); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, err
		}
		s.logger.Info("affiliate registered", "user_id", userID, "code", a.Code)
		return a, nil
	}
	return nil, errors.New("create affiliate: could not allocate a unique code")
}

// ValidateCode reports whether code belongs to an affiliate.
func (s *Service) ValidateCode(ctx context.Context, code string) (*models.Affiliate, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)
	a, err := s.store.ByCode(ctx, tx, strings.ToUpper(strings.TrimSpace(code)))
	if errors.Is(err, ErrNotAffiliate) {
		return nil, ErrUnknownCode
	}
	return a, err
}

// RecordSaleTx credits the commission for a paid order inside the caller's
// transaction. A second call for the same order is a no-op returning nil.
func (s *Service) RecordSaleTx(ctx context.Context, tx pgx.Tx, code string, orderID uuid.UUID, saleAmount decimal.Decimal) (*models.AffiliateSale, error) {
	a, err := s.store.ByCode(ctx, tx, strings.ToUpper(strings.TrimSpace(code)))
	if errors.Is(err, ErrNotAffiliate) {
		return nil, ErrUnknownCode
	}
	if err != nil {
		return nil, err
	}
	sale := &models.AffiliateSale{
		AffiliateID:      a.ID,
		OrderID:          orderID,
		SaleAmount:       saleAmount,
		CommissionAmount: saleAmount.Mul(a.CommissionRate).Round(2),
	}
	inserted, err := s.store.InsertSale(ctx, tx, sale)
	if err != nil {
		return nil, fmt.Errorf("insert sale: %w", err)
	}
	if !inserted {
		return nil, nil
	}
	if err := s.store.AddEarnings(ctx, tx, a.ID, sale.CommissionAmount); err != nil {
		return nil, fmt.Errorf("add earnings: %w", err)
	}
	return sale, nil
}

// RequestWithdrawal holds amount from the affiliate balance and opens a pending
// PIX withdrawal. The affiliate row stays locked for the whole check.
func (s *Service) RequestWithdrawal(ctx context.Context, userID uuid.UUID, amount decimal.Decimal, pixKey string) (*models.PixWithdrawal, error) {
	pixKey = strings.TrimSpace(pixKey)
	if pixKey == "" {
		return nil, ErrMissingPixKey
	}
	if amount.LessThan(s.cfg.MinimumWithdrawal) {
		return nil, ErrBelowMinimum
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	a, err := s.store.ByUser(ctx, tx, userID, true)
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(a.Balance) {
		return nil, ErrInsufficientBalance
	}
	pending, err := s.store.HasPendingWithdrawal(ctx, tx, a.ID)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, ErrWithdrawalPending
	}
	if _, err := s.store.AdjustBalance(ctx, tx, a.ID, amount.Neg()); err != nil {
		return nil, err
	}
	w := &models.PixWithdrawal{AffiliateID: a.ID, Amount: amount, PixKey: pixKey, Status: models.WithdrawalPending}
	if err := s.store.InsertWithdrawal(ctx, tx, w); err != nil {
		if database.IsUniqueViolation(err) {
			return nil, ErrWithdrawalPending
		}
		return nil, fmt.Errorf("insert withdrawal: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.logger.Info("withdrawal requested", "affiliate_id", a.ID, "amount", amount)
	return w, nil
}

// ResolveWithdrawal marks a pending withdrawal paid, or rejects it and returns
// the held amount to the affiliate balance.
func (s *Service) ResolveWithdrawal(ctx context.Context, id uuid.UUID, approve bool) (*models.PixWithdrawal, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	w, err := s.store.WithdrawalForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if w.Status != models.WithdrawalPending {
		return nil, ErrWithdrawalResolved
	}
	status := models.WithdrawalPaid
	if !approve {
		status = models.WithdrawalRejected
		if _, err := s.store.AdjustBalance(ctx, tx, w.AffiliateID, w.Amount); err != nil {
			return nil, err
		}
	}
	if err := s.store.ResolveWithdrawal(ctx, tx, id, status); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	w.Status = status
	s.logger.Info("withdrawal resolved", "withdrawal_id", id, "status", status)
	return w, nil
}

type Dashboard struct {
	Affiliate   *models.Affiliate       `json:"affiliate"`
	Sales       []*models.AffiliateSale `json:"sales"`
	Withdrawals []*models.PixWithdrawal `json:"withdrawals"`
}

func (s *Service) Dashboard(ctx context.Context, userID uuid.UUID) (*Dashboard, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	a, err := s.store.ByUser(ctx, tx, userID, false)
	_ = tx.Rollback(ctx)
	if err != nil {
		return nil, err
	}
	sales, err := s.store.ListSales(ctx, a.ID)
	if err != nil {
		return nil, err
	}
	withdrawals, err := s.store.ListWithdrawals(ctx, a.ID, "")
	if err != nil {
		return nil, err
	}
	return &Dashboard{Affiliate: a, Sales: sales, Withdrawals: withdrawals}, nil
}

// PendingWithdrawals lists every pending withdrawal for the admin queue.
func (s *Service) PendingWithdrawals(ctx context.Context) ([]*models.PixWithdrawal, error) {
	return s.store.ListWithdrawals(ctx, uuid.Nil, models.WithdrawalPending)
}
