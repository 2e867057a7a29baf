package affiliate

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vidaleve/backend/internal/models"
)

type Store interface {
	ByUser(ctx context.Context, tx pgx.Tx, userID uuid.UUID, forUpdate bool) (*models.Affiliate, error)
	ByCode(ctx context.Context, tx pgx.Tx, code string) (*models.Affiliate, error)
	Create(ctx context.Context, tx pgx.Tx, a *models.Affiliate) error
	InsertSale(ctx context.Context, tx pgx.Tx, sale *models.AffiliateSale) (inserted bool, err error)
	AddEarnings(ctx context.Context, tx pgx.Tx, affiliateID uuid.UUID, amount decimal.Decimal) error
	AdjustBalance(ctx context.Context, tx pgx.Tx, affiliateID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error)
	HasPendingWithdrawal(ctx context.Context, tx pgx.Tx, affiliateID uuid.UUID) (bool, error)
	InsertWithdrawal(ctx context.Context, tx pgx.Tx, w *models.PixWithdrawal) error
	WithdrawalForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PixWithdrawal, error)
	ResolveWithdrawal(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error
	ListSales(ctx context.Context, affiliateID uuid.UUID) ([]*models.AffiliateSale, error)
	ListWithdrawals(ctx context.Context, affiliateID uuid.UUID, status string) ([]*models.PixWithdrawal, error)
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

const affiliateColumns = `id, user_id, code, commission_rate, balance, total_earned, created_at, updated_at`

func scanAffiliate(row pgx.Row) (*models.Affiliate, error) {
	var a models.Affiliate
	err := row.Scan(&a.ID, &a.UserID, &a.Code, &a.CommissionRate, &a.Balance, &a.TotalEarned, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotAffiliate
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *Repository) ByUser(ctx context.Context, tx pgx.Tx, userID uuid.UUID, forUpdate bool) (*models.Affiliate, error) {
	q := `SELECT ` + affiliateColumns + ` FROM affiliates WHERE user_id = $1`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	return scanAffiliate(tx.QueryRow(ctx, q, userID))
}

func (r *Repository) ByCode(ctx context.Context, tx pgx.Tx, code string) (*models.Affiliate, error) {
	return scanAffiliate(tx.QueryRow(ctx, `SELECT `+affiliateColumns+` FROM affiliates WHERE code = $1`, code))
}

func (r *Repository) Create(ctx context.Context, tx pgx.Tx, a *models.Affiliate) error {
	return tx.QueryRow(ctx, `
		INSERT INTO affiliates (user_id, code, commission_rate)
		VALUES ($1, $2, $3)
		RETURNING id, balance, total_earned, created_at, updated_at
	`, a.UserID, a.Code, a.CommissionRate).Scan(&a.ID, &a.Balance, &a.TotalEarned, &a.CreatedAt, &a.UpdatedAt)
}

func (r *Repository) InsertSale(ctx context.Context, tx pgx.Tx, sale *models.AffiliateSale) (bool, error) {
	err := tx.QueryRow(ctx, `
		INSERT INTO affiliate_sales (affiliate_id, order_id, sale_amount, commission_amount)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING id, created_at
	`, sale.AffiliateID, sale.OrderID, sale.SaleAmount, sale.CommissionAmount).Scan(&sale.ID, &sale.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (r *Repository) AddEarnings(ctx context.Context, tx pgx.Tx, affiliateID uuid.UUID, amount decimal.Decimal) error {
	_, err := tx.Exec(ctx, `
		UPDATE affiliates SET balance = balance + $2, total_earned = total_earned + $2, updated_at = now()
		WHERE id = $1
	`, affiliateID, amount)
	return err
}

func (r *Repository) AdjustBalance(ctx context.Context, tx pgx.Tx, affiliateID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRow(ctx, `
		UPDATE affiliates SET balance = balance + $2, updated_at = now()
		WHERE id = $1 AND balance + $2 >= 0
		RETURNING balance
	`, affiliateID, delta).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrInsufficientBalance
	}
	return balance, err
}

func (r *Repository) HasPendingWithdrawal(ctx context.Context, tx pgx.Tx, affiliateID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM pix_withdrawals WHERE affiliate_id = $1 AND status = 'pending')
	`, affiliateID).Scan(&exists)
	return exists, err
}

func (r *Repository) InsertWithdrawal(ctx context.Context, tx pgx.Tx, w *models.PixWithdrawal) error {
	return tx.QueryRow(ctx, `
		INSERT INTO pix_withdrawals (affiliate_id, amount, pix_key, status)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, w.AffiliateID, w.Amount, w.PixKey, w.Status).Scan(&w.ID, &w.CreatedAt)
}

const withdrawalColumns = `id, affiliate_id, amount, pix_key, status, created_at, resolved_at`

func scanWithdrawal(row pgx.Row) (*models.PixWithdrawal, error) {
	var w models.PixWithdrawal
	err := row.Scan(&w.ID, &w.AffiliateID, &w.Amount, &w.PixKey, &w.Status, &w.CreatedAt, &w.ResolvedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrWithdrawalNotFound
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *Repository) WithdrawalForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.PixWithdrawal, error) {
	return scanWithdrawal(tx.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM pix_withdrawals WHERE id = $1 FOR UPDATE`, id))
}

func (r *Repository) ResolveWithdrawal(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string) error {
	_, err := tx.Exec(ctx, `UPDATE pix_withdrawals SET status = $2, resolved_at = now() WHERE id = $1`, id, status)
	return err
}

func (r *Repository) ListSales(ctx context.Context, affiliateID uuid.UUID) ([]*models.AffiliateSale, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, affiliate_id, order_id, sale_amount, commission_amount, created_at
		FROM affiliate_sales WHERE affiliate_id = $1 ORDER BY created_at DESC
	`, affiliateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.AffiliateSale
	for rows.Next() {
		var s models.AffiliateSale
		if err := rows.Scan(&s.ID, &s.AffiliateID, &s.OrderID, &s.SaleAmount, &s.CommissionAmount, &s.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &s)
	}
	return list, rows.Err()
}

// ListWithdrawals filters by affiliate and/or status; zero values match everything.
func (r *Repository) ListWithdrawals(ctx context.Context, affiliateID uuid.UUID, status string) ([]*models.PixWithdrawal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+withdrawalColumns+` FROM pix_withdrawals
		WHERE ($1 = '00000000-0000-0000-0000-000000000000'::uuid OR affiliate_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
	`, affiliateID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.PixWithdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, w)
	}
	return list, rows.Err()
}
