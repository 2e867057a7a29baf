package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vidaleve/backend/internal/models"
)

// ChangesChannel is the LISTEN/NOTIFY channel carrying the user id of a wallet that changed.
const ChangesChannel = "wallet_changes"

// Store is the persistence surface the ledger service needs. Methods taking a
// pgx.Tx run inside the caller's transaction.
type Store interface {
	WalletByUser(ctx context.Context, tx pgx.Tx, userID uuid.UUID, forUpdate bool) (*models.Wallet, error)
	WalletByID(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, forUpdate bool) (*models.Wallet, error)
	WalletByCode(ctx context.Context, tx pgx.Tx, code string, forUpdate bool) (*models.Wallet, error)
	CreateWallet(ctx context.Context, tx pgx.Tx, userID uuid.UUID, code string) (*models.Wallet, error)
	InsertReferral(ctx context.Context, tx pgx.Tx, ref *models.Referral) (inserted bool, err error)
	AdjustBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error)
	InsertTransaction(ctx context.Context, tx pgx.Tx, t *models.WalletTransaction) error
	HasTransactionsSince(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, since time.Time) (bool, error)
	ListExpirable(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
	ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.WalletTransaction, error)
	NotifyChange(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

const walletColumns = `id, user_id, balance, referral_code, created_at, updated_at`

func scanWallet(row pgx.Row) (*models.Wallet, error) {
	var w models.Wallet
	if err := row.Scan(&w.ID, &w.UserID, &w.Balance, &w.ReferralCode, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &w, nil
}

func lockClause(forUpdate bool) string {
	if forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

func (r *Repository) WalletByUser(ctx context.Context, tx pgx.Tx, userID uuid.UUID, forUpdate bool) (*models.Wallet, error) {
	return scanWallet(tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`+lockClause(forUpdate), userID))
}

func (r *Repository) WalletByID(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, forUpdate bool) (*models.Wallet, error) {
	return scanWallet(tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`+lockClause(forUpdate), walletID))
}

func (r *Repository) WalletByCode(ctx context.Context, tx pgx.Tx, code string, forUpdate bool) (*models.Wallet, error) {
	return scanWallet(tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE referral_code = $1`+lockClause(forUpdate), code))
}

// CreateWallet inserts a wallet. A concurrent creation for the same user is
// absorbed (the existing row is returned); a referral code collision surfaces
// as a unique violation so the caller can retry with a fresh code.
func (r *Repository) CreateWallet(ctx context.Context, tx pgx.Tx, userID uuid.UUID, code string) (*models.Wallet, error) {
	w, err := scanWallet(tx.QueryRow(ctx, `
		INSERT INTO wallets (user_id, referral_code) VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
		RETURNING `+walletColumns, userID, code))
	if errors.Is(err, ErrWalletNotFound) {
		return r.WalletByUser(ctx, tx, userID, false)
	}
	return w, err
}

func (r *Repository) InsertReferral(ctx context.Context, tx pgx.Tx, ref *models.Referral) (bool, error) {
	err := tx.QueryRow(ctx, `
		INSERT INTO referrals (referrer_user_id, referred_email, kiwify_order_id, status, credit_amount)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (kiwify_order_id) DO NOTHING
		RETURNING id, created_at
	`, ref.ReferrerUserID, ref.ReferredEmail, ref.KiwifyOrderID, ref.Status, ref.CreditAmount).Scan(&ref.ID, &ref.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// AdjustBalance applies delta and returns the new balance. A debit that would
// take the balance below zero matches no row and yields ErrInsufficientFunds.
func (r *Repository) AdjustBalance(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := tx.QueryRow(ctx, `
		UPDATE wallets SET balance = balance + $2, updated_at = now()
		WHERE id = $1 AND balance + $2 >= 0
		RETURNING balance
	`, walletID, delta).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, ErrInsufficientFunds
	}
	return balance, err
}

func (r *Repository) InsertTransaction(ctx context.Context, tx pgx.Tx, t *models.WalletTransaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO wallet_transactions (wallet_id, user_id, amount, type, description, referral_id, order_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`, t.WalletID, t.UserID, t.Amount, t.Type, t.Description, t.ReferralID, t.OrderID).Scan(&t.ID, &t.CreatedAt)
}

func (r *Repository) HasTransactionsSince(ctx context.Context, tx pgx.Tx, walletID uuid.UUID, since time.Time) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM wallet_transactions WHERE wallet_id = $1 AND created_at > $2)
	`, walletID, since).Scan(&exists)
	return exists, err
}

// ListExpirable returns wallets with a positive balance untouched since cutoff.
func (r *Repository) ListExpirable(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id FROM wallets WHERE balance > 0 AND updated_at < $1 ORDER BY updated_at
	`, cutoff)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *Repository) ListTransactions(ctx context.Context, userID uuid.UUID, limit int) ([]*models.WalletTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, wallet_id, user_id, amount, type, description, referral_id, order_id, created_at
		FROM wallet_transactions WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.WalletTransaction
	for rows.Next() {
		var t models.WalletTransaction
		if err := rows.Scan(&t.ID, &t.WalletID, &t.UserID, &t.Amount, &t.Type, &t.Description, &t.ReferralID, &t.OrderID, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}

// NotifyChange queues a notification delivered when tx commits.
func (r *Repository) NotifyChange(ctx context.Context, tx pgx.Tx, userID uuid.UUID) error {
	_, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, ChangesChannel, userID.String())
	return err
}
