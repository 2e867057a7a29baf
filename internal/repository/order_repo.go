package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vidaleve/backend/internal/models"
)

type OrderRepo struct {
	pool *pgxpool.Pool
}

func NewOrderRepo(pool *pgxpool.Pool) *OrderRepo {
	return &OrderRepo{pool: pool}
}

const orderColumns = `id, user_id, product_title, items, total, wallet_amount, payment_method, status,
	external_id, affiliate_code, created_at, updated_at`

func scanOrder(row pgx.Row) (*models.Order, error) {
	var o models.Order
	err := row.Scan(&o.ID, &o.UserID, &o.ProductTitle, &o.Items, &o.Total, &o.WalletAmount, &o.PaymentMethod, &o.Status,
		&o.ExternalID, &o.AffiliateCode, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &o, nil
}

// CreateTx inserts an order inside the given transaction. ID and timestamps are filled in.
func (r *OrderRepo) CreateTx(ctx context.Context, tx pgx.Tx, o *models.Order) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return tx.QueryRow(ctx, `
		INSERT INTO orders (id, user_id, product_title, items, total, wallet_amount, payment_method, status, external_id, affiliate_code)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`, o.ID, o.UserID, o.ProductTitle, o.Items, o.Total, o.WalletAmount, o.PaymentMethod, o.Status, o.ExternalID, o.AffiliateCode).
		Scan(&o.CreatedAt, &o.UpdatedAt)
}

// TransitionByExternalIDTx moves a pending order to status and returns it.
// ErrNotFound means the order does not exist or has already left pending.
func (r *OrderRepo) TransitionByExternalIDTx(ctx context.Context, tx pgx.Tx, externalID, status string) (*models.Order, error) {
	return scanOrder(tx.QueryRow(ctx, `
		UPDATE orders SET status = $2, updated_at = now()
		WHERE external_id = $1 AND status = 'pending'
		RETURNING `+orderColumns, externalID, status))
}

func (r *OrderRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.Order, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	return list, rows.Err()
}
