package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vidaleve/backend/internal/models"
)

type PushRepo struct {
	pool *pgxpool.Pool
}

func NewPushRepo(pool *pgxpool.Pool) *PushRepo {
	return &PushRepo{pool: pool}
}

const pushColumns = `id, user_id, endpoint, p256dh, auth, user_agent, created_at, updated_at`

func scanPush(row pgx.Row) (*models.PushSubscription, error) {
	var s models.PushSubscription
	if err := row.Scan(&s.ID, &s.UserID, &s.Endpoint, &s.P256dh, &s.Auth, &s.UserAgent, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// Upsert stores a browser subscription. A re-subscribing browser keeps its endpoint
// row but may move to another user or rotate keys.
func (r *PushRepo) Upsert(ctx context.Context, s *models.PushSubscription) (*models.PushSubscription, error) {
	return scanPush(r.pool.QueryRow(ctx, `
		INSERT INTO push_subscriptions (user_id, endpoint, p256dh, auth, user_agent)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (endpoint) DO UPDATE SET
			user_id = EXCLUDED.user_id, p256dh = EXCLUDED.p256dh, auth = EXCLUDED.auth,
			user_agent = EXCLUDED.user_agent, updated_at = now()
		RETURNING `+pushColumns, s.UserID, s.Endpoint, s.P256dh, s.Auth, s.UserAgent))
}

// DeleteByEndpoint removes a subscription owned by userID.
func (r *PushRepo) DeleteByEndpoint(ctx context.Context, userID uuid.UUID, endpoint string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM push_subscriptions WHERE user_id = $1 AND endpoint = $2`, userID, endpoint)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteByID removes a subscription the push service reported as gone.
func (r *PushRepo) DeleteByID(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM push_subscriptions WHERE id = $1`, id)
	return err
}

func (r *PushRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]*models.PushSubscription, error) {
	return r.list(ctx, r.pool, `SELECT `+pushColumns+` FROM push_subscriptions WHERE user_id = $1 ORDER BY created_at`, userID)
}

// ListByUserTx reads subscriptions inside a transaction.
func (r *PushRepo) ListByUserTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) ([]*models.PushSubscription, error) {
	return r.list(ctx, tx, `SELECT `+pushColumns+` FROM push_subscriptions WHERE user_id = $1 ORDER BY created_at`, userID)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (r *PushRepo) list(ctx context.Context, q querier, sql string, args ...any) ([]*models.PushSubscription, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.PushSubscription
	for rows.Next() {
		s, err := scanPush(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}
