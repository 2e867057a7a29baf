package habits

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vidaleve/backend/internal/models"
	"github.com/vidaleve/backend/internal/progress"
)

// Store is the persistence surface for habit tracking and points.
type Store interface {
	MarkCapsule(ctx context.Context, userID uuid.UUID, day time.Time) (inserted bool, err error)
	AddWater(ctx context.Context, userID uuid.UUID, day time.Time, amountML int) (totalML int, err error)
	Complete(ctx context.Context, tx pgx.Tx, userID uuid.UUID, kind, itemID string) (inserted bool, err error)
	AwardPoints(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, source, description string) (awarded bool, err error)
	Counts(ctx context.Context, userID uuid.UUID, waterGoalML int) (progress.Counts, error)
	Points(ctx context.Context, userID uuid.UUID) (*models.PointsAccount, error)
	PointsHistory(ctx context.Context, userID uuid.UUID, limit int) ([]*models.PointsEntry, error)
	ActiveRewards(ctx context.Context) ([]*models.Reward, error)
	RewardByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Reward, error)
	DeductPoints(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int) (balance int, err error)
	InsertRedemption(ctx context.Context, tx pgx.Tx, r *models.RedeemedReward) error
	Content(ctx context.Context, kind, category string) ([]*models.ContentItem, error)
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

// completionTables maps a completion kind to its table. Only these names are
// ever interpolated into SQL.
var completionTables = map[string]string{
	models.CompletionExercise: "completed_exercises",
	models.CompletionRecipe:   "completed_recipes",
	models.CompletionDetox:    "completed_detox",
}

func (r *Repository) MarkCapsule(ctx context.Context, userID uuid.UUID, day time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO capsule_intakes (user_id, taken_on) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, userID, day)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) AddWater(ctx context.Context, userID uuid.UUID, day time.Time, amountML int) (int, error) {
	var total int
	err := r.pool.QueryRow(ctx, `
		WITH ins AS (
			INSERT INTO water_intakes (user_id, logged_on, amount_ml) VALUES ($1, $2, $3)
			RETURNING amount_ml
		)
		SELECT COALESCE((SELECT sum(amount_ml) FROM water_intakes WHERE user_id = $1 AND logged_on = $2), 0)
		     + (SELECT amount_ml FROM ins)
	`, userID, day, amountML).Scan(&total)
	return total, err
}

func (r *Repository) Complete(ctx context.Context, tx pgx.Tx, userID uuid.UUID, kind, itemID string) (bool, error) {
	table, ok := completionTables[kind]
	if !ok {
		return false, ErrUnknownKind
	}
	tag, err := tx.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (user_id, item_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, table), userID, itemID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// AwardPoints credits points once per (user, source).
func (r *Repository) AwardPoints(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int, source, description string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO points_history (user_id, amount, source, description) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, source) DO NOTHING
	`, userID, amount, source, description)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO user_points (user_id, balance, total_earned) VALUES ($1, $2, $2)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = user_points.balance + $2,
		    total_earned = user_points.total_earned + $2,
		    updated_at = now()
	`, userID, amount)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *Repository) Counts(ctx context.Context, userID uuid.UUID, waterGoalML int) (progress.Counts, error) {
	var c progress.Counts
	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM capsule_intakes WHERE user_id = $1),
			(SELECT count(*) FROM (
				SELECT logged_on FROM water_intakes WHERE user_id = $1
				GROUP BY logged_on HAVING sum(amount_ml) >= $2
			) goal_days),
			(SELECT count(*) FROM completed_exercises WHERE user_id = $1),
			(SELECT count(*) FROM completed_recipes WHERE user_id = $1),
			(SELECT count(*) FROM completed_detox WHERE user_id = $1)
	`, userID, waterGoalML).Scan(&c.CapsuleDays, &c.WaterGoalDays, &c.Exercises, &c.Recipes, &c.Detox)
	return c, err
}

func (r *Repository) Points(ctx context.Context, userID uuid.UUID) (*models.PointsAccount, error) {
	acct := &models.PointsAccount{UserID: userID}
	err := r.pool.QueryRow(ctx, `
		SELECT balance, total_earned FROM user_points WHERE user_id = $1
	`, userID).Scan(&acct.Balance, &acct.TotalEarned)
	if errors.Is(err, pgx.ErrNoRows) {
		return acct, nil
	}
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func (r *Repository) PointsHistory(ctx context.Context, userID uuid.UUID, limit int) ([]*models.PointsEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, amount, source, description, created_at
		FROM points_history WHERE user_id = $1
		ORDER BY created_at DESC LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToAddrOfStructByPos[models.PointsEntry])
}

func (r *Repository) ActiveRewards(ctx context.Context) ([]*models.Reward, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, title, description, cost, active FROM rewards WHERE active ORDER BY cost
	`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToAddrOfStructByPos[models.Reward])
}

func (r *Repository) RewardByID(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Reward, error) {
	var rw models.Reward
	err := tx.QueryRow(ctx, `
		SELECT id, title, description, cost, active FROM rewards WHERE id = $1
	`, id).Scan(&rw.ID, &rw.Title, &rw.Description, &rw.Cost, &rw.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRewardNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rw, nil
}

// DeductPoints spends amount points. The conditional update serialises
// concurrent redemptions on the user_points row.
func (r *Repository) DeductPoints(ctx context.Context, tx pgx.Tx, userID uuid.UUID, amount int) (int, error) {
	var balance int
	err := tx.QueryRow(ctx, `
		UPDATE user_points SET balance = balance - $2, updated_at = now()
		WHERE user_id = $1 AND balance >= $2
		RETURNING balance
	`, userID, amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrInsufficientPoints
	}
	return balance, err
}

func (r *Repository) InsertRedemption(ctx context.Context, tx pgx.Tx, rr *models.RedeemedReward) error {
	return tx.QueryRow(ctx, `
		INSERT INTO redeemed_rewards (user_id, reward_id, cost) VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, rr.UserID, rr.RewardID, rr.Cost).Scan(&rr.ID, &rr.CreatedAt)
}

// Content lists items of kind tagged for category; an empty kind matches all kinds.
func (r *Repository) Content(ctx context.Context, kind, category string) ([]*models.ContentItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, kind, title, description, imc_categories
		FROM content_items
		WHERE ($1 = '' OR kind = $1) AND $2 = ANY(imc_categories)
		ORDER BY kind, title
	`, kind, category)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToAddrOfStructByPos[models.ContentItem])
}
