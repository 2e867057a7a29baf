package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vidaleve/backend/internal/models"
)

// Candidate is a profile in treatment with milestone notifications enabled.
type Candidate struct {
	UserID             uuid.UUID
	TreatmentStartDate time.Time
}

// ReminderTarget carries a user's reminder settings and today's habit state.
type ReminderTarget struct {
	Settings     models.NotificationSettings
	CapsuleTaken bool
	WaterTodayML int
	WaterGoalML  int
}

type Store interface {
	MilestoneCandidates(ctx context.Context) ([]Candidate, error)
	ReminderTargets(ctx context.Context, today time.Time) ([]ReminderTarget, error)
	UsersWithSubscriptions(ctx context.Context) ([]uuid.UUID, error)
	SubscriptionsTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) ([]*models.PushSubscription, error)
	Claim(ctx context.Context, tx pgx.Tx, userID uuid.UUID, kind, dedupKey string) (bool, error)
	DeleteSubscription(ctx context.Context, id uuid.UUID) error
	Settings(ctx context.Context, userID uuid.UUID) (*models.NotificationSettings, error)
	SaveSettings(ctx context.Context, s *models.NotificationSettings) error
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

func (r *Repository) MilestoneCandidates(ctx context.Context) ([]Candidate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.treatment_start_date
		FROM profiles p
		LEFT JOIN notification_settings ns ON ns.user_id = p.id
		WHERE p.treatment_start_date IS NOT NULL
		  AND COALESCE(ns.milestones_enabled, TRUE)
		ORDER BY p.id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.UserID, &c.TreatmentStartDate); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// ReminderTargets returns users with at least one push subscription, with
// defaults applied when they never saved settings.
func (r *Repository) ReminderTargets(ctx context.Context, today time.Time) ([]ReminderTarget, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id,
		       COALESCE(ns.water_enabled, TRUE),
		       COALESCE(ns.water_hours, '{9,12,15,18}'::INT[]),
		       COALESCE(ns.capsule_enabled, TRUE),
		       COALESCE(ns.capsule_hour, 8),
		       EXISTS (SELECT 1 FROM capsule_intakes ci WHERE ci.user_id = p.id AND ci.taken_on = $1),
		       COALESCE((SELECT SUM(wi.amount_ml) FROM water_intakes wi WHERE wi.user_id = p.id AND wi.logged_on = $1), 0),
		       p.water_goal_ml
		FROM profiles p
		LEFT JOIN notification_settings ns ON ns.user_id = p.id
		WHERE EXISTS (SELECT 1 FROM push_subscriptions ps WHERE ps.user_id = p.id)
		ORDER BY p.id
	`, today)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []ReminderTarget
	for rows.Next() {
		var t ReminderTarget
		s := &t.Settings
		if err := rows.Scan(&s.UserID, &s.WaterEnabled, &s.WaterHours, &s.CapsuleEnabled, &s.CapsuleHour,
			&t.CapsuleTaken, &t.WaterTodayML, &t.WaterGoalML); err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func (r *Repository) UsersWithSubscriptions(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT user_id FROM push_subscriptions ORDER BY user_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *Repository) SubscriptionsTx(ctx context.Context, tx pgx.Tx, userID uuid.UUID) ([]*models.PushSubscription, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, user_id, endpoint, p256dh, auth, user_agent, created_at, updated_at
		FROM push_subscriptions WHERE user_id = $1 ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.PushSubscription
	for rows.Next() {
		var s models.PushSubscription
		if err := rows.Scan(&s.ID, &s.UserID, &s.Endpoint, &s.P256dh, &s.Auth, &s.UserAgent, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &s)
	}
	return list, rows.Err()
}

// Claim records (user, kind, key) in the sent-notification ledger. It reports
// false when another run already claimed it.
func (r *Repository) Claim(ctx context.Context, tx pgx.Tx, userID uuid.UUID, kind, dedupKey string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO sent_notifications (user_id, kind, dedup_key) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, kind, dedup_key) DO NOTHING
	`, userID, kind, dedupKey)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) DeleteSubscription(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM push_subscriptions WHERE id = $1`, id)
	return err
}

func (r *Repository) Settings(ctx context.Context, userID uuid.UUID) (*models.NotificationSettings, error) {
	s := DefaultSettings(userID)
	err := r.pool.QueryRow(ctx, `
		SELECT milestones_enabled, water_enabled, water_hours, capsule_enabled, capsule_hour
		FROM notification_settings WHERE user_id = $1
	`, userID).Scan(&s.MilestonesEnabled, &s.WaterEnabled, &s.WaterHours, &s.CapsuleEnabled, &s.CapsuleHour)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *Repository) SaveSettings(ctx context.Context, s *models.NotificationSettings) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_settings (user_id, milestones_enabled, water_enabled, water_hours, capsule_enabled, capsule_hour)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id) DO UPDATE SET
			milestones_enabled = EXCLUDED.milestones_enabled,
			water_enabled = EXCLUDED.water_enabled,
			water_hours = EXCLUDED.water_hours,
			capsule_enabled = EXCLUDED.capsule_enabled,
			capsule_hour = EXCLUDED.capsule_hour,
			updated_at = now()
	`, s.UserID, s.MilestonesEnabled, s.WaterEnabled, s.WaterHours, s.CapsuleEnabled, s.CapsuleHour)
	return err
}

// DefaultSettings mirrors the column defaults of notification_settings.
func DefaultSettings(userID uuid.UUID) *models.NotificationSettings {
	return &models.NotificationSettings{
		UserID:            userID,
		MilestonesEnabled: true,
		WaterEnabled:      true,
		WaterHours:        []int32{9, 12, 15, 18},
		CapsuleEnabled:    true,
		CapsuleHour:       8,
	}
}
