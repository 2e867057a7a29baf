package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vidaleve/backend/internal/models"
)

type ProfileRepo struct {
	pool *pgxpool.Pool
}

func NewProfileRepo(pool *pgxpool.Pool) *ProfileRepo {
	return &ProfileRepo{pool: pool}
}

const profileColumns = `id, email, full_name, role, approved, treatment_start_date, kit_type,
	height_cm, weight_kg, water_goal_ml, created_at, updated_at`

func scanProfile(row pgx.Row) (*models.Profile, error) {
	var p models.Profile
	err := row.Scan(&p.ID, &p.Email, &p.FullName, &p.Role, &p.Approved, &p.TreatmentStartDate, &p.KitType,
		&p.HeightCM, &p.WeightKG, &p.WaterGoalML, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

// Ensure creates the profile row for an authenticated user on first contact.
func (r *ProfileRepo) Ensure(ctx context.Context, id uuid.UUID, email string) (*models.Profile, error) {
	return scanProfile(r.pool.QueryRow(ctx, `
		INSERT INTO profiles (id, email) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET email = CASE WHEN profiles.email = '' THEN EXCLUDED.email ELSE profiles.email END
		RETURNING `+profileColumns, id, email))
}

func (r *ProfileRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	return scanProfile(r.pool.QueryRow(ctx, `SELECT `+profileColumns+` FROM profiles WHERE id = $1`, id))
}

// ProfileUpdate carries self-service changes; nil fields are left untouched.
type ProfileUpdate struct {
	FullName           *string
	TreatmentStartDate *time.Time
	KitType            *int
	HeightCM           *decimal.Decimal
	WeightKG           *decimal.Decimal
	WaterGoalML        *int
}

func (r *ProfileRepo) Update(ctx context.Context, id uuid.UUID, u ProfileUpdate) (*models.Profile, error) {
	return scanProfile(r.pool.QueryRow(ctx, `
		UPDATE profiles SET
			full_name = COALESCE($2, full_name),
			treatment_start_date = COALESCE($3, treatment_start_date),
			kit_type = COALESCE($4, kit_type),
			height_cm = COALESCE($5, height_cm),
			weight_kg = COALESCE($6, weight_kg),
			water_goal_ml = COALESCE($7, water_goal_ml),
			updated_at = now()
		WHERE id = $1
		RETURNING `+profileColumns, id, u.FullName, u.TreatmentStartDate, u.KitType, u.HeightCM, u.WeightKG, u.WaterGoalML))
}

// Approve marks a profile as approved by an admin.
func (r *ProfileRepo) Approve(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	return scanProfile(r.pool.QueryRow(ctx, `
		UPDATE profiles SET approved = TRUE, updated_at = now() WHERE id = $1
		RETURNING `+profileColumns, id))
}
