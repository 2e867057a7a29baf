package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Kit sizes in pots. Each pot covers 30 days of treatment.
const (
	KitOnePot    = 1
	KitThreePots = 3
	KitFivePots  = 5
)

const DefaultWaterGoalML = 2000

type Profile struct {
	ID                 uuid.UUID        `json:"id"`
	Email              string           `json:"email"`
	FullName           string           `json:"full_name"`
	Role               string           `json:"role"`
	Approved           bool             `json:"approved"`
	TreatmentStartDate *time.Time       `json:"treatment_start_date,omitempty"`
	KitType            *int             `json:"kit_type,omitempty"`
	HeightCM           *decimal.Decimal `json:"height_cm,omitempty"`
	WeightKG           *decimal.Decimal `json:"weight_kg,omitempty"`
	WaterGoalML        int              `json:"water_goal_ml"`
	CreatedAt          time.Time        `json:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at"`
}

func (p *Profile) IsAdmin() bool { return p != nil && p.Role == RoleAdmin }

// TreatmentDays returns the treatment length for a kit, or 0 for an unknown kit.
func TreatmentDays(kitType int) int {
	switch kitType {
	case KitOnePot, KitThreePots, KitFivePots:
		return kitType * 30
	default:
		return 0
	}
}
