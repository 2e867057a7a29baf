package models

import (
	"time"

	"github.com/google/uuid"
)

// Completion kinds map to the completed_* tables.
const (
	CompletionExercise = "exercise"
	CompletionRecipe   = "recipe"
	CompletionDetox    = "detox"
)

type PointsAccount struct {
	UserID      uuid.UUID `json:"user_id"`
	Balance     int       `json:"balance"`
	TotalEarned int       `json:"total_earned"`
}

type PointsEntry struct {
	ID          uuid.UUID `json:"id"`
	UserID      uuid.UUID `json:"user_id"`
	Amount      int       `json:"amount"`
	Source      string    `json:"source"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

type Reward struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Cost        int       `json:"cost"`
	Active      bool      `json:"active"`
}

type RedeemedReward struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	RewardID  uuid.UUID `json:"reward_id"`
	Cost      int       `json:"cost"`
	CreatedAt time.Time `json:"created_at"`
}

type ContentItem struct {
	ID            string   `json:"id"`
	Kind          string   `json:"kind"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	IMCCategories []string `json:"imc_categories"`
}
