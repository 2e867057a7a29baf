package models

import (
	"time"

	"github.com/google/uuid"
)

type PushSubscription struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	P256dh    string    `json:"p256dh"`
	Auth      string    `json:"auth"`
	UserAgent string    `json:"user_agent,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type NotificationSettings struct {
	UserID            uuid.UUID `json:"user_id"`
	MilestonesEnabled bool      `json:"milestones_enabled"`
	WaterEnabled      bool      `json:"water_enabled"`
	WaterHours        []int32   `json:"water_hours"`
	CapsuleEnabled    bool      `json:"capsule_enabled"`
	CapsuleHour       int32     `json:"capsule_hour"`
}

// Sent notification kinds, used with a dedup key to claim a send exactly once.
const (
	NotificationMilestone = "milestone"
	NotificationWater     = "water_reminder"
	NotificationCapsule   = "capsule_reminder"
)
