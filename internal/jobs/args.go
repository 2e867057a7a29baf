// Package jobs runs background work on River: push deliveries enqueued
// transactionally by the notification scheduler, and the periodic scans.
package jobs

import (
	"time"

	"github.com/riverqueue/river"

	"github.com/vidaleve/backend/internal/notify"
)

const QueuePush = "push"

// SendPushArgs delivers one notification to one subscription.
type SendPushArgs struct {
	notify.Delivery
}

func (SendPushArgs) Kind() string { return "send_push" }

func (SendPushArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueuePush, MaxAttempts: 8}
}

type ExpireWalletCreditsArgs struct{}

func (ExpireWalletCreditsArgs) Kind() string { return "expire_wallet_credits" }

func (ExpireWalletCreditsArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 3, UniqueOpts: river.UniqueOpts{ByPeriod: time.Hour}}
}

type MilestoneScanArgs struct{}

func (MilestoneScanArgs) Kind() string { return "milestone_scan" }

func (MilestoneScanArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 3, UniqueOpts: river.UniqueOpts{ByPeriod: time.Hour}}
}

type HabitRemindersArgs struct{}

func (HabitRemindersArgs) Kind() string { return "habit_reminders" }

func (HabitRemindersArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{MaxAttempts: 2, UniqueOpts: river.UniqueOpts{ByPeriod: 30 * time.Minute}}
}
