package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/riverqueue/river"

	"github.com/vidaleve/backend/internal/ledger"
	"github.com/vidaleve/backend/internal/notify"
)

// Deliverer pushes a single queued notification.
type Deliverer interface {
	Deliver(ctx context.Context, d notify.Delivery) error
}

type SendPushWorker struct {
	river.WorkerDefaults[SendPushArgs]
	deliverer Deliverer
}

func NewSendPushWorker(d Deliverer) *SendPushWorker {
	return &SendPushWorker{deliverer: d}
}

func (w *SendPushWorker) Timeout(*river.Job[SendPushArgs]) time.Duration { return 30 * time.Second }

// Work retries transient push service failures with River's backoff and
// cancels the job when a retry cannot help.
func (w *SendPushWorker) Work(ctx context.Context, job *river.Job[SendPushArgs]) error {
	err := w.deliverer.Deliver(ctx, job.Args.Delivery)
	if errors.Is(err, notify.ErrUndeliverable) {
		return river.JobCancel(err)
	}
	return err
}

type Expirer interface {
	ExpireInactive(ctx context.Context) (*ledger.ExpireResult, error)
}

type ExpireWalletCreditsWorker struct {
	river.WorkerDefaults[ExpireWalletCreditsArgs]
	ledger Expirer
	logger *slog.Logger
}

func NewExpireWalletCreditsWorker(l Expirer, logger *slog.Logger) *ExpireWalletCreditsWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpireWalletCreditsWorker{ledger: l, logger: logger}
}

func (w *ExpireWalletCreditsWorker) Timeout(*river.Job[ExpireWalletCreditsArgs]) time.Duration {
	return 10 * time.Minute
}

func (w *ExpireWalletCreditsWorker) Work(ctx context.Context, job *river.Job[ExpireWalletCreditsArgs]) error {
	res, err := w.ledger.ExpireInactive(ctx)
	if err != nil {
		return fmt.Errorf("expire wallet credits: %w", err)
	}
	w.logger.Info("expire_wallet_credits done", "job_id", job.ID,
		"expired_count", res.ExpiredCount, "total_expired_amount", res.TotalExpiredAmount)
	return nil
}

// Scheduler runs the notification scans.
type Scheduler interface {
	ScanMilestones(ctx context.Context) (*notify.RunResult, error)
	SendHabitReminders(ctx context.Context) (*notify.RunResult, error)
}

type MilestoneScanWorker struct {
	river.WorkerDefaults[MilestoneScanArgs]
	scheduler Scheduler
}

func NewMilestoneScanWorker(s Scheduler) *MilestoneScanWorker {
	return &MilestoneScanWorker{scheduler: s}
}

func (w *MilestoneScanWorker) Work(ctx context.Context, _ *river.Job[MilestoneScanArgs]) error {
	_, err := w.scheduler.ScanMilestones(ctx)
	return err
}

type HabitRemindersWorker struct {
	river.WorkerDefaults[HabitRemindersArgs]
	scheduler Scheduler
}

func NewHabitRemindersWorker(s Scheduler) *HabitRemindersWorker {
	return &HabitRemindersWorker{scheduler: s}
}

func (w *HabitRemindersWorker) Work(ctx context.Context, _ *river.Job[HabitRemindersArgs]) error {
	_, err := w.scheduler.SendHabitReminders(ctx)
	return err
}
