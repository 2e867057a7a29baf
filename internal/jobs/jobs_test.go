package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidaleve/backend/internal/config"
	"github.com/vidaleve/backend/internal/database/dbtest"
	"github.com/vidaleve/backend/internal/ledger"
	"github.com/vidaleve/backend/internal/notify"
)

type fakeDeliverer struct {
	err error
	got []notify.Delivery
}

func (f *fakeDeliverer) Deliver(_ context.Context, d notify.Delivery) error {
	f.got = append(f.got, d)
	return f.err
}

func pushJob(d notify.Delivery) *river.Job[SendPushArgs] {
	return &river.Job[SendPushArgs]{JobRow: &rivertype.JobRow{ID: 1}, Args: SendPushArgs{Delivery: d}}
}

func TestSendPushWorker(t *testing.T) {
	f := &fakeDeliverer{}
	w := NewSendPushWorker(f)
	d := notify.Delivery{Endpoint: "https://push.example.com/1"}

	require.NoError(t, w.Work(context.Background(), pushJob(d)))
	assert.Equal(t, []notify.Delivery{d}, f.got)

	transient := errors.New("503 from push service")
	f.err = transient
	assert.ErrorIs(t, w.Work(context.Background(), pushJob(d)), transient)

	f.err = errors.Join(notify.ErrUndeliverable, errors.New("bad keys"))
	err := w.Work(context.Background(), pushJob(d))
	assert.ErrorIs(t, err, notify.ErrUndeliverable, "cancelled job keeps the cause")
}

func TestSendPushArgs_InsertOpts(t *testing.T) {
	assert.Equal(t, "send_push", SendPushArgs{}.Kind())
	assert.Equal(t, QueuePush, SendPushArgs{}.InsertOpts().Queue)
}

type fakeExpirer struct{ calls int }

func (f *fakeExpirer) ExpireInactive(context.Context) (*ledger.ExpireResult, error) {
	f.calls++
	return &ledger.ExpireResult{ExpiredCount: 2}, nil
}

func TestExpireWalletCreditsWorker(t *testing.T) {
	f := &fakeExpirer{}
	w := NewExpireWalletCreditsWorker(f, discardLogger())
	job := &river.Job[ExpireWalletCreditsArgs]{JobRow: &rivertype.JobRow{ID: 7}}
	require.NoError(t, w.Work(context.Background(), job))
	assert.Equal(t, 1, f.calls)
}

type fakeScheduler struct{ milestones, reminders int }

func (f *fakeScheduler) ScanMilestones(context.Context) (*notify.RunResult, error) {
	f.milestones++
	return &notify.RunResult{}, nil
}

func (f *fakeScheduler) SendHabitReminders(context.Context) (*notify.RunResult, error) {
	f.reminders++
	return &notify.RunResult{}, nil
}

func TestScanWorkers(t *testing.T) {
	f := &fakeScheduler{}
	require.NoError(t, NewMilestoneScanWorker(f).Work(context.Background(), &river.Job[MilestoneScanArgs]{JobRow: &rivertype.JobRow{}}))
	require.NoError(t, NewHabitRemindersWorker(f).Work(context.Background(), &river.Job[HabitRemindersArgs]{JobRow: &rivertype.JobRow{}}))
	assert.Equal(t, 1, f.milestones)
	assert.Equal(t, 1, f.reminders)
}

func TestEnqueuer(t *testing.T) {
	e := NewEnqueuer()
	err := e.EnqueueTx(context.Background(), dbtest.NoopTx{}, []notify.Delivery{{}})
	assert.ErrorIs(t, err, errNotBound)

	var captured []river.InsertManyParams
	e.BindFunc(func(_ context.Context, _ pgx.Tx, p []river.InsertManyParams) error {
		captured = append(captured, p...)
		return nil
	})
	require.NoError(t, e.EnqueueTx(context.Background(), dbtest.NoopTx{}, nil))
	assert.Empty(t, captured)

	ds := []notify.Delivery{{Endpoint: "a"}, {Endpoint: "b"}}
	require.NoError(t, e.EnqueueTx(context.Background(), dbtest.NoopTx{}, ds))
	require.Len(t, captured, 2)
	assert.Equal(t, "b", captured[1].Args.(SendPushArgs).Endpoint)
}

func TestPeriodicJobs(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	jobs, err := PeriodicJobs(config.Defaults().Schedule, loc)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)

	sched, err := parseSchedule("0 9 * * *", loc)
	require.NoError(t, err)
	next := sched.Next(time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, 12, next.UTC().Hour(), "09:00 in São Paulo is 12:00 UTC")

	_, err = PeriodicJobs(config.Schedule{MilestoneScan: "not a cron"}, loc)
	assert.Error(t, err)

	jobs, err = PeriodicJobs(config.Schedule{HabitReminders: "0 * * * *"}, nil)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
