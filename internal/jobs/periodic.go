package jobs

import (
	"fmt"
	"strings"
	"time"

	"github.com/riverqueue/river"
	"github.com/robfig/cron/v3"

	"github.com/vidaleve/backend/internal/config"
)

// PeriodicJobs turns the configured cron expressions into River periodic
// jobs. Expressions without a CRON_TZ prefix are read in loc.
func PeriodicJobs(s config.Schedule, loc *time.Location) ([]*river.PeriodicJob, error) {
	entries := []struct {
		name string
		spec string
		args func() river.JobArgs
	}{
		{"expire_wallet_credits", s.ExpireWalletCredits, func() river.JobArgs { return ExpireWalletCreditsArgs{} }},
		{"milestone_scan", s.MilestoneScan, func() river.JobArgs { return MilestoneScanArgs{} }},
		{"habit_reminders", s.HabitReminders, func() river.JobArgs { return HabitRemindersArgs{} }},
	}
	var out []*river.PeriodicJob
	for _, e := range entries {
		if strings.TrimSpace(e.spec) == "" {
			continue
		}
		sched, err := parseSchedule(e.spec, loc)
		if err != nil {
			return nil, fmt.Errorf("schedule %s: %w", e.name, err)
		}
		args := e.args
		out = append(out, river.NewPeriodicJob(sched, func() (river.JobArgs, *river.InsertOpts) {
			return args(), nil
		}, nil))
	}
	return out, nil
}

func parseSchedule(spec string, loc *time.Location) (cron.Schedule, error) {
	if loc != nil && !strings.HasPrefix(spec, "CRON_TZ=") && !strings.HasPrefix(spec, "TZ=") {
		spec = "CRON_TZ=" + loc.String() + " " + spec
	}
	return cron.ParseStandard(spec)
}
