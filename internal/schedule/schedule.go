// Package schedule repeats captures on a cron schedule.
package schedule

import (
	"context"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
	"golang.org/x/xerrors"
)

// Parse accepts the standard five-field cron format.
func Parse(spec string) (cron.Schedule, error) {
	schedule, err := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow).Parse(spec)
	if err != nil {
		return nil, xerrors.Errorf("failed to parse schedule %q: %w", spec, err)
	}
	return schedule, nil
}

type Job func(ctx context.Context, tick time.Time) error

type Runner struct {
	Schedule cron.Schedule
	Logger   logr.Logger
}

func NewRunner(schedule cron.Schedule, logger logr.Logger) *Runner {
	return &Runner{
		Schedule: schedule,
		Logger:   logger,
	}
}

// Run calls job at every activation until ctx is done. Runs never overlap:
// activations that fall while a job is running are dropped. A failed job is
// logged and the schedule continues.
func (r *Runner) Run(ctx context.Context, job Job) error {
	now := time.Now()
	for {
		next := r.Schedule.Next(now)
		if next.IsZero() {
			return xerrors.New("schedule has no further activations")
		}

		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		r.Logger.Info("Starting scheduled capture", "tick", next)
		if err := job(ctx, next); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			r.Logger.Error(err, "Scheduled capture failed", "tick", next)
		}

		now = time.Now()
		if skipped := r.missed(next, now); skipped > 0 {
			r.Logger.Info("Skipped overlapping activations", "count", skipped)
		}
	}
}

func (r *Runner) missed(from time.Time, to time.Time) int {
	count := 0
	for t := r.Schedule.Next(from); !t.IsZero() && !t.After(to); t = r.Schedule.Next(t) {
		count++
	}
	return count
}
