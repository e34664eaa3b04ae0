// Package scheduler implements the daily batch driver (C6): four serial
// phases — three cohort sweeps with bounded per-user concurrency, then a
// queue-drain phase that invokes the external sender.
package scheduler

import (
	"context"
	"log/slog"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/finpal/reengage/internal/app"
	"github.com/finpal/reengage/internal/clock"
	"github.com/finpal/reengage/internal/engine"
	"github.com/finpal/reengage/internal/models"
	"github.com/finpal/reengage/internal/optout"
	"github.com/finpal/reengage/internal/queue"
	"github.com/finpal/reengage/internal/store"
)

// Driver runs RunDailyJob. It holds no mutable state across calls; each
// invocation is independent.
type Driver struct {
	Engine         *engine.Engine
	OptOut         optout.Source
	Sender         queue.Sender
	Clock          clock.Clock
	Config         app.EngagementConfig
	Concurrency    int // per-phase worker cap; defaults to 8 when <= 0
	CohortPageSize int // cohort page size; defaults to 500 when <= 0
}

type phaseCounters struct {
	Processed int
	Succeeded int
	Failed    int
	Skipped   int
	Errors    []models.DriverError
}

// RunDailyJob runs the inactivity, goodbye-timeout, and due-reminder
// sweeps, followed by a queue-drain phase, aggregated into one
// DriverResult. A failure processing one user never aborts the phase or
// the job.
func (d *Driver) RunDailyJob(ctx context.Context) models.DriverResult {
	start := d.Clock.Now()

	inactivity := d.runInactivitySweep(ctx)
	timeout := d.runGoodbyeTimeoutSweep(ctx)
	reminder := d.runReminderSweep(ctx)
	d.runQueueDrain(ctx)

	result := models.DriverResult{}
	for _, c := range []phaseCounters{inactivity, timeout, reminder} {
		result.Processed += c.Processed
		result.Succeeded += c.Succeeded
		result.Failed += c.Failed
		result.Skipped += c.Skipped
		result.Errors = append(result.Errors, c.Errors...)
	}
	result.DurationMs = d.Clock.Now().Sub(start).Milliseconds()
	return result
}

func (d *Driver) concurrency() int {
	if d.Concurrency <= 0 {
		return 8
	}
	return d.Concurrency
}

func (d *Driver) pageSize() int {
	if d.CohortPageSize <= 0 {
		return 500
	}
	return d.CohortPageSize
}

// runInactivitySweep implements phase 1: opt-out is consulted; an opted-out
// user is skipped and left in active, never transitioned.
func (d *Driver) runInactivitySweep(ctx context.Context) phaseCounters {
	cutoff := d.Clock.Now().Add(-d.Config.InactivityThreshold)
	return d.sweep(ctx, "inactivity_sweep", func(afterUserID string) ([]string, error) {
		return store.InactiveCohort(ctx, d.Engine.DB, cutoff, afterUserID, d.pageSize())
	}, func(ctx context.Context, userID string) (skipped bool, err error) {
		profile, err := d.OptOut.GetProfile(ctx, userID)
		if err != nil {
			return false, err
		}
		if profile.ReengagementOptOut {
			return true, nil
		}
		result := d.Engine.Transition(ctx, userID, models.TriggerInactivity14d, nil)
		if !result.Success {
			return false, result.Error
		}
		return false, nil
	})
}

// runGoodbyeTimeoutSweep implements phase 2: opt-out is never consulted —
// a timed-out goodbye transitions to dormant silently regardless.
func (d *Driver) runGoodbyeTimeoutSweep(ctx context.Context) phaseCounters {
	now := d.Clock.Now()
	return d.sweep(ctx, "goodbye_timeout_sweep", func(afterUserID string) ([]string, error) {
		return store.ExpiredGoodbyeCohort(ctx, d.Engine.DB, now, afterUserID, d.pageSize())
	}, func(ctx context.Context, userID string) (bool, error) {
		result := d.Engine.Transition(ctx, userID, models.TriggerGoodbyeTimeout, nil)
		if !result.Success {
			return false, result.Error
		}
		return false, nil
	})
}

// runReminderSweep implements phase 3.
func (d *Driver) runReminderSweep(ctx context.Context) phaseCounters {
	now := d.Clock.Now()
	return d.sweep(ctx, "reminder_sweep", func(afterUserID string) ([]string, error) {
		return store.DueReminderCohort(ctx, d.Engine.DB, now, afterUserID, d.pageSize())
	}, func(ctx context.Context, userID string) (bool, error) {
		result := d.Engine.Transition(ctx, userID, models.TriggerReminderDue, nil)
		if !result.Success {
			return false, result.Error
		}
		return false, nil
	})
}

// runQueueDrain implements phase 4: a failing sender is logged and never
// fails the job.
func (d *Driver) runQueueDrain(ctx context.Context) {
	if d.Sender == nil {
		return
	}
	summary, err := d.Sender.Drain(ctx)
	if err != nil {
		slog.Default().Error("queue drain failed", "error", err)
		return
	}
	slog.Default().Info("queue drained", "processed", summary.Processed, "succeeded", summary.Succeeded, "failed", summary.Failed)
}

// cohortPage is the paged-read function each sweep supplies: given the last
// user_id seen, return the next page (empty slice signals exhaustion).
type cohortPage func(afterUserID string) ([]string, error)

// perUser processes one user and reports whether it was skipped (not an
// error); the returned error, if any, is recorded in the phase's errors
// list and counted as a failure, never aborting the sweep.
type perUser func(ctx context.Context, userID string) (skipped bool, err error)

func (d *Driver) sweep(ctx context.Context, phase string, page cohortPage, process perUser) phaseCounters {
	var counters phaseCounters
	var aggErr error

	afterUserID := ""
	for {
		batch, err := page(afterUserID)
		if err != nil {
			slog.Default().Error("cohort read failed", "phase", phase, "error", err)
			aggErr = multierr.Append(aggErr, err)
			break
		}
		if len(batch) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(d.concurrency())
		results := make([]struct {
			skipped bool
			err     error
		}, len(batch))

		for i, userID := range batch {
			i, userID := i, userID
			g.Go(func() error {
				results[i] = runIsolated(gctx, userID, process)
				return nil
			})
		}
		_ = g.Wait() // workers never return an error; this cannot fail

		for i, userID := range batch {
			r := results[i]
			switch {
			case r.err != nil:
				counters.Processed++
				counters.Failed++
				counters.Errors = append(counters.Errors, models.DriverError{UserID: userID, Phase: phase, Error: r.err.Error()})
				aggErr = multierr.Append(aggErr, r.err)
			case r.skipped:
				counters.Skipped++
			default:
				counters.Processed++
				counters.Succeeded++
			}
		}

		afterUserID = batch[len(batch)-1]
		if len(batch) < d.pageSize() {
			break
		}
	}

	if aggErr != nil {
		slog.Default().Warn("phase completed with errors", "phase", phase, "errors", aggErr)
	}
	return counters
}

// runIsolated recovers a panic from process so one user's failure can
// never abort the phase.
func runIsolated(ctx context.Context, userID string, process perUser) (result struct {
	skipped bool
	err     error
}) {
	defer func() {
		if r := recover(); r != nil {
			result.err = panicAsError(r)
		}
	}()
	result.skipped, result.err = process(ctx, userID)
	return result
}

func panicAsError(r any) error {
	return &panicError{recovered: r}
}

type panicError struct {
	recovered any
}

func (e *panicError) Error() string {
	return "panic: " + toString(e.recovered)
}

func toString(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return "unrecognized panic value"
}
