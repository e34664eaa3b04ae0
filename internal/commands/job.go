package commands

import (
	"github.com/spf13/cobra"

	"github.com/finpal/reengage/internal/analytics"
	"github.com/finpal/reengage/internal/app"
	"github.com/finpal/reengage/internal/clock"
	"github.com/finpal/reengage/internal/engine"
	"github.com/finpal/reengage/internal/optout"
	"github.com/finpal/reengage/internal/output"
	"github.com/finpal/reengage/internal/queue"
	"github.com/finpal/reengage/internal/scheduler"
)

// NewJobCmd groups operator entry points for the daily batch driver (C6).
func NewJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Run the daily re-engagement batch job",
	}
	cmd.AddCommand(newJobRunCmd())
	return cmd
}

func newJobRunCmd() *cobra.Command {
	var concurrency int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one pass of the inactivity, goodbye-timeout, and reminder sweeps, then drain the queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			var result any
			err := withDB(func(db *DB) error {
				cfg := app.EffectiveEngagementConfig()
				var c clock.Clock = clock.System{}

				e := &engine.Engine{
					DB:        db,
					Clock:     c,
					OptOut:    optout.SQLiteSource{DB: db},
					Analytics: analytics.NewLoggingSink(nil),
					Config:    cfg,
				}
				driver := &scheduler.Driver{
					Engine:      e,
					OptOut:      e.OptOut,
					Sender:      queue.LoggingSender{DB: db, MaxRetries: cfg.MaxMessageRetries},
					Clock:       c,
					Config:      cfg,
					Concurrency: concurrency,
				}
				result = driver.RunDailyJob(cmd.Context())
				return nil
			})
			if err != nil {
				return err
			}
			return output.PrintSuccess(result)
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 8, "per-phase worker cap")
	return cmd
}
