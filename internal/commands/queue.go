package commands

import (
	"github.com/spf13/cobra"

	"github.com/finpal/reengage/internal/app"
	"github.com/finpal/reengage/internal/output"
	"github.com/finpal/reengage/internal/queue"
)

// NewQueueCmd groups operator entry points for the durable message queue (C4).
func NewQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and drain the outbound message queue",
	}
	cmd.AddCommand(newQueueDrainCmd())
	return cmd
}

func newQueueDrainCmd() *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Claim pending messages and attempt delivery",
		RunE: func(cmd *cobra.Command, args []string) error {
			var summary queue.DrainSummary
			err := withDB(func(db *DB) error {
				cfg := app.EffectiveEngagementConfig()
				sender := queue.LoggingSender{DB: db, MaxRetries: cfg.MaxMessageRetries, ClaimBatchSize: batchSize}
				var drainErr error
				summary, drainErr = sender.Drain(cmd.Context())
				return drainErr
			})
			if err != nil {
				return err
			}
			return output.PrintSuccess(summary)
		},
	}
	cmd.Annotations = map[string]string{"mutates": "true"}
	cmd.Flags().IntVar(&batchSize, "batch-size", 100, "maximum messages to claim per call")
	return cmd
}
