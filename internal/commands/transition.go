package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/finpal/reengage/internal/analytics"
	"github.com/finpal/reengage/internal/app"
	"github.com/finpal/reengage/internal/clock"
	"github.com/finpal/reengage/internal/engine"
	"github.com/finpal/reengage/internal/models"
	"github.com/finpal/reengage/internal/optout"
	"github.com/finpal/reengage/internal/output"
)

// NewTransitionCmd drives the transition engine directly for one user — an
// operator escape hatch for replaying a trigger that a scheduled sweep
// missed, or for exercising the state graph against a live database.
func NewTransitionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transition <user-id> <trigger>",
		Short: "Fire one trigger against a user's engagement state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, trigger := args[0], models.Trigger(args[1])

			var result engine.Result
			err := withDB(func(db *DB) error {
				cfg := app.EffectiveEngagementConfig()
				e := &engine.Engine{
					DB:        db,
					Clock:     clock.System{},
					OptOut:    optout.SQLiteSource{DB: db},
					Analytics: analytics.NewLoggingSink(nil),
					Config:    cfg,
				}
				result = e.Transition(cmd.Context(), userID, trigger, nil)
				if !result.Success {
					return fmt.Errorf("transition rejected: %w", result.Error)
				}
				return nil
			})
			if err != nil {
				return err
			}
			return output.PrintSuccess(result)
		},
	}
	cmd.Annotations = map[string]string{"mutates": "true"}
	return cmd
}
