package commands

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/finpal/reengage/internal/app"
	"github.com/finpal/reengage/internal/output"
)

// Execute runs the ops CLI: the one concrete driven-side caller of the
// re-engagement core in this repo, for running the daily job, inspecting a
// user's state, replaying a trigger, and draining the message queue.
func Execute(version string) error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	root := &cobra.Command{
		Use:           "reengage",
		Short:         "Re-engagement state machine and scheduler operator CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			showVersion, _ := cmd.Flags().GetBool("version")
			if showVersion {
				type resp struct {
					Version string `json:"version"`
				}
				return output.PrintSuccess(resp{Version: version})
			}
			return cmd.Help()
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := app.EnsureConfigDir(); err != nil {
				return err
			}
			if dbPath, err := cmd.Flags().GetString("db-path"); err == nil && dbPath != "" {
				app.SetDBPathOverride(dbPath)
			}
			return nil
		},
	}

	root.PersistentFlags().String("db-path", "", "Override database path")
	root.Flags().BoolP("version", "v", false, "version for reengage")

	root.AddCommand(NewJobCmd())
	root.AddCommand(NewStateCmd())
	root.AddCommand(NewTransitionCmd())
	root.AddCommand(NewQueueCmd())
	root.AddCommand(NewDBCmd())
	root.AddCommand(NewDoctorCmd())
	root.AddCommand(NewUpgradeCmd())

	err := root.Execute()
	if err != nil {
		var pe printedError
		if !errors.As(err, &pe) {
			slog.Default().Error("command failed", "error", err.Error())
		}
	}
	return err
}
