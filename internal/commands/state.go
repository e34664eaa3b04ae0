package commands

import (
	"github.com/spf13/cobra"

	"github.com/finpal/reengage/internal/output"
	"github.com/finpal/reengage/internal/store"
)

// NewStateCmd groups read-only inspection of one user's engagement row.
func NewStateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect a user's engagement state",
	}
	cmd.AddCommand(newStateShowCmd())
	cmd.AddCommand(newStateHistoryCmd())
	return cmd
}

func newStateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Print one user's engagement row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := args[0]
			return withDB(func(db *DB) error {
				row, err := store.ReadRow(cmd.Context(), db, userID)
				if err != nil {
					return err
				}
				return output.PrintSuccess(row)
			})
		},
	}
}

func newStateHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <user-id>",
		Short: "Print a user's transition log, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := args[0]
			return withDB(func(db *DB) error {
				rows, err := store.TransitionHistory(cmd.Context(), db, userID, limit)
				if err != nil {
					return err
				}
				return output.PrintSuccess(rows)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows to return")
	return cmd
}
