package commands

import (
	"github.com/spf13/cobra"

	"github.com/finpal/reengage/internal/app"
	"github.com/finpal/reengage/internal/output"
	"github.com/finpal/reengage/internal/store"
)

func NewDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check configuration, database connectivity, and schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, dbSource, err := app.ResolveDBPathDetailed()
			if err != nil {
				return cmdErr(err)
			}

			var (
				dbOK          bool
				dbErr         string
				schemaVersion int64
				schemaLatest  int64
			)

			db, err := store.InitDBWithPath(dbPath)
			if err != nil {
				dbOK = false
				dbErr = err.Error()
			} else {
				dbOK = true
				defer db.Close()
				if current, latest, verErr := store.SchemaVersion(db); verErr == nil {
					schemaVersion, schemaLatest = current, latest
				} else {
					dbErr = verErr.Error()
				}
			}

			cfg := app.EffectiveEngagementConfig()

			type resp struct {
				DBPath              string `json:"db_path"`
				DBSource            string `json:"db_source"`
				DBOK                bool   `json:"db_ok"`
				DBErr               string `json:"db_error,omitempty"`
				SchemaVersion       int64  `json:"schema_version"`
				SchemaLatest        int64  `json:"schema_latest"`
				InactivityThreshold string `json:"inactivity_threshold"`
				GoodbyeTimeout      string `json:"goodbye_timeout"`
				RemindLater         string `json:"remind_later"`
				Hint                string `json:"hint,omitempty"`
			}
			hint := ""
			if !dbOK {
				hint = "If this is running in a sandboxed environment, set db_path to a writable location or use --db-path."
			} else if schemaVersion < schemaLatest {
				hint = "pending migrations: run 'reengage upgrade' to apply them"
			}
			return output.PrintSuccess(resp{
				DBPath:              dbPath,
				DBSource:            dbSource,
				DBOK:                dbOK,
				DBErr:               dbErr,
				SchemaVersion:       schemaVersion,
				SchemaLatest:        schemaLatest,
				InactivityThreshold: cfg.InactivityThreshold.String(),
				GoodbyeTimeout:      cfg.GoodbyeTimeout.String(),
				RemindLater:         cfg.RemindLater.String(),
				Hint:                hint,
			})
		},
	}
	return cmd
}
