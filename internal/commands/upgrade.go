package commands

import (
	"github.com/spf13/cobra"

	"github.com/finpal/reengage/internal/app"
	"github.com/finpal/reengage/internal/output"
	"github.com/finpal/reengage/internal/store"
)

// NewUpgradeCmd applies pending schema migrations. This binary is deployed
// as a built artifact (container image, systemd unit); the only upgrade
// step that belongs to the binary itself is bringing the schema current.
func NewUpgradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upgrade",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dbPath, err := app.GetDBPath()
			if err != nil {
				return cmdErr(err)
			}

			db, err := store.OpenDB(dbPath)
			if err != nil {
				return cmdErr(err)
			}
			defer func() { _ = store.CloseDB(db) }()

			before, latest, err := store.SchemaVersion(db)
			if err != nil {
				return cmdErr(err)
			}
			if err := store.MigrateDB(db, dbPath); err != nil {
				return cmdErr(err)
			}
			after, _, err := store.SchemaVersion(db)
			if err != nil {
				return cmdErr(err)
			}

			type resp struct {
				DBPath       string `json:"db_path"`
				SchemaBefore int64  `json:"schema_before"`
				SchemaAfter  int64  `json:"schema_after"`
				SchemaLatest int64  `json:"schema_latest"`
				Migrated     bool   `json:"migrated"`
			}
			return output.PrintSuccess(resp{
				DBPath:       dbPath,
				SchemaBefore: before,
				SchemaAfter:  after,
				SchemaLatest: latest,
				Migrated:     after > before,
			})
		},
	}
	cmd.Annotations = map[string]string{"mutates": "true"}
	return cmd
}
