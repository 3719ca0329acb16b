package cmd

import (
	"github.com/spf13/cobra"

	"dbaccel/internal/config"
)

var restoreCmd = &cobra.Command{
	Use:   "restore",
	Short: "Restore an .accel.dump archive into a target database",
	Long: `Restore unpacks the archive named by --file, rewrites its tokenised DDL
for the target --database, applies the schema, and bulk-loads every
table's shards through named pipes. With --accel-keys the schema is
applied in three stages (columns, then keys, then foreign keys) so data
loads into keyless tables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(config.ActionRestore)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(restoreCmd)
}
