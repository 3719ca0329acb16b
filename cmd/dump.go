package cmd

import (
	"github.com/spf13/cobra"

	"dbaccel/internal/config"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Dump a database into a portable .accel.dump archive",
	Long: `Dump snapshots the schema and every base table of the source database
into <directory>/<database>.accel.dump. Tables run concurrently up to
--jobs; tables with BLOB or TEXT columns (or named in --fallback-tables)
go through the vendor dumper instead of the streaming CSV exporter.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAction(config.ActionDump)
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(dumpCmd)
}
