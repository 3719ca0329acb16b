// Package cmd wires the dbaccel CLI: a root command carrying the shared
// connection and logging flags, with dump and restore subcommands (and
// an --action dispatch on the root command itself for single-executable
// invocations).
package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"dbaccel/internal/config"
	"dbaccel/internal/logging"
	"dbaccel/internal/orchestrator"
)

var cfgFile string

// CLI flag variables
var (
	host     string
	port     int
	username string
	password string
	database string

	action string

	jobs      int
	directory string
	file      string

	sample     int
	checkCount bool

	fallbackTables string
	tablesString   string

	pageSize int

	accelKeys     bool
	skipCreateDB  bool
	postSchemaCmd string

	verbose   bool
	quiet     bool
	logFile   string
	logFormat string

	archiveStore      string
	archiveRecompress string

	s3Bucket, s3Region, s3AccessKey, s3SecretKey  string
	gcsBucket, gcsCredentials                     string
	azureAccount, azureAccountKey, azureContainer string
)

// Version information (set by build flags via SetVersionInfo)
var version = "dev"

// SetVersionInfo records build-time version information for the CLI.
func SetVersionInfo(v string) {
	if v != "" {
		version = v
	}
	rootCmd.Version = version
}

var rootCmd = &cobra.Command{
	Use:   "dbaccel",
	Short: "High-throughput logical dump/restore for MySQL-compatible databases",
	Long: `dbaccel snapshots an entire schema (DDL plus row data) into a portable
on-disk archive much faster than the vendor utility, and reloads that
archive into a (possibly differently named) target instance.

It drives many tables concurrently, streams CSV shards through gzip,
falls back to the vendor dumper for BLOB-heavy tables, and restores
through named pipes with a three-stage schema application that keeps
bulk loads cheap.

Examples:
  # Dump a database into /tmp/shop.accel.dump
  dbaccel dump --host=db.example.com --username=app --database=shop

  # Restore it into a differently named database
  dbaccel restore --host=db.example.com --username=app --database=shop_test \
                  --file=/tmp/shop.accel.dump --accel-keys

  # Single-executable action form
  dbaccel --action=dump --username=app --database=shop

  # Publish the archive to S3 with an outer zstd envelope
  dbaccel dump --username=app --database=shop \
               --archive-store=s3 --s3-bucket=backups --archive-recompress=zstd`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if action == "" {
			return cmd.Help()
		}
		return runAction(config.Action(action))
	},
	SilenceUsage: true,
}

// Execute runs the CLI. It is called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (optional YAML, merged under flags)")

	rootCmd.PersistentFlags().StringVar(&host, "host", "localhost", "server host")
	rootCmd.PersistentFlags().IntVar(&port, "port", 3306, "server port")
	rootCmd.PersistentFlags().StringVar(&username, "username", "", "database username (required)")
	rootCmd.PersistentFlags().StringVar(&password, "password", "", "database password (falls back to MYSQL_PWD)")
	rootCmd.PersistentFlags().StringVar(&database, "database", "", "database name (required)")

	rootCmd.Flags().StringVar(&action, "action", "", "action to perform (dump or restore)")

	rootCmd.PersistentFlags().IntVar(&jobs, "jobs", 4, "max concurrent tables")
	rootCmd.PersistentFlags().StringVar(&directory, "directory", "/tmp", "working directory")
	rootCmd.PersistentFlags().StringVar(&file, "file", "", "archive to restore (required for restore)")

	rootCmd.PersistentFlags().IntVar(&sample, "sample", 0, "LIMIT clause for exports (0 = full table)")
	rootCmd.PersistentFlags().BoolVar(&checkCount, "check-count", false, "compare expected vs actual row counts")
	rootCmd.PersistentFlags().StringVar(&fallbackTables, "fallback-tables", "", "comma-separated tables to force through the vendor exporter")
	rootCmd.PersistentFlags().StringVar(&tablesString, "tables-string", "", "comma-separated tables to include (default: all)")
	rootCmd.PersistentFlags().IntVar(&pageSize, "page-size", 1000, "key-page row count")

	rootCmd.PersistentFlags().BoolVar(&accelKeys, "accel-keys", false, "use the 3-stage DDL split on restore")
	rootCmd.PersistentFlags().BoolVar(&skipCreateDB, "skip-create-db", false, "skip stage-1 DDL on restore")
	rootCmd.PersistentFlags().StringVar(&postSchemaCmd, "post-schema-command", "", "shell command executed after stage-1")

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug-level logging")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "error-level logging only")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "duplicate logs to a file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")

	rootCmd.PersistentFlags().StringVar(&archiveStore, "archive-store", "local", "archive destination (local, s3, gcs, azure)")
	rootCmd.PersistentFlags().StringVar(&archiveRecompress, "archive-recompress", "none", "outer archive envelope (none, zstd, lz4)")

	rootCmd.PersistentFlags().StringVar(&s3Bucket, "s3-bucket", "", "S3 bucket for --archive-store=s3")
	rootCmd.PersistentFlags().StringVar(&s3Region, "s3-region", "us-east-1", "S3 region")
	rootCmd.PersistentFlags().StringVar(&s3AccessKey, "s3-access-key", "", "S3 access key (default: SDK credential chain)")
	rootCmd.PersistentFlags().StringVar(&s3SecretKey, "s3-secret-key", "", "S3 secret key")
	rootCmd.PersistentFlags().StringVar(&gcsBucket, "gcs-bucket", "", "GCS bucket for --archive-store=gcs")
	rootCmd.PersistentFlags().StringVar(&gcsCredentials, "gcs-credentials", "", "GCS service-account key file")
	rootCmd.PersistentFlags().StringVar(&azureAccount, "azure-account", "", "Azure storage account for --archive-store=azure")
	rootCmd.PersistentFlags().StringVar(&azureAccountKey, "azure-account-key", "", "Azure storage account key")
	rootCmd.PersistentFlags().StringVar(&azureContainer, "azure-container", "", "Azure blob container")

	viper.BindPFlag("host", rootCmd.PersistentFlags().Lookup("host"))
	viper.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("username", rootCmd.PersistentFlags().Lookup("username"))
	viper.BindPFlag("database", rootCmd.PersistentFlags().Lookup("database"))
	viper.BindPFlag("jobs", rootCmd.PersistentFlags().Lookup("jobs"))
	viper.BindPFlag("directory", rootCmd.PersistentFlags().Lookup("directory"))
	viper.BindPFlag("archive_store", rootCmd.PersistentFlags().Lookup("archive-store"))
	viper.BindPFlag("archive_recompress", rootCmd.PersistentFlags().Lookup("archive-recompress"))
}

// initConfig reads the optional YAML config file; flags always win over
// file values through the viper bindings above.
func initConfig() {
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "read config file: %v\n", err)
		os.Exit(1)
	}
}

// buildConfig assembles the explicit configuration record threaded
// through the orchestrator.
func buildConfig(a config.Action) config.Config {
	cfg := config.Default()
	cfg.Host = viper.GetString("host")
	cfg.Port = viper.GetInt("port")
	cfg.Username = viper.GetString("username")
	cfg.Password = password
	cfg.Database = viper.GetString("database")
	cfg.Action = a
	cfg.Jobs = viper.GetInt("jobs")
	cfg.Directory = viper.GetString("directory")
	cfg.File = file
	cfg.Sample = sample
	cfg.CheckCount = checkCount
	cfg.FallbackTables = splitCSVList(fallbackTables)
	cfg.TablesString = splitCSVList(tablesString)
	cfg.PageSize = pageSize
	cfg.AccelKeys = accelKeys
	cfg.SkipCreateDB = skipCreateDB
	cfg.PostSchemaCmd = postSchemaCmd
	cfg.ArchiveStore = config.ArchiveStoreKind(viper.GetString("archive_store"))
	cfg.ArchiveRecompress = config.RecompressKind(viper.GetString("archive_recompress"))
	cfg.S3Bucket = s3Bucket
	cfg.S3Region = s3Region
	cfg.S3AccessKey = s3AccessKey
	cfg.S3SecretKey = s3SecretKey
	cfg.GCSBucket = gcsBucket
	cfg.GCSCredentialsPath = gcsCredentials
	cfg.AzureAccount = azureAccount
	cfg.AzureAccountKey = azureAccountKey
	cfg.AzureContainer = azureContainer
	return cfg
}

func splitCSVList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func buildLogger() (*logging.Logger, error) {
	level := logging.LevelNormal
	if verbose {
		level = logging.LevelVerbose
	}
	if quiet {
		level = logging.LevelQuiet
	}
	return logging.New(logging.Config{
		Level:   level,
		Format:  logFormat,
		LogFile: logFile,
	})
}

// runAction validates configuration, resolves the password, exports it
// to MYSQL_PWD for subprocesses, and runs the orchestrator.
func runAction(a config.Action) error {
	cfg := buildConfig(a)
	cfg.ResolvePassword()
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Subprocesses (mysqldump, mysql) read the password from the
	// environment; it never appears on a command line.
	if cfg.Password != "" {
		os.Setenv("MYSQL_PWD", cfg.Password)
	}

	logger, err := buildLogger()
	if err != nil {
		return err
	}

	return orchestrator.New(cfg, logger, version).Run(context.Background())
}
