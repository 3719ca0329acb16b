// Package config holds the CLI-derived configuration threaded explicitly
// through the orchestrator and worker entry points. There is no
// process-global state: components receive a Config by value.
package config

import (
	"fmt"
	"os"
	"strings"
)

// Action selects which top-level state machine the Orchestrator runs.
type Action string

const (
	ActionDump    Action = "dump"
	ActionRestore Action = "restore"
)

// ArchiveStoreKind selects the archive-store destination for the
// finished tarball.
type ArchiveStoreKind string

const (
	ArchiveStoreLocal ArchiveStoreKind = "local"
	ArchiveStoreS3    ArchiveStoreKind = "s3"
	ArchiveStoreGCS   ArchiveStoreKind = "gcs"
	ArchiveStoreAzure ArchiveStoreKind = "azure"
)

// RecompressKind selects the optional outer re-encode applied to the
// tarball before it is handed to the Archive Store, local or remote.
type RecompressKind string

const (
	RecompressNone RecompressKind = "none"
	RecompressZstd RecompressKind = "zstd"
	RecompressLZ4  RecompressKind = "lz4"
)

// Config is the full set of parameters a dump or restore run needs. It is
// built once from CLI flags (and an optional viper-loaded file) in cmd/ and
// passed by value into the Orchestrator.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string

	Action Action

	Jobs      int
	Directory string
	File      string

	Sample     int
	CheckCount bool

	FallbackTables []string
	TablesString   []string

	PageSize int

	AccelKeys      bool
	SkipCreateDB   bool
	PostSchemaCmd  string

	ArchiveStore      ArchiveStoreKind
	ArchiveRecompress RecompressKind

	S3Bucket, S3Region, S3AccessKey, S3SecretKey             string
	GCSBucket, GCSCredentialsPath, GCSProjectID              string
	AzureAccount, AzureAccountKey, AzureContainer            string
}

// Default returns a Config carrying the documented flag defaults.
func Default() Config {
	return Config{
		Host:              "localhost",
		Port:              3306,
		Jobs:              4,
		Directory:         "/tmp",
		PageSize:          1000,
		ArchiveStore:      ArchiveStoreLocal,
		ArchiveRecompress: RecompressNone,
	}
}

// ResolvePassword fills Password from MYSQL_PWD when the flag was not
// given.
func (c *Config) ResolvePassword() {
	if c.Password == "" {
		c.Password = os.Getenv("MYSQL_PWD")
	}
}

// Validate enforces the required-flag rules, accumulating all violations
// rather than failing on the first one found.
func (c *Config) Validate() error {
	var errs []string

	if c.Username == "" {
		errs = append(errs, "username is required")
	}
	if c.Database == "" {
		errs = append(errs, "database is required")
	}
	switch c.Action {
	case ActionDump, ActionRestore:
	case "":
		errs = append(errs, "action is required (dump or restore)")
	default:
		errs = append(errs, fmt.Sprintf("unknown action %q", c.Action))
	}
	if c.Action == ActionRestore && c.File == "" {
		errs = append(errs, "file is required for restore")
	}
	if c.Jobs <= 0 {
		errs = append(errs, "jobs must be positive")
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}

	switch c.ArchiveStore {
	case ArchiveStoreLocal, ArchiveStoreS3, ArchiveStoreGCS, ArchiveStoreAzure:
	default:
		errs = append(errs, fmt.Sprintf("unknown archive store %q", c.ArchiveStore))
	}
	switch c.ArchiveRecompress {
	case RecompressNone, RecompressZstd, RecompressLZ4:
	default:
		errs = append(errs, fmt.Sprintf("unknown archive recompress %q", c.ArchiveRecompress))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration invalid: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN builds the go-sql-driver/mysql data source name used by every
// fresh session the metadata probe and table dumper open (the table
// restorer uses RestoreDSN). Each worker opens its own session; wire
// compression is on.
func (c Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?compress=true&clientFoundRows=false",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}

// RestoreDSN is like DSN but additionally enables LOCAL INFILE, required
// by the restorer's LOAD DATA LOCAL INFILE statement.
func (c Config) RestoreDSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?compress=true&allowAllFiles=true",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}

// TableFilterSet returns TablesString as a set for quick membership tests,
// or nil when no --tables-string filter was given (meaning "all tables").
func (c Config) TableFilterSet() map[string]bool {
	if len(c.TablesString) == 0 {
		return nil
	}
	set := make(map[string]bool, len(c.TablesString))
	for _, t := range c.TablesString {
		set[strings.TrimSpace(t)] = true
	}
	return set
}

// FallbackTableSet returns FallbackTables as a set for quick membership
// tests; listed tables are forced through the vendor exporter.
func (c Config) FallbackTableSet() map[string]bool {
	set := make(map[string]bool, len(c.FallbackTables))
	for _, t := range c.FallbackTables {
		set[strings.TrimSpace(t)] = true
	}
	return set
}
