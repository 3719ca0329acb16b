// Package layout centralizes the on-disk naming convention for a dump
// working directory and its final archive, so the Table Dumper, Table
// Restorer, DDL Rewriter driver, and Orchestrator agree on paths without
// duplicating format strings.
package layout

import (
	"fmt"
	"path/filepath"
)

// Layout resolves every path inside one dump/restore working directory,
// rooted at <base>/<database>/.
type Layout struct {
	Base     string
	Database string
}

// New returns a Layout rooted at base/database.
func New(base, database string) Layout {
	return Layout{Base: base, Database: database}
}

// Root is the working directory that becomes the single top-level
// directory inside the archive tarball.
func (l Layout) Root() string {
	return filepath.Join(l.Base, l.Database)
}

func (l Layout) path(name string) string {
	return filepath.Join(l.Root(), name)
}

// SchemaOrig is the raw DDL as emitted by the vendor dumper.
func (l Layout) SchemaOrig() string { return l.path("schema.ddl.orig") }

// SchemaTokenised is the DEFINER-stripped, database-tokenised DDL.
func (l Layout) SchemaTokenised() string { return l.path("schema.ddl.tokenised") }

// SchemaDetokenised is the restore-side DDL with the target database
// name substituted for the token.
func (l Layout) SchemaDetokenised() string { return l.path("schema.ddl.detokenised") }

// Stage1DDL is the stage-1 (columns-only) schema file.
func (l Layout) Stage1DDL() string { return l.path("accel_schema_stage_1.ddl") }

// Stage2Dir holds per-table stage-2 (keys) ALTER files.
func (l Layout) Stage2Dir() string { return l.path("stage_2") }

// Stage3Dir holds per-table stage-3 (foreign keys) ALTER files.
func (l Layout) Stage3Dir() string { return l.path("stage_3") }

// Stage2DDL is the stage-2 ALTER file for one table.
func (l Layout) Stage2DDL(table string) string {
	return filepath.Join(l.Stage2Dir(), table+".ddl")
}

// Stage3DDL is the stage-3 ALTER file for one table.
func (l Layout) Stage3DDL(table string) string {
	return filepath.Join(l.Stage3Dir(), table+".ddl")
}

// Shard returns the path of the pageNo'th gzip-compressed CSV shard for
// table. pageNo is 1-based: the first shard is .000001.csv.gz.
func (l Layout) Shard(table string, pageNo int) string {
	return l.path(fmt.Sprintf("%s.%06d.csv.gz", table, pageNo))
}

// ShardGlob is the glob pattern matching every shard of table, in the
// same directory, used when deleting partial shards on a failed attempt.
func (l Layout) ShardGlob(table string) string {
	return l.path(fmt.Sprintf("%s.[0-9][0-9][0-9][0-9][0-9][0-9].csv.gz", table))
}

// KeyPage returns the path of the pageNo'th key-page JSON sidecar for a
// paging-eligible table's fallback key capture.
func (l Layout) KeyPage(table string, pageNo int) string {
	return l.path(fmt.Sprintf("%s_keys.%06d.json", table, pageNo))
}

// KeyPageGlob matches every key-page JSON sidecar for table.
func (l Layout) KeyPageGlob(table string) string {
	return l.path(fmt.Sprintf("%s_keys.[0-9][0-9][0-9][0-9][0-9][0-9].json", table))
}

// Fifo is the named-pipe path a table's restore streams decompressed
// shard content through.
func (l Layout) Fifo(table string) string {
	return l.path(table + ".fifo")
}

// FallbackDump is the vendor-format .sql.gz dump for a fallback-routed
// table, mutually exclusive with CSV shards for the same table.
func (l Layout) FallbackDump(table string) string {
	return l.path(table + ".sql.gz")
}

// Info is the row-count verification sidecar for a table.
func (l Layout) Info(table string) string {
	return l.path(table + ".info")
}

// ArchivePath is the final archive path, sibling to Root(): a plain tar
// of the working directory, whose data members are already gzipped.
func (l Layout) ArchivePath() string {
	return filepath.Join(l.Base, l.Database+".accel.dump")
}

// ArchiveTempPath is the intermediate .tar path before it is renamed to
// ArchivePath on successful completion.
func (l Layout) ArchiveTempPath() string {
	return filepath.Join(l.Base, l.Database+".tar")
}
