// Package restore implements the Table Restorer: a per-table loader that
// concatenates a table's shards through a named FIFO into the server's
// bulk-load facility, plus the vendor-client path for fallback .sql.gz
// dumps and the schema applier the restore stages use.
package restore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"dbaccel/internal/apperrors"
	"dbaccel/internal/codec"
	"dbaccel/internal/layout"
	"dbaccel/internal/logging"
	"dbaccel/internal/metadata"
)

// Info mirrors the dump-side .info sidecar.
type Info struct {
	RecordCount int64 `json:"record_count"`
}

// Restorer loads tables from one unpacked dump directory into the target
// database. Each RestoreTable call opens its own session; no two workers
// share a connection.
type Restorer struct {
	dsn      string
	database string
	client   VendorClient
	layout   layout.Layout
	logger   *logging.Logger
}

// VendorClient carries the connection parameters the vendor mysql client
// subprocess needs; the password travels via MYSQL_PWD in the
// environment, never on the command line.
type VendorClient struct {
	Host     string
	Port     int
	Username string
}

// Args renders the client's common argv prefix.
func (v VendorClient) Args() []string {
	return []string{"-h", v.Host, "-P", fmt.Sprintf("%d", v.Port), "-u", v.Username}
}

// New returns a Restorer loading from the working directory described by
// l into database via dsn (which must allow LOCAL INFILE).
func New(dsn, database string, client VendorClient, l layout.Layout, logger *logging.Logger) *Restorer {
	return &Restorer{
		dsn:      dsn,
		database: database,
		client:   client,
		layout:   l,
		logger:   logger,
	}
}

// Shards returns the ordered list of CSV shard paths for table. The
// six-digit ordinal makes lexicographic order the load order.
func (r *Restorer) Shards(table string) ([]string, error) {
	matches, err := filepath.Glob(r.layout.ShardGlob(table))
	if err != nil {
		return nil, apperrors.NewRestoreLoadError(table, "glob shards", err)
	}
	sort.Strings(matches)
	return matches, nil
}

// HasFallbackDump reports whether table was dumped through the vendor
// fallback path.
func (r *Restorer) HasFallbackDump(table string) bool {
	_, err := os.Stat(r.layout.FallbackDump(table))
	return err == nil
}

// readInfo loads the .info sidecar if present. The bool result reports
// whether verification is possible for this table.
func (r *Restorer) readInfo(table string) (int64, bool, error) {
	data, err := os.ReadFile(r.layout.Info(table))
	if os.IsNotExist(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, apperrors.NewRestoreLoadError(table, "read info sidecar", err)
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return 0, false, apperrors.NewRestoreLoadError(table, "parse info sidecar", err)
	}
	return info.RecordCount, true, nil
}

// RestoreTable loads one table from its shards in shard order. CSV
// shards stream through a FIFO into LOAD DATA LOCAL INFILE; a fallback
// .sql.gz streams through a FIFO into the vendor client. A table has one
// kind or the other, never both.
func (r *Restorer) RestoreTable(ctx context.Context, table string, imports metadata.ImportExpressions) error {
	start := time.Now()

	if r.HasFallbackDump(table) {
		err := r.restoreFallback(ctx, table)
		r.logger.LogTableRestore(table, 0, 1, time.Since(start), err)
		return err
	}

	shards, err := r.Shards(table)
	if err != nil {
		return err
	}

	expected, verify, err := r.readInfo(table)
	if err != nil {
		return err
	}

	var recordsLoaded int64
	for _, shard := range shards {
		loaded, loadErr := r.loadShard(ctx, table, shard, imports)
		if loadErr != nil {
			r.logger.LogTableRestore(table, recordsLoaded, len(shards), time.Since(start), loadErr)
			return loadErr
		}
		recordsLoaded += loaded
	}

	if verify && recordsLoaded != expected {
		err := apperrors.NewRestoreLoadError(table,
			fmt.Sprintf("loaded %d records, info sidecar expects %d", recordsLoaded, expected), nil)
		r.logger.LogTableRestore(table, recordsLoaded, len(shards), time.Since(start), err)
		return err
	}

	r.logger.LogTableRestore(table, recordsLoaded, len(shards), time.Since(start), nil)
	return nil
}

// loadShard streams one decompressed shard through a FIFO into LOAD DATA
// LOCAL INFILE and returns the number of rows the server accepted.
func (r *Restorer) loadShard(ctx context.Context, table, shard string, imports metadata.ImportExpressions) (int64, error) {
	fifoPath := r.layout.Fifo(table)
	if err := codec.MakeFIFO(fifoPath); err != nil {
		return 0, apperrors.NewRestoreLoadError(table, "create fifo", err)
	}
	defer os.Remove(fifoPath)

	feedDone := make(chan error, 1)
	go func() {
		// Blocks until the server side opens the FIFO for reading.
		fifo, err := os.OpenFile(fifoPath, os.O_WRONLY, 0)
		if err != nil {
			feedDone <- fmt.Errorf("open fifo for writing: %w", err)
			return
		}
		_, copyErr := codec.CopyInto(fifo, shard)
		closeErr := fifo.Close()
		if copyErr != nil {
			feedDone <- copyErr
			return
		}
		feedDone <- closeErr
	}()

	loaded, loadErr := r.execLoad(ctx, table, fifoPath, imports)

	feedErr := <-feedDone
	if loadErr != nil {
		return loaded, apperrors.NewRestoreLoadError(table, fmt.Sprintf("bulk load of %s failed", filepath.Base(shard)), loadErr)
	}
	if feedErr != nil {
		return loaded, apperrors.NewRestoreLoadError(table, fmt.Sprintf("decompress of %s failed", filepath.Base(shard)), feedErr)
	}
	return loaded, nil
}

func (r *Restorer) execLoad(ctx context.Context, table, fifoPath string, imports metadata.ImportExpressions) (int64, error) {
	db, err := sql.Open("mysql", r.dsn)
	if err != nil {
		return 0, fmt.Errorf("open session: %w", err)
	}
	defer db.Close()

	// The SET statements and the LOAD must run on the same connection;
	// a pooled *sql.DB does not guarantee that on its own.
	conn, err := db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "SET foreign_key_checks=0"); err != nil {
		return 0, fmt.Errorf("disable foreign_key_checks: %w", err)
	}
	if _, err := conn.ExecContext(ctx, "SET unique_checks=0"); err != nil {
		return 0, fmt.Errorf("disable unique_checks: %w", err)
	}

	res, err := conn.ExecContext(ctx, BuildLoadStatement(fifoPath, table, imports))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// BuildLoadStatement renders the LOAD DATA LOCAL INFILE statement for
// one shard streamed through fifoPath.
func BuildLoadStatement(fifoPath, table string, imports metadata.ImportExpressions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "LOAD DATA LOCAL INFILE '%s' INTO TABLE `%s`", fifoPath, table)
	b.WriteString(" CHARACTER SET utf8")
	b.WriteString(` COLUMNS TERMINATED BY ',' OPTIONALLY ENCLOSED BY '"' ESCAPED BY '\\'`)
	b.WriteString(" IGNORE 1 ROWS")
	fmt.Fprintf(&b, " (%s)", strings.Join(imports.ColumnPlaceholders, ", "))
	if len(imports.SetClauses) > 0 {
		fmt.Fprintf(&b, " SET %s", strings.Join(imports.SetClauses, ", "))
	}
	return b.String()
}

// restoreFallback streams the decompressed vendor dump through a FIFO
// into the vendor mysql client. Row counts are not observable on this
// path, so .info verification does not apply to fallback tables.
func (r *Restorer) restoreFallback(ctx context.Context, table string) error {
	fifoPath := r.layout.Fifo(table)
	if err := codec.MakeFIFO(fifoPath); err != nil {
		return apperrors.NewRestoreLoadError(table, "create fifo", err)
	}
	defer os.Remove(fifoPath)

	feedDone := make(chan error, 1)
	go func() {
		fifo, err := os.OpenFile(fifoPath, os.O_WRONLY, 0)
		if err != nil {
			feedDone <- fmt.Errorf("open fifo for writing: %w", err)
			return
		}
		_, copyErr := codec.CopyInto(fifo, r.layout.FallbackDump(table))
		closeErr := fifo.Close()
		if copyErr != nil {
			feedDone <- copyErr
			return
		}
		feedDone <- closeErr
	}()

	clientErr := runVendorClient(ctx, r.client, r.database, fifoPath)

	feedErr := <-feedDone
	if clientErr != nil {
		return apperrors.NewRestoreLoadError(table, "vendor client load failed", clientErr)
	}
	if feedErr != nil {
		return apperrors.NewRestoreLoadError(table, "decompress of fallback dump failed", feedErr)
	}
	return nil
}
