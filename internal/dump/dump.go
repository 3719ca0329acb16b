// Package dump implements the Table Dumper: the streaming CSV exporter
// that pages a single table's result set through a gzip subprocess into
// sharded files, and the BLOB-aware Fallback Exporter that shells out to
// the vendor mysqldump for paging-eligible tables.
package dump

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"dbaccel/internal/apperrors"
	"dbaccel/internal/codec"
	"dbaccel/internal/layout"
	"dbaccel/internal/logging"
	"dbaccel/internal/metadata"
)

// pageSize is the row interval at which streaming progress is logged.
// It sets no driver fetch size: rows stream from the result set one by one.
const pageSize = 10000

// shardRowCap is the row count at which a shard is closed and a new one
// opened. Bulk loads slow sharply beyond a million rows per file.
const shardRowCap = 1000000

// Info is the serialized record written to a table's .info sidecar.
type Info struct {
	RecordCount int64 `json:"record_count"`
}

// Dumper exports tables into the working directory described by Layout.
type Dumper struct {
	dsn         string
	database    string
	layout      layout.Layout
	logger      *logging.Logger
	retry       *apperrors.RetryHandler
	sample      int
	checkCount  bool
	keyPageSize int
}

// New returns a Dumper bound to one working directory and database.
func New(dsn, database string, l layout.Layout, logger *logging.Logger, sample int, checkCount bool, keyPageSize int) *Dumper {
	if keyPageSize <= 0 {
		keyPageSize = 1000
	}
	return &Dumper{
		dsn:         dsn,
		database:    database,
		layout:      l,
		logger:      logger,
		sample:      sample,
		checkCount:  checkCount,
		keyPageSize: keyPageSize,
		retry: apperrors.NewRetryHandler(apperrors.RetryConfig{
			MaxAttempts: 5,
			Delay:       2 * time.Second,
		}),
	}
}

// DumpTable runs the full per-table export: it writes the .info sidecar
// if row-count verification is requested, derives export expressions,
// routes paging-eligible (BLOB/TEXT) and operator-forced tables to the
// Fallback Exporter after capturing their key pages, and otherwise
// streams CSV shards, all wrapped in a 5-attempt retry loop that deletes
// partial shards between attempts.
func (d *Dumper) DumpTable(ctx context.Context, table string, cols []metadata.Column, keyCols []string, expectedRows int64, forceFallback bool, fallback *FallbackExporter) error {
	start := time.Now()

	if d.checkCount {
		if err := d.writeInfo(table, expectedRows); err != nil {
			return err
		}
	}

	exprs := metadata.DeriveExportExpressions(cols)
	if exprs.PagingRequired || forceFallback {
		if err := d.captureKeyPages(ctx, table, keyCols); err != nil {
			err = apperrors.NewTransientDumpError(table, "capture key pages", err)
			d.logger.LogTableDump(table, 0, 0, time.Since(start), err)
			return err
		}
		err := fallback.DumpTable(ctx, table)
		if err == nil {
			d.removeKeyPages(table)
		}
		loggedRows := expectedRows
		if loggedRows < 0 {
			loggedRows = 0
		}
		d.logger.LogTableDump(table, loggedRows, 0, time.Since(start), err)
		return err
	}

	if d.checkCount && expectedRows == 0 {
		d.logger.LogTableDump(table, 0, 0, time.Since(start), nil)
		return nil
	}

	var rowsWritten int64
	var shardCount int
	err := d.retry.Retry(ctx, table, func(attempt int) error {
		removeShards(d.layout, table)
		written, shards, runErr := d.streamTable(ctx, table, exprs.SelectList)
		if runErr != nil {
			return apperrors.NewTransientDumpError(table, "streaming export failed", runErr)
		}
		rowsWritten = written
		shardCount = shards
		if d.checkCount && rowsWritten != expectedRows {
			return apperrors.NewRowCountMismatch(table, expectedRows, rowsWritten)
		}
		return nil
	})

	d.logger.LogTableDump(table, rowsWritten, shardCount, time.Since(start), err)
	return err
}

func (d *Dumper) writeInfo(table string, expectedRows int64) error {
	data, err := json.Marshal(Info{RecordCount: expectedRows})
	if err != nil {
		return apperrors.NewTransientDumpError(table, "marshal info sidecar", err)
	}
	if err := os.WriteFile(d.layout.Info(table), data, 0o644); err != nil {
		return apperrors.NewTransientDumpError(table, "write info sidecar", err)
	}
	return nil
}

func (d *Dumper) streamTable(ctx context.Context, table string, selectList []string) (int64, int, error) {
	db, err := sql.Open("mysql", d.dsn)
	if err != nil {
		return 0, 0, fmt.Errorf("open session: %w", err)
	}
	defer db.Close()

	return d.streamRows(ctx, db, table, selectList)
}

// streamRows is the *sql.DB-parameterized core of streamTable, split out
// so it can be driven by a sqlmock-backed *sql.DB in tests.
func (d *Dumper) streamRows(ctx context.Context, db *sql.DB, table string, selectList []string) (int64, int, error) {
	query := buildSelect(selectList, table, d.sample)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return 0, 0, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return 0, 0, fmt.Errorf("read columns for %s: %w", table, err)
	}

	var (
		shardWriter *codec.ShardWriter
		csvWriter   *codec.CSVWriter
		bw          *bufio.Writer
		pageNo      int
		rowsWritten int64
		shardCount  int
	)

	closeShard := func() error {
		if shardWriter == nil {
			return nil
		}
		err := shardWriter.Close()
		shardWriter = nil
		csvWriter = nil
		return err
	}
	defer closeShard()

	scanDest := make([]interface{}, len(columns))
	scanBuf := make([]sql.NullString, len(columns))
	for i := range scanBuf {
		scanDest[i] = &scanBuf[i]
	}

	for rows.Next() {
		if err := rows.Scan(scanDest...); err != nil {
			return rowsWritten, shardCount, fmt.Errorf("scan row %d of %s: %w", rowsWritten, table, err)
		}

		if shardWriter == nil {
			pageNo++
			shardCount++
			shardWriter, err = codec.OpenShardWriter(d.layout.Shard(table, pageNo))
			if err != nil {
				return rowsWritten, shardCount, fmt.Errorf("open shard %d of %s: %w", pageNo, table, err)
			}
			bw = bufio.NewWriterSize(shardWriter, 64*1024)
			csvWriter = codec.NewCSVWriter(bw)
			if err := csvWriter.WriteHeader(columns); err != nil {
				return rowsWritten, shardCount, fmt.Errorf("write header for %s: %w", table, err)
			}
		}

		fields := make([]*string, len(scanBuf))
		for i, v := range scanBuf {
			if v.Valid {
				s := v.String
				fields[i] = &s
			}
		}
		if err := csvWriter.WriteRow(fields); err != nil {
			return rowsWritten, shardCount, fmt.Errorf("write row for %s: %w", table, err)
		}

		rowsWritten++
		if rowsWritten%pageSize == 0 {
			d.logger.WithFields(map[string]interface{}{
				"table": table,
				"rows":  rowsWritten,
			}).Debug("page exported")
		}
		if rowsWritten%shardRowCap == 0 {
			if err := bw.Flush(); err != nil {
				return rowsWritten, shardCount, fmt.Errorf("flush shard for %s: %w", table, err)
			}
			if err := closeShard(); err != nil {
				return rowsWritten, shardCount, fmt.Errorf("close shard for %s: %w", table, err)
			}
		}
	}
	if err := rows.Err(); err != nil {
		return rowsWritten, shardCount, fmt.Errorf("iterate rows for %s: %w", table, err)
	}

	if bw != nil {
		if err := bw.Flush(); err != nil {
			return rowsWritten, shardCount, fmt.Errorf("final flush for %s: %w", table, err)
		}
	}
	if err := closeShard(); err != nil {
		return rowsWritten, shardCount, fmt.Errorf("final close for %s: %w", table, err)
	}

	return rowsWritten, shardCount, nil
}

func buildSelect(selectList []string, table string, sample int) string {
	exprs := ""
	for i, e := range selectList {
		if i > 0 {
			exprs += ", "
		}
		exprs += e
	}
	query := fmt.Sprintf("SELECT %s FROM `%s`", exprs, table)
	if sample > 0 {
		query += fmt.Sprintf(" LIMIT %d", sample)
	}
	return query
}

func removeShards(l layout.Layout, table string) {
	matches, _ := filepath.Glob(l.ShardGlob(table))
	for _, m := range matches {
		os.Remove(m)
	}
}
