// Package metadata implements the Metadata Probe: queries against
// information_schema for the table list, column types, primary/unique
// keys, and row counts, plus derivation of the SELECT/LOAD expressions
// the Table Dumper and Table Restorer need for BLOB columns.
package metadata

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"dbaccel/internal/apperrors"
	"dbaccel/internal/logging"
)

// Column describes one information_schema.COLUMNS row, ordered by
// ORDINAL_POSITION.
type Column struct {
	Name     string
	DataType string
}

// IsBLOB reports whether the column's DATA_TYPE is in the blob family
// and therefore exports as HEX() and imports through UNHEX().
func (c Column) IsBLOB() bool {
	return strings.Contains(strings.ToLower(c.DataType), "blob")
}

// IsTextOrBLOB reports whether the column makes its table
// paging-eligible: any blob- or text-typed column routes the table to
// the fallback exporter.
func (c Column) IsTextOrBLOB() bool {
	dt := strings.ToLower(c.DataType)
	return strings.Contains(dt, "blob") || strings.Contains(dt, "text")
}

// Probe is a fresh-session-per-call information_schema client. Each
// exported method opens its own *sql.DB; it never shares a session with
// other workers.
type Probe struct {
	dsn     string
	logger  *logging.Logger
	retry   *apperrors.RetryHandler
	host    string
	dbName  string
}

// New returns a Probe that dials dsn. host is used only for logging;
// dbName is logged and is the TABLE_SCHEMA the information_schema queries
// filter on.
func New(dsn, host, dbName string, logger *logging.Logger) *Probe {
	return &Probe{
		dsn:    dsn,
		logger: logger,
		dbName: dbName,
		host:   host,
		retry: apperrors.NewRetryHandler(apperrors.RetryConfig{
			MaxAttempts: 5,
			Delay:       60 * time.Second,
		}),
	}
}

// connect opens a fresh session with up to five connect attempts and a
// 60-second backoff between retries after the first failure. Sessions
// use client-side UTF-8, streamed (unbuffered) result sets, and wire
// compression.
func (p *Probe) connect(ctx context.Context) (*sql.DB, error) {
	var db *sql.DB
	err := p.retry.Retry(ctx, "", func(attempt int) error {
		opened, openErr := sql.Open("mysql", p.dsn)
		if openErr != nil {
			p.logger.LogConnectAttempt(p.host, p.dbName, attempt, 5, openErr)
			return apperrors.NewConnectError("open mysql connection", openErr)
		}
		if pingErr := opened.PingContext(ctx); pingErr != nil {
			opened.Close()
			p.logger.LogConnectAttempt(p.host, p.dbName, attempt, 5, pingErr)
			return apperrors.NewConnectError("ping mysql connection", pingErr)
		}
		p.logger.LogConnectAttempt(p.host, p.dbName, attempt, 5, nil)
		db = opened
		return nil
	})
	if err != nil {
		return nil, err
	}
	return db, nil
}

// ListBaseTables returns the ordered list of base-table names, optionally
// restricted to filter (nil means all tables).
func (p *Probe) ListBaseTables(ctx context.Context, filter map[string]bool) ([]string, error) {
	db, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return listBaseTables(ctx, db, p.dbName, filter)
}

// GetRowCount returns SELECT COUNT(*) for table.
func (p *Probe) GetRowCount(ctx context.Context, table string) (int64, error) {
	db, err := p.connect(ctx)
	if err != nil {
		return 0, err
	}
	defer db.Close()
	return getRowCount(ctx, db, table)
}

// GetColumnTypes returns the ordered column list from
// information_schema.COLUMNS for table.
func (p *Probe) GetColumnTypes(ctx context.Context, table string) ([]Column, error) {
	db, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return getColumnTypes(ctx, db, p.dbName, table)
}

// GetPrimaryOrUniqueKeys returns the ordered column list for table's
// primary key, falling back to the first unique key; empty if neither
// exists.
func (p *Probe) GetPrimaryOrUniqueKeys(ctx context.Context, table string) ([]string, error) {
	db, err := p.connect(ctx)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return getPrimaryOrUniqueKeys(ctx, db, p.dbName, table)
}

// listBaseTables is the *sql.DB-parameterized core of ListBaseTables,
// split out so it can be driven by a sqlmock-backed *sql.DB in tests
// without going through the connect-with-retry wrapper.
func listBaseTables(ctx context.Context, db *sql.DB, schema string, filter map[string]bool) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT TABLE_NAME FROM information_schema.TABLES
		 WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		 ORDER BY TABLE_NAME`, schema)
	if err != nil {
		return nil, apperrors.Classify("", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, apperrors.NewSchemaError("scan table name", err)
		}
		if filter != nil && !filter[name] {
			continue
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Classify("", err)
	}
	return tables, nil
}

func getRowCount(ctx context.Context, db *sql.DB, table string) (int64, error) {
	var count int64
	row := db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM `%s`", table))
	if err := row.Scan(&count); err != nil {
		return 0, apperrors.Classify(table, err)
	}
	return count, nil
}

func getColumnTypes(ctx context.Context, db *sql.DB, schema, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT COLUMN_NAME, DATA_TYPE FROM information_schema.COLUMNS
		 WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		 ORDER BY ORDINAL_POSITION`, schema, table)
	if err != nil {
		return nil, apperrors.Classify(table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.DataType); err != nil {
			return nil, apperrors.NewSchemaError("scan column", err)
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Classify(table, err)
	}
	return cols, nil
}

func getPrimaryOrUniqueKeys(ctx context.Context, db *sql.DB, schema, table string) ([]string, error) {
	keys, err := queryKeyColumns(ctx, db, schema, table, "PRIMARY")
	if err != nil {
		return nil, apperrors.Classify(table, err)
	}
	if len(keys) > 0 {
		return keys, nil
	}

	uniqueName, err := firstUniqueIndexName(ctx, db, schema, table)
	if err != nil {
		return nil, apperrors.Classify(table, err)
	}
	if uniqueName == "" {
		return nil, nil
	}
	return queryKeyColumns(ctx, db, schema, table, uniqueName)
}

func firstUniqueIndexName(ctx context.Context, db *sql.DB, schema, table string) (string, error) {
	row := db.QueryRowContext(ctx,
		`SELECT INDEX_NAME FROM information_schema.STATISTICS
		 WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND NON_UNIQUE = 0 AND INDEX_NAME <> 'PRIMARY'
		 ORDER BY INDEX_NAME LIMIT 1`, schema, table)
	var name string
	if err := row.Scan(&name); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", err
	}
	return name, nil
}

func queryKeyColumns(ctx context.Context, db *sql.DB, schema, table, indexName string) ([]string, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT COLUMN_NAME FROM information_schema.STATISTICS
		 WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? AND INDEX_NAME = ?
		 ORDER BY SEQ_IN_INDEX`, schema, table, indexName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// ExportExpressions is the result of DeriveExportExpressions.
type ExportExpressions struct {
	SelectList     []string
	PagingRequired bool
}

// DeriveExportExpressions builds the SELECT-list for a table's columns:
// plain backtick-quoted identifiers for ordinary columns, HEX(`col`) for
// BLOBs, and a paging_required flag set iff any column is BLOB-or-TEXT.
func DeriveExportExpressions(cols []Column) ExportExpressions {
	var result ExportExpressions
	for _, c := range cols {
		if c.IsBLOB() {
			result.SelectList = append(result.SelectList, fmt.Sprintf("HEX(`%s`)", c.Name))
		} else {
			result.SelectList = append(result.SelectList, fmt.Sprintf("`%s`", c.Name))
		}
		if c.IsTextOrBLOB() {
			result.PagingRequired = true
		}
	}
	return result
}

// ImportExpressions is the result of DeriveImportExpressions.
type ImportExpressions struct {
	ColumnPlaceholders []string
	SetClauses         []string
}

// DeriveImportExpressions builds the LOAD DATA column-placeholder list and
// SET-clause list: BLOB columns bind to @col and get col=UNHEX(@col) in
// the SET list; other columns bind directly.
func DeriveImportExpressions(cols []Column) ImportExpressions {
	var result ImportExpressions
	for _, c := range cols {
		if c.IsBLOB() {
			result.ColumnPlaceholders = append(result.ColumnPlaceholders, "@"+c.Name)
			result.SetClauses = append(result.SetClauses, fmt.Sprintf("`%s`=UNHEX(@%s)", c.Name, c.Name))
		} else {
			result.ColumnPlaceholders = append(result.ColumnPlaceholders, fmt.Sprintf("`%s`", c.Name))
		}
	}
	return result
}
