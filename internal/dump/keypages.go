package dump

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// captureKeyPages writes one JSON sidecar per page of primary-or-unique
// key values for a paging-eligible table: a flat array holding
// len(keyCols) values per row. The sidecars are temporary and are
// removed once the table's dump succeeds.
func (d *Dumper) captureKeyPages(ctx context.Context, table string, keyCols []string) error {
	if len(keyCols) == 0 {
		return nil
	}

	db, err := sql.Open("mysql", d.dsn)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer db.Close()

	quoted := make([]string, len(keyCols))
	for i, c := range keyCols {
		quoted[i] = fmt.Sprintf("`%s`", c)
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM `%s`", strings.Join(quoted, ", "), table))
	if err != nil {
		return fmt.Errorf("query keys for %s: %w", table, err)
	}
	defer rows.Close()

	scanDest := make([]interface{}, len(keyCols))
	scanBuf := make([]sql.NullString, len(keyCols))
	for i := range scanBuf {
		scanDest[i] = &scanBuf[i]
	}

	var (
		page    []interface{}
		pageNo  int
		rowsIn  int
	)

	flush := func() error {
		if len(page) == 0 {
			return nil
		}
		pageNo++
		data, err := json.Marshal(page)
		if err != nil {
			return fmt.Errorf("marshal key page %d for %s: %w", pageNo, table, err)
		}
		if err := os.WriteFile(d.layout.KeyPage(table, pageNo), data, 0o644); err != nil {
			return fmt.Errorf("write key page %d for %s: %w", pageNo, table, err)
		}
		page = page[:0]
		return nil
	}

	for rows.Next() {
		if err := rows.Scan(scanDest...); err != nil {
			return fmt.Errorf("scan key row for %s: %w", table, err)
		}
		for _, v := range scanBuf {
			if v.Valid {
				page = append(page, v.String)
			} else {
				page = append(page, nil)
			}
		}
		rowsIn++
		if rowsIn%d.keyPageSize == 0 {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate key rows for %s: %w", table, err)
	}
	return flush()
}

// removeKeyPages deletes every key-page sidecar for table.
func (d *Dumper) removeKeyPages(table string) {
	matches, _ := filepath.Glob(d.layout.KeyPageGlob(table))
	for _, m := range matches {
		os.Remove(m)
	}
}
