package dump

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"dbaccel/internal/apperrors"
	"dbaccel/internal/layout"
	"dbaccel/internal/logging"
)

// FallbackExporter shells out to the vendor mysqldump for tables whose
// schema contains BLOB or TEXT columns, teeing its stdout into a gzip
// subprocess writing <table>.sql.gz.
type FallbackExporter struct {
	database string
	layout   layout.Layout
	logger   *logging.Logger
	retry    *apperrors.RetryHandler
}

// NewFallbackExporter returns a FallbackExporter bound to one database
// and working directory.
func NewFallbackExporter(database string, l layout.Layout, logger *logging.Logger) *FallbackExporter {
	return &FallbackExporter{
		database: database,
		layout:   l,
		logger:   logger,
		retry: apperrors.NewRetryHandler(apperrors.RetryConfig{
			MaxAttempts: 20,
			Delay:       2 * time.Second,
		}),
	}
}

// DumpTable runs mysqldump for one table, piping its stdout through
// gzip into <table>.sql.gz. A non-zero exit or any stderr content is
// treated as a failure, retried up to 20 times.
func (f *FallbackExporter) DumpTable(ctx context.Context, table string) error {
	return f.retry.Retry(ctx, table, func(attempt int) error {
		return f.attempt(ctx, table)
	})
}

func (f *FallbackExporter) attempt(ctx context.Context, table string) error {
	destPath := f.layout.FallbackDump(table)
	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return apperrors.NewFallbackDumpError(table, "create fallback dump file", err)
	}
	defer out.Close()

	dump := exec.CommandContext(ctx, "mysqldump",
		"--no-create-info",
		"--skip-triggers",
		"--single-transaction=TRUE",
		"--max_allowed_packet=2G",
		f.database, table,
	)
	gzip := exec.CommandContext(ctx, "gzip", "-c")

	pipeR, pipeW := io.Pipe()
	dump.Stdout = pipeW
	var dumpStderr bytes.Buffer
	dump.Stderr = &dumpStderr

	gzip.Stdin = pipeR
	gzip.Stdout = out
	var gzipStderr bytes.Buffer
	gzip.Stderr = &gzipStderr

	if err := gzip.Start(); err != nil {
		return apperrors.NewFallbackDumpError(table, "start gzip", err)
	}
	if err := dump.Start(); err != nil {
		return apperrors.NewFallbackDumpError(table, "start mysqldump", err)
	}

	dumpErr := dump.Wait()
	pipeW.Close()
	gzipErr := gzip.Wait()
	pipeR.Close()

	if dumpErr != nil {
		return apperrors.NewFallbackDumpError(table,
			fmt.Sprintf("mysqldump failed: %s", dumpStderr.String()), dumpErr)
	}
	if dumpStderr.Len() > 0 {
		return apperrors.NewFallbackDumpError(table,
			fmt.Sprintf("mysqldump stderr: %s", dumpStderr.String()), nil)
	}
	if gzipErr != nil {
		return apperrors.NewFallbackDumpError(table,
			fmt.Sprintf("gzip failed: %s", gzipStderr.String()), gzipErr)
	}

	return nil
}
