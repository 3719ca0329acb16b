package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"dbaccel/internal/apperrors"
	"dbaccel/internal/archivestore"
	"dbaccel/internal/codec"
	"dbaccel/internal/config"
	"dbaccel/internal/ddl"
	"dbaccel/internal/dump"
	"dbaccel/internal/layout"
	"dbaccel/internal/metadata"
	"dbaccel/internal/pool"
)

// Dump runs the dump state machine: Prepare, DumpSchema, EnumerateTables,
// DumpData, Drain, Archive, then the optional archive-store publish.
func (o *Orchestrator) Dump(ctx context.Context) error {
	l := layout.New(o.cfg.Directory, o.cfg.Database)

	// Prepare
	if err := os.MkdirAll(l.Root(), 0o755); err != nil {
		return apperrors.New(apperrors.KindTransientDump, "", "create working directory", err)
	}

	// DumpSchema
	if err := o.dumpSchema(ctx, l); err != nil {
		return err
	}

	// EnumerateTables
	probe := metadata.New(o.cfg.DSN(), o.cfg.Host, o.cfg.Database, o.logger)
	tables, err := probe.ListBaseTables(ctx, o.cfg.TableFilterSet())
	if err != nil {
		return err
	}
	o.logger.Infof("dumping %d tables from %s", len(tables), o.cfg.Database)

	// DumpData + Drain
	dumper := dump.New(o.cfg.DSN(), o.cfg.Database, l, o.logger, o.cfg.Sample, o.cfg.CheckCount, o.cfg.PageSize)
	fallback := dump.NewFallbackExporter(o.cfg.Database, l, o.logger)
	forcedFallback := o.cfg.FallbackTableSet()

	tasks := make([]pool.Task, 0, len(tables))
	for _, table := range tables {
		table := table
		tasks = append(tasks, pool.Task{
			Table: table,
			Run: func(ctx context.Context) error {
				return o.dumpOneTable(ctx, probe, dumper, fallback, table, forcedFallback[table])
			},
		})
	}
	if err := pool.New(o.cfg.Jobs, o.logger).Run(ctx, tasks); err != nil {
		return err
	}

	// Archive
	location, err := o.archive(ctx, l)
	if err != nil {
		return err
	}

	o.logger.WithFields(map[string]interface{}{
		"run_id":   o.runID,
		"database": o.cfg.Database,
		"tables":   len(tables),
		"archive":  location,
	}).Info("dump completed")
	return nil
}

func (o *Orchestrator) dumpOneTable(ctx context.Context, probe *metadata.Probe, dumper *dump.Dumper, fallback *dump.FallbackExporter, table string, forceFallback bool) error {
	cols, err := probe.GetColumnTypes(ctx, table)
	if err != nil {
		return err
	}

	var keyCols []string
	if forceFallback || metadata.DeriveExportExpressions(cols).PagingRequired {
		keyCols, err = probe.GetPrimaryOrUniqueKeys(ctx, table)
		if err != nil {
			return err
		}
	}

	expectedRows := int64(-1)
	if o.cfg.CheckCount {
		expectedRows, err = probe.GetRowCount(ctx, table)
		if err != nil {
			return err
		}
	}

	return dumper.DumpTable(ctx, table, cols, keyCols, expectedRows, forceFallback, fallback)
}

// dumpSchema shells out to the vendor dumper for DDL-only output, then
// strips DEFINER clauses and tokenises the database name.
func (o *Orchestrator) dumpSchema(ctx context.Context, l layout.Layout) error {
	start := time.Now()

	out, err := os.OpenFile(l.SchemaOrig(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return apperrors.NewSchemaError("create schema.ddl.orig", err)
	}

	cmd := exec.CommandContext(ctx, "mysqldump",
		"-h", o.cfg.Host,
		"-P", fmt.Sprintf("%d", o.cfg.Port),
		"-u", o.cfg.Username,
		"--no-data",
		"--routines",
		"--single-transaction=TRUE",
		"-B", o.cfg.Database,
	)
	cmd.Stdout = out
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	closeErr := out.Close()
	if runErr != nil {
		return apperrors.NewSchemaError(fmt.Sprintf("mysqldump schema failed: %s", stderr.String()), runErr)
	}
	if closeErr != nil {
		return apperrors.NewSchemaError("close schema.ddl.orig", closeErr)
	}

	raw, err := os.ReadFile(l.SchemaOrig())
	if err != nil {
		return apperrors.NewSchemaError("read schema.ddl.orig", err)
	}

	tokenised := ddl.Tokenise(ddl.StripDefiner(string(raw)), o.cfg.Database)
	if err := os.WriteFile(l.SchemaTokenised(), []byte(tokenised), 0o644); err != nil {
		return apperrors.NewSchemaError("write schema.ddl.tokenised", err)
	}

	o.logger.LogDDLStage("schema_dump", 1, time.Since(start), nil)
	return nil
}

// archive tars the working directory, renames the result to the final
// .accel.dump name, removes the working directory, applies the optional
// outer recompress envelope, publishes to the configured archive store,
// and writes the manifest recording the published location.
func (o *Orchestrator) archive(ctx context.Context, l layout.Layout) (string, error) {
	if err := codec.Archive(l.Root(), l.ArchiveTempPath()); err != nil {
		return "", apperrors.New(apperrors.KindTransientDump, "", "archive working directory", err)
	}
	if err := os.Rename(l.ArchiveTempPath(), l.ArchivePath()); err != nil {
		return "", apperrors.New(apperrors.KindTransientDump, "", "rename archive", err)
	}
	if err := os.RemoveAll(l.Root()); err != nil {
		return "", apperrors.New(apperrors.KindTransientDump, "", "remove working directory", err)
	}

	archivePath, err := archivestore.Recompress(l.ArchivePath(), o.cfg.ArchiveRecompress)
	if err != nil {
		return "", apperrors.New(apperrors.KindTransientDump, "", "recompress archive", err)
	}

	store, err := archivestore.New(ctx, o.cfg)
	if err != nil {
		return "", apperrors.NewConfigError("build archive store", err)
	}
	location, err := store.Put(ctx, archivePath)
	if err != nil {
		return "", apperrors.New(apperrors.KindTransientDump, "", "publish archive", err)
	}

	manifest, err := archivestore.WriteManifest(archivePath, o.cfg.Database, location, o.version)
	if err != nil {
		return "", apperrors.New(apperrors.KindTransientDump, "", "write archive manifest", err)
	}
	o.logger.WithFields(map[string]interface{}{
		"archive":  location,
		"checksum": manifest.Checksum,
		"size":     manifest.Size,
	}).Debug("archive manifest written")

	if o.cfg.ArchiveStore != config.ArchiveStoreLocal && o.cfg.ArchiveStore != "" {
		// The local copy served only as the upload source.
		if err := os.Remove(archivePath); err != nil {
			o.logger.Warnf("remove local archive copy: %v", err)
		}
	}
	return location, nil
}
