package orchestrator

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"dbaccel/internal/apperrors"
	"dbaccel/internal/archivestore"
	"dbaccel/internal/codec"
	"dbaccel/internal/ddl"
	"dbaccel/internal/layout"
	"dbaccel/internal/metadata"
	"dbaccel/internal/pool"
	"dbaccel/internal/restore"
)

var (
	shardNameRe    = regexp.MustCompile(`^(.+)\.\d{6}\.csv\.gz$`)
	fallbackNameRe = regexp.MustCompile(`^(.+)\.sql\.gz$`)
)

// Restore runs the restore state machine: Unpack, Detokenise,
// SplitStages, ApplyStage1, PostSchemaHook, LoadData, then the stage-2
// and stage-3 DDL passes with a barrier between each.
func (o *Orchestrator) Restore(ctx context.Context) error {
	archivePath, err := o.fetchArchive(ctx)
	if err != nil {
		return err
	}

	// Unpack
	if err := codec.Unpack(archivePath, o.cfg.Directory); err != nil {
		return apperrors.New(apperrors.KindRestoreLoad, "", "unpack archive", err)
	}
	sourceDB := archiveStem(archivePath)
	src := layout.New(o.cfg.Directory, sourceDB)

	// Detokenise
	tokenised, err := os.ReadFile(src.SchemaTokenised())
	if err != nil {
		return apperrors.NewSchemaError("read tokenised schema", err)
	}
	detokenised := ddl.Detokenise(string(tokenised), o.cfg.Database)
	if err := os.WriteFile(src.SchemaDetokenised(), []byte(detokenised), 0o644); err != nil {
		return apperrors.NewSchemaError("write detokenised schema", err)
	}

	// SplitStages
	stage1Path := src.SchemaDetokenised()
	if o.cfg.AccelKeys {
		if err := writeStageFiles(src, ddl.SplitStages(detokenised)); err != nil {
			return err
		}
		stage1Path = src.Stage1DDL()
	}

	applier := restore.NewSchemaApplier(o.vendorClient(), o.cfg.Database, o.logger)

	// ApplyStage1
	if !o.cfg.SkipCreateDB {
		if err := applier.ApplyFile(ctx, "stage_1", stage1Path, false); err != nil {
			return err
		}
	}

	// PostSchemaHook
	if err := o.postSchemaHook(ctx); err != nil {
		return err
	}

	// LoadData + Barrier
	tables, err := discoverTables(src.Root())
	if err != nil {
		return err
	}
	o.logger.Infof("restoring %d tables into %s", len(tables), o.cfg.Database)

	probe := metadata.New(o.cfg.DSN(), o.cfg.Host, o.cfg.Database, o.logger)
	restorer := restore.New(o.cfg.RestoreDSN(), o.cfg.Database, o.vendorClient(), src, o.logger)

	loadTasks := make([]pool.Task, 0, len(tables))
	for _, table := range tables {
		table := table
		loadTasks = append(loadTasks, pool.Task{
			Table: table,
			Run: func(ctx context.Context) error {
				return o.loadOneTable(ctx, probe, restorer, table)
			},
		})
	}
	p := pool.New(o.cfg.Jobs, o.logger)
	if err := p.Run(ctx, loadTasks); err != nil {
		return err
	}

	// ApplyStage2, ApplyStage3
	if o.cfg.AccelKeys {
		if err := o.applyStageDir(ctx, p, applier, "stage_2", src.Stage2Dir()); err != nil {
			return err
		}
		if err := o.applyStageDir(ctx, p, applier, "stage_3", src.Stage3Dir()); err != nil {
			return err
		}
	}

	if err := os.RemoveAll(src.Root()); err != nil {
		o.logger.Warnf("remove unpacked directory: %v", err)
	}

	o.logger.WithFields(map[string]interface{}{
		"run_id":   o.runID,
		"database": o.cfg.Database,
		"tables":   len(tables),
	}).Info("restore completed")
	return nil
}

// fetchArchive resolves --file to a local plain tarball: remote
// locations are downloaded first, and any outer zstd/lz4 envelope is
// stripped.
func (o *Orchestrator) fetchArchive(ctx context.Context) (string, error) {
	path := o.cfg.File
	if archivestore.IsRemoteLocation(path) {
		store, err := archivestore.New(ctx, o.cfg)
		if err != nil {
			return "", apperrors.NewConfigError("build archive store", err)
		}
		local := filepath.Join(o.cfg.Directory, filepath.Base(path))
		if err := store.Get(ctx, path, local); err != nil {
			return "", apperrors.New(apperrors.KindRestoreLoad, "", "fetch archive", err)
		}
		path = local
	}

	plain, err := archivestore.Decompress(path)
	if err != nil {
		return "", apperrors.New(apperrors.KindRestoreLoad, "", "strip archive envelope", err)
	}
	return plain, nil
}

func (o *Orchestrator) loadOneTable(ctx context.Context, probe *metadata.Probe, restorer *restore.Restorer, table string) error {
	var imports metadata.ImportExpressions
	if !restorer.HasFallbackDump(table) {
		cols, err := probe.GetColumnTypes(ctx, table)
		if err != nil {
			return err
		}
		imports = metadata.DeriveImportExpressions(cols)
	}
	return restorer.RestoreTable(ctx, table, imports)
}

// applyStageDir applies every per-table DDL file in dir through the
// pool; pool.Run returning is the barrier before the next stage.
func (o *Orchestrator) applyStageDir(ctx context.Context, p *pool.Pool, applier *restore.SchemaApplier, stage, dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.ddl"))
	if err != nil {
		return apperrors.NewSchemaError("glob stage DDL", err)
	}
	sort.Strings(files)

	tasks := make([]pool.Task, 0, len(files))
	for _, file := range files {
		file := file
		table := strings.TrimSuffix(filepath.Base(file), ".ddl")
		tasks = append(tasks, pool.Task{
			Table: table,
			Run: func(ctx context.Context) error {
				return applier.ApplyFile(ctx, stage, file, true)
			},
		})
	}
	return p.Run(ctx, tasks)
}

func (o *Orchestrator) postSchemaHook(ctx context.Context) error {
	if o.cfg.PostSchemaCmd == "" {
		return nil
	}
	cmd := exec.CommandContext(ctx, "sh", "-c", o.cfg.PostSchemaCmd)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	o.logger.WithFields(map[string]interface{}{
		"command": o.cfg.PostSchemaCmd,
		"output":  out.String(),
	}).Info("post-schema command executed")
	if err != nil {
		return apperrors.NewSchemaError("post-schema command failed", err)
	}
	return nil
}

// writeStageFiles persists a SplitStages result into the working
// directory: the stage-1 file plus one ALTER file per table per
// non-empty stage buffer.
func writeStageFiles(l layout.Layout, stages ddl.Stages) error {
	if err := os.WriteFile(l.Stage1DDL(), []byte(stages.Stage1), 0o644); err != nil {
		return apperrors.NewSchemaError("write stage-1 DDL", err)
	}
	for dir, stage := range map[string]map[string]string{
		l.Stage2Dir(): stages.Stage2,
		l.Stage3Dir(): stages.Stage3,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apperrors.NewSchemaError("create stage directory", err)
		}
		for table, ddlText := range stage {
			if err := os.WriteFile(filepath.Join(dir, table+".ddl"), []byte(ddlText), 0o644); err != nil {
				return apperrors.NewSchemaError("write stage DDL for "+table, err)
			}
		}
	}
	return nil
}

// archiveStem derives the source database name from the archive file
// name: <database>.accel.dump, possibly with an envelope extension.
func archiveStem(archivePath string) string {
	base := filepath.Base(archivePath)
	if i := strings.Index(base, ".accel.dump"); i > 0 {
		return base[:i]
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// discoverTables scans an unpacked dump directory for CSV shards and
// fallback dumps, returning the sorted set of table names to load.
func discoverTables(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperrors.New(apperrors.KindRestoreLoad, "", "read unpacked directory", err)
	}

	set := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if m := shardNameRe.FindStringSubmatch(name); m != nil {
			set[m[1]] = true
		} else if m := fallbackNameRe.FindStringSubmatch(name); m != nil {
			set[m[1]] = true
		}
	}

	tables := make([]string, 0, len(set))
	for t := range set {
		tables = append(tables, t)
	}
	sort.Strings(tables)
	return tables, nil
}
