package orchestrator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbaccel/internal/ddl"
	"dbaccel/internal/layout"
)

func TestArchiveStem(t *testing.T) {
	assert.Equal(t, "shop", archiveStem("/tmp/shop.accel.dump"))
	assert.Equal(t, "shop", archiveStem("/tmp/shop.accel.dump.zst"))
	assert.Equal(t, "shop", archiveStem("shop.accel.dump.lz4"))
	assert.Equal(t, "acme_prod", archiveStem("/var/backups/acme_prod.accel.dump"))
}

func TestDiscoverTables(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{
		"users.000001.csv.gz",
		"logs.000001.csv.gz",
		"logs.000250.csv.gz",
		"files.sql.gz",
		"users.info",
		"schema.ddl.orig",
		"schema.ddl.tokenised",
		"accel_schema_stage_1.ddl",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "stage_2"), 0o755))

	tables, err := discoverTables(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"files", "logs", "users"}, tables)
}

func TestWriteStageFiles(t *testing.T) {
	base := t.TempDir()
	l := layout.New(base, "shop")
	require.NoError(t, os.MkdirAll(l.Root(), 0o755))

	stages := ddl.Stages{
		Stage1: "CREATE TABLE `users` (\n  `id` int NOT NULL\n) ENGINE=InnoDB;\n",
		Stage2: map[string]string{
			"users": "ALTER TABLE `users` MODIFY `id` int NOT NULL AUTO_INCREMENT PRIMARY KEY;\n",
		},
		Stage3: map[string]string{
			"orders": "ALTER TABLE `orders` ADD CONSTRAINT `fk_user` FOREIGN KEY (`user_id`) REFERENCES `users` (`id`);\n",
		},
	}

	require.NoError(t, writeStageFiles(l, stages))

	stage1, err := os.ReadFile(l.Stage1DDL())
	require.NoError(t, err)
	assert.Equal(t, stages.Stage1, string(stage1))

	stage2, err := os.ReadFile(l.Stage2DDL("users"))
	require.NoError(t, err)
	assert.Contains(t, string(stage2), "AUTO_INCREMENT PRIMARY KEY")

	stage3, err := os.ReadFile(l.Stage3DDL("orders"))
	require.NoError(t, err)
	assert.Contains(t, string(stage3), "ADD CONSTRAINT")

	_, err = os.Stat(l.Stage2DDL("orders"))
	assert.True(t, os.IsNotExist(err), "no stage-2 file for a table with no stage-2 buffer")
}
