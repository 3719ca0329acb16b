package dump

import (
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbaccel/internal/layout"
	"dbaccel/internal/logging"
	"dbaccel/internal/metadata"
)

func testDumper(t *testing.T) (*Dumper, layout.Layout) {
	t.Helper()
	base := t.TempDir()
	l := layout.New(base, "shop")
	require.NoError(t, os.MkdirAll(l.Root(), 0o755))
	return New("user:pw@tcp(localhost:3306)/shop", "shop", l, logging.Default(), 0, true, 1000), l
}

func TestBuildSelect(t *testing.T) {
	q := buildSelect([]string{"`id`", "HEX(`payload`)"}, "files", 0)
	assert.Equal(t, "SELECT `id`, HEX(`payload`) FROM `files`", q)

	q = buildSelect([]string{"`id`"}, "users", 50)
	assert.Equal(t, "SELECT `id` FROM `users` LIMIT 50", q)
}

func TestWriteInfoSidecar(t *testing.T) {
	d, l := testDumper(t)

	require.NoError(t, d.writeInfo("users", 2500000))

	data, err := os.ReadFile(l.Info("users"))
	require.NoError(t, err)

	var info Info
	require.NoError(t, json.Unmarshal(data, &info))
	assert.Equal(t, int64(2500000), info.RecordCount)
}

func TestStreamRowsWritesShard(t *testing.T) {
	if _, err := exec.LookPath("gzip"); err != nil {
		t.Skip("gzip binary not available")
	}

	d, l := testDumper(t)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"id", "name"}).
		AddRow("1", "Alice").
		AddRow("2", nil).
		AddRow("3", "has, comma")
	mock.ExpectQuery("SELECT `id`, `name` FROM `users`").WillReturnRows(rows)

	written, shards, err := d.streamRows(context.Background(), db, "users", []string{"`id`", "`name`"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), written)
	assert.Equal(t, 1, shards)

	shardPath := l.Shard("users", 1)
	_, statErr := os.Stat(shardPath)
	require.NoError(t, statErr, "first shard must be .000001.csv.gz")

	out, err := exec.Command("gzip", "-dc", shardPath).Output()
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "id,name", lines[0])
	assert.Equal(t, "1,Alice", lines[1])
	assert.Equal(t, `2,\N`, lines[2])
	assert.Equal(t, `3,"has, comma"`, lines[3])

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStreamRowsZeroRowsWritesNoShard(t *testing.T) {
	d, l := testDumper(t)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT `id` FROM `empty`").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	written, shards, err := d.streamRows(context.Background(), db, "empty", []string{"`id`"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), written)
	assert.Equal(t, 0, shards)

	matches, _ := filepath.Glob(l.ShardGlob("empty"))
	assert.Empty(t, matches)
}

func TestRemoveShardsDeletesPartialAttempt(t *testing.T) {
	d, l := testDumper(t)

	for i := 1; i <= 3; i++ {
		require.NoError(t, os.WriteFile(l.Shard("logs", i), []byte("partial"), 0o644))
	}
	require.NoError(t, os.WriteFile(l.Info("logs"), []byte("{}"), 0o644))

	removeShards(d.layout, "logs")

	matches, _ := filepath.Glob(l.ShardGlob("logs"))
	assert.Empty(t, matches, "all shards removed between attempts")
	_, err := os.Stat(l.Info("logs"))
	assert.NoError(t, err, "info sidecar survives shard cleanup")
}

func TestPagingEligibleRoutesToFallback(t *testing.T) {
	cols := []metadata.Column{
		{Name: "id", DataType: "int"},
		{Name: "body", DataType: "longblob"},
	}
	exprs := metadata.DeriveExportExpressions(cols)
	assert.True(t, exprs.PagingRequired, "LONGBLOB column must route the table to fallback")
}
