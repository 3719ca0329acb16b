package restore

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbaccel/internal/layout"
	"dbaccel/internal/logging"
	"dbaccel/internal/metadata"
)

func testRestorer(t *testing.T) (*Restorer, layout.Layout) {
	t.Helper()
	base := t.TempDir()
	l := layout.New(base, "shop")
	require.NoError(t, os.MkdirAll(l.Root(), 0o755))
	client := VendorClient{Host: "localhost", Port: 3306, Username: "app"}
	return New("user:pw@tcp(localhost:3306)/shop", "shop", client, l, logging.Default()), l
}

func TestShardsReturnedInOrdinalOrder(t *testing.T) {
	r, l := testRestorer(t)

	for _, n := range []int{250, 1, 500} {
		require.NoError(t, os.WriteFile(l.Shard("logs", n), []byte("x"), 0o644))
	}

	shards, err := r.Shards("logs")
	require.NoError(t, err)
	require.Len(t, shards, 3)
	assert.Equal(t, l.Shard("logs", 1), shards[0])
	assert.Equal(t, l.Shard("logs", 250), shards[1])
	assert.Equal(t, l.Shard("logs", 500), shards[2])
}

func TestHasFallbackDump(t *testing.T) {
	r, l := testRestorer(t)

	assert.False(t, r.HasFallbackDump("files"))
	require.NoError(t, os.WriteFile(l.FallbackDump("files"), []byte("x"), 0o644))
	assert.True(t, r.HasFallbackDump("files"))
}

func TestReadInfo(t *testing.T) {
	r, l := testRestorer(t)

	_, ok, err := r.readInfo("users")
	require.NoError(t, err)
	assert.False(t, ok, "missing sidecar disables verification")

	require.NoError(t, os.WriteFile(l.Info("users"), []byte(`{"record_count":2500000}`), 0o644))
	count, ok, err := r.readInfo("users")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2500000), count)

	require.NoError(t, os.WriteFile(l.Info("bad"), []byte("not json"), 0o644))
	_, _, err = r.readInfo("bad")
	assert.Error(t, err)
}

func TestBuildLoadStatementPlainColumns(t *testing.T) {
	imports := metadata.DeriveImportExpressions([]metadata.Column{
		{Name: "id", DataType: "int"},
		{Name: "name", DataType: "varchar"},
	})

	stmt := BuildLoadStatement("/tmp/shop/users.fifo", "users", imports)

	assert.Contains(t, stmt, "LOAD DATA LOCAL INFILE '/tmp/shop/users.fifo' INTO TABLE `users`")
	assert.Contains(t, stmt, "CHARACTER SET utf8")
	assert.Contains(t, stmt, `COLUMNS TERMINATED BY ',' OPTIONALLY ENCLOSED BY '"'`)
	assert.Contains(t, stmt, "IGNORE 1 ROWS")
	assert.Contains(t, stmt, "(`id`, `name`)")
	assert.NotContains(t, stmt, ") SET ")
}

func TestBuildLoadStatementBlobColumnsBindThroughUnhex(t *testing.T) {
	imports := metadata.DeriveImportExpressions([]metadata.Column{
		{Name: "id", DataType: "int"},
		{Name: "payload", DataType: "blob"},
	})

	stmt := BuildLoadStatement("/tmp/shop/files.fifo", "files", imports)

	assert.Contains(t, stmt, "(`id`, @payload)")
	assert.Contains(t, stmt, "SET `payload`=UNHEX(@payload)")
}

func TestVendorClientArgs(t *testing.T) {
	client := VendorClient{Host: "db.example.com", Port: 3307, Username: "app"}
	assert.Equal(t, []string{"-h", "db.example.com", "-P", "3307", "-u", "app"}, client.Args())
}
