package archivestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbaccel/internal/config"
)

func TestLocalStorePutGetList(t *testing.T) {
	srcDir := t.TempDir()
	storeDir := t.TempDir()

	archive := filepath.Join(srcDir, "shop.accel.dump")
	require.NoError(t, os.WriteFile(archive, []byte("tarball bytes"), 0o644))

	store := NewLocalStore(storeDir)
	ctx := context.Background()

	location, err := store.Put(ctx, archive)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(storeDir, "shop.accel.dump"), location)

	dest := filepath.Join(srcDir, "fetched.accel.dump")
	require.NoError(t, store.Get(ctx, location, dest))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "tarball bytes", string(data))

	infos, err := store.List(ctx, "shop")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "shop.accel.dump", infos[0].Name)
	assert.Equal(t, int64(len("tarball bytes")), infos[0].Size)
}

func TestLocalStorePutInPlaceIsNoOp(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "shop.accel.dump")
	require.NoError(t, os.WriteFile(archive, []byte("x"), 0o644))

	store := NewLocalStore(dir)
	location, err := store.Put(context.Background(), archive)
	require.NoError(t, err)
	assert.Equal(t, archive, location)
}

func TestRecompressRoundTrip(t *testing.T) {
	for _, kind := range []config.RecompressKind{config.RecompressZstd, config.RecompressLZ4} {
		t.Run(string(kind), func(t *testing.T) {
			dir := t.TempDir()
			archive := filepath.Join(dir, "shop.accel.dump")
			payload := []byte("pretend this is a tarball of gzipped shards")
			require.NoError(t, os.WriteFile(archive, payload, 0o644))

			wrapped, err := Recompress(archive, kind)
			require.NoError(t, err)
			assert.NotEqual(t, archive, wrapped)
			_, statErr := os.Stat(archive)
			assert.True(t, os.IsNotExist(statErr), "plain tarball removed after wrapping")

			plain, err := Decompress(wrapped)
			require.NoError(t, err)
			assert.Equal(t, archive, plain)

			data, err := os.ReadFile(plain)
			require.NoError(t, err)
			assert.Equal(t, payload, data)
		})
	}
}

func TestRecompressNonePassesThrough(t *testing.T) {
	path, err := Recompress("/tmp/shop.accel.dump", config.RecompressNone)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/shop.accel.dump", path)

	plain, err := Decompress("/tmp/shop.accel.dump")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/shop.accel.dump", plain)
}

func TestManifestWriteRead(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "shop.accel.dump")
	require.NoError(t, os.WriteFile(archive, []byte("tarball"), 0o644))

	m, err := WriteManifest(archive, "shop", archive, "1.2.3")
	require.NoError(t, err)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, "shop", m.Database)
	assert.Equal(t, int64(len("tarball")), m.Size)
	assert.Len(t, m.Checksum, 64)
	assert.Equal(t, "1.2.3", m.ToolVersion)

	path := ManifestPath(archive)
	assert.Equal(t, filepath.Join(dir, "shop.accel.meta.json"), path)

	loaded, err := ReadManifest(path)
	require.NoError(t, err)
	assert.Equal(t, m.ID, loaded.ID)
	assert.Equal(t, m.Checksum, loaded.Checksum)
}

func TestManifestPathStripsEnvelopeExtension(t *testing.T) {
	assert.Equal(t, "/tmp/shop.accel.meta.json", ManifestPath("/tmp/shop.accel.dump.zst"))
}

func TestIsRemoteLocation(t *testing.T) {
	assert.True(t, IsRemoteLocation("s3://bucket/dumps/shop.accel.dump"))
	assert.True(t, IsRemoteLocation("gs://bucket/dumps/shop.accel.dump"))
	assert.True(t, IsRemoteLocation("azure://container/dumps/shop.accel.dump"))
	assert.False(t, IsRemoteLocation("/tmp/shop.accel.dump"))
}

func TestNewSelectsProvider(t *testing.T) {
	cfg := config.Default()
	cfg.ArchiveStore = config.ArchiveStoreLocal

	store, err := New(context.Background(), cfg)
	require.NoError(t, err)
	_, ok := store.(*LocalStore)
	assert.True(t, ok)

	cfg.ArchiveStore = config.ArchiveStoreS3
	_, err = New(context.Background(), cfg)
	assert.Error(t, err, "s3 without a bucket is a configuration error")
}
