// Package archivestore publishes finished .accel.dump tarballs to a
// configured destination (local filesystem, S3, GCS, or Azure Blob) and
// fetches them back for restore. It is a publish/fetch step around the
// dump/restore core: restore correctness never depends on it.
package archivestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"dbaccel/internal/config"
)

// ArchiveInfo summarizes one stored archive for listings.
type ArchiveInfo struct {
	Location  string    `json:"location"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store is the destination interface every provider implements.
type Store interface {
	// Put uploads the archive at localPath and returns its location.
	Put(ctx context.Context, localPath string) (string, error)
	// Get downloads the archive at location into destPath.
	Get(ctx context.Context, location, destPath string) error
	// List enumerates stored archives under prefix.
	List(ctx context.Context, prefix string) ([]ArchiveInfo, error)
}

// New builds the Store selected by cfg.ArchiveStore.
func New(ctx context.Context, cfg config.Config) (Store, error) {
	switch cfg.ArchiveStore {
	case config.ArchiveStoreLocal, "":
		return NewLocalStore(cfg.Directory), nil
	case config.ArchiveStoreS3:
		return NewS3Store(cfg.S3Bucket, cfg.S3Region, cfg.S3AccessKey, cfg.S3SecretKey)
	case config.ArchiveStoreGCS:
		return NewGCSStore(ctx, cfg.GCSBucket, cfg.GCSCredentialsPath)
	case config.ArchiveStoreAzure:
		return NewAzureStore(cfg.AzureAccount, cfg.AzureAccountKey, cfg.AzureContainer)
	default:
		return nil, fmt.Errorf("unknown archive store %q", cfg.ArchiveStore)
	}
}

// IsRemoteLocation reports whether location names a stored archive
// rather than a local path.
func IsRemoteLocation(location string) bool {
	for _, scheme := range []string{"s3://", "gs://", "azure://"} {
		if strings.HasPrefix(location, scheme) {
			return true
		}
	}
	return false
}

// Manifest is the sidecar written next to every published archive. It is
// informational: restore reads only the tarball itself.
type Manifest struct {
	ID              string    `json:"id"`
	Database        string    `json:"database"`
	CreatedAt       time.Time `json:"created_at"`
	Size            int64     `json:"size"`
	CompressedSize  int64     `json:"compressed_size"`
	Checksum        string    `json:"checksum"`
	ToolVersion     string    `json:"tool_version"`
	StorageLocation string    `json:"storage_location"`
}

// ManifestPath is the sidecar path for an archive at archivePath.
func ManifestPath(archivePath string) string {
	dir := filepath.Dir(archivePath)
	base := filepath.Base(archivePath)
	if i := strings.Index(base, ".accel.dump"); i > 0 {
		base = base[:i]
	}
	return filepath.Join(dir, base+".accel.meta.json")
}

// WriteManifest computes the archive's checksum and writes its manifest
// sidecar, returning the manifest for logging.
func WriteManifest(archivePath, database, location, toolVersion string) (*Manifest, error) {
	stat, err := os.Stat(archivePath)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	sum, err := fileChecksum(archivePath)
	if err != nil {
		return nil, err
	}

	m := &Manifest{
		ID:              uuid.NewString(),
		Database:        database,
		CreatedAt:       time.Now().UTC(),
		Size:            stat.Size(),
		CompressedSize:  stat.Size(),
		Checksum:        sum,
		ToolVersion:     toolVersion,
		StorageLocation: location,
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal manifest: %w", err)
	}
	if err := os.WriteFile(ManifestPath(archivePath), data, 0o644); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}
	return m, nil
}

// ReadManifest loads a manifest sidecar.
func ReadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

func fileChecksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("checksum %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
