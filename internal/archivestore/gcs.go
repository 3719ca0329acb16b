package archivestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const gcsPrefix = "dumps/"

// GCSStore publishes archives to a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCSStore builds a GCSStore. When credentialsPath is empty the
// client falls back to application default credentials.
func NewGCSStore(ctx context.Context, bucket, credentialsPath string) (*GCSStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs bucket is required")
	}

	var client *storage.Client
	var err error
	if credentialsPath != "" {
		client, err = storage.NewClient(ctx, option.WithCredentialsFile(credentialsPath))
	} else {
		client, err = storage.NewClient(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}

	return &GCSStore{client: client, bucket: bucket}, nil
}

// Put streams the archive into the bucket.
func (s *GCSStore) Put(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	objectName := gcsPrefix + path.Base(localPath)
	w := s.client.Bucket(s.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = "application/octet-stream"

	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return "", fmt.Errorf("upload archive to gcs: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize gcs upload: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, objectName), nil
}

// Get downloads a stored archive to destPath.
func (s *GCSStore) Get(ctx context.Context, location, destPath string) error {
	objectName := strings.TrimPrefix(location, fmt.Sprintf("gs://%s/", s.bucket))

	r, err := s.client.Bucket(s.bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("open gcs object %s: %w", objectName, err)
	}
	defer r.Close()

	f, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("download archive from gcs: %w", err)
	}
	return f.Close()
}

// List enumerates archives in the bucket under dumps/ starting with
// prefix.
func (s *GCSStore) List(ctx context.Context, prefix string) ([]ArchiveInfo, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: gcsPrefix + prefix})

	var infos []ArchiveInfo
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list gcs archives: %w", err)
		}
		if !strings.Contains(attrs.Name, ".accel.dump") {
			continue
		}
		infos = append(infos, ArchiveInfo{
			Location:  fmt.Sprintf("gs://%s/%s", s.bucket, attrs.Name),
			Name:      path.Base(attrs.Name),
			Size:      attrs.Size,
			UpdatedAt: attrs.Updated,
		})
	}
	return infos, nil
}
