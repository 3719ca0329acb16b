package archivestore

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/Azure/azure-storage-blob-go/azblob"
)

const azurePrefix = "dumps/"

// AzureStore publishes archives to an Azure Blob container.
type AzureStore struct {
	containerURL azblob.ContainerURL
	container    string
}

// NewAzureStore builds an AzureStore from a shared-key credential.
func NewAzureStore(accountName, accountKey, container string) (*AzureStore, error) {
	if accountName == "" || accountKey == "" || container == "" {
		return nil, fmt.Errorf("azure account, account key, and container are required")
	}

	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("create azure credential: %w", err)
	}

	pipeline := azblob.NewPipeline(credential, azblob.PipelineOptions{})
	serviceURL, err := url.Parse(fmt.Sprintf("https://%s.blob.core.windows.net", accountName))
	if err != nil {
		return nil, fmt.Errorf("parse azure service url: %w", err)
	}

	return &AzureStore{
		containerURL: azblob.NewServiceURL(*serviceURL, pipeline).NewContainerURL(container),
		container:    container,
	}, nil
}

// Put uploads the archive as a block blob.
func (s *AzureStore) Put(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	blobName := azurePrefix + path.Base(localPath)
	blobURL := s.containerURL.NewBlockBlobURL(blobName)

	_, err = azblob.UploadFileToBlockBlob(ctx, f, blobURL, azblob.UploadToBlockBlobOptions{
		BlockSize:   4 * 1024 * 1024,
		Parallelism: 8,
		BlobHTTPHeaders: azblob.BlobHTTPHeaders{
			ContentType: "application/octet-stream",
		},
	})
	if err != nil {
		return "", fmt.Errorf("upload archive to azure: %w", err)
	}
	return fmt.Sprintf("azure://%s/%s", s.container, blobName), nil
}

// Get downloads a stored archive to destPath.
func (s *AzureStore) Get(ctx context.Context, location, destPath string) error {
	blobName := strings.TrimPrefix(location, fmt.Sprintf("azure://%s/", s.container))
	blobURL := s.containerURL.NewBlockBlobURL(blobName)

	f, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	defer f.Close()

	err = azblob.DownloadBlobToFile(ctx, blobURL.BlobURL, 0, azblob.CountToEnd, f, azblob.DownloadFromBlobOptions{})
	if err != nil {
		return fmt.Errorf("download archive from azure: %w", err)
	}
	return nil
}

// List enumerates archives in the container under dumps/ starting with
// prefix.
func (s *AzureStore) List(ctx context.Context, prefix string) ([]ArchiveInfo, error) {
	var infos []ArchiveInfo
	for marker := (azblob.Marker{}); marker.NotDone(); {
		resp, err := s.containerURL.ListBlobsFlatSegment(ctx, marker, azblob.ListBlobsSegmentOptions{
			Prefix: azurePrefix + prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("list azure archives: %w", err)
		}
		marker = resp.NextMarker

		for _, blob := range resp.Segment.BlobItems {
			if !strings.Contains(blob.Name, ".accel.dump") {
				continue
			}
			var size int64
			if blob.Properties.ContentLength != nil {
				size = *blob.Properties.ContentLength
			}
			infos = append(infos, ArchiveInfo{
				Location:  fmt.Sprintf("azure://%s/%s", s.container, blob.Name),
				Name:      path.Base(blob.Name),
				Size:      size,
				UpdatedAt: blob.Properties.LastModified,
			})
		}
	}
	return infos, nil
}
