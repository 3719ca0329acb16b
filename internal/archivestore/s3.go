package archivestore

import (
	"context"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

const s3Prefix = "dumps/"

// S3Store publishes archives to an S3 bucket under the dumps/ prefix.
type S3Store struct {
	uploader   *s3manager.Uploader
	downloader *s3manager.Downloader
	client     *s3.S3
	bucket     string
}

// NewS3Store builds an S3Store. When accessKey is empty the SDK's
// default credential chain (env, shared config, instance role) applies.
func NewS3Store(bucket, region, accessKey, secretKey string) (*S3Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("s3 bucket is required")
	}

	awsCfg := &aws.Config{Region: aws.String(region)}
	if accessKey != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(accessKey, secretKey, "")
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}

	return &S3Store{
		uploader:   s3manager.NewUploader(sess),
		downloader: s3manager.NewDownloader(sess),
		client:     s3.New(sess),
		bucket:     bucket,
	}, nil
}

// Put streams the archive into the bucket; the uploader handles
// multipart for large tarballs.
func (s *S3Store) Put(ctx context.Context, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	key := s3Prefix + path.Base(localPath)
	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        f,
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("upload archive to s3: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Get downloads a stored archive to destPath. location accepts either
// the s3:// form Put returned or a bare object key.
func (s *S3Store) Get(ctx context.Context, location, destPath string) error {
	key := s.objectKey(location)

	f, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", destPath, err)
	}
	defer f.Close()

	_, err = s.downloader.DownloadWithContext(ctx, f, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download archive from s3: %w", err)
	}
	return nil
}

// List enumerates archives in the bucket under dumps/ starting with
// prefix.
func (s *S3Store) List(ctx context.Context, prefix string) ([]ArchiveInfo, error) {
	var infos []ArchiveInfo
	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s3Prefix + prefix),
	}
	err := s.client.ListObjectsV2PagesWithContext(ctx, input, func(page *s3.ListObjectsV2Output, last bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if !strings.Contains(key, ".accel.dump") {
				continue
			}
			infos = append(infos, ArchiveInfo{
				Location:  fmt.Sprintf("s3://%s/%s", s.bucket, key),
				Name:      path.Base(key),
				Size:      aws.Int64Value(obj.Size),
				UpdatedAt: aws.TimeValue(obj.LastModified),
			})
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("list s3 archives: %w", err)
	}
	return infos, nil
}

func (s *S3Store) objectKey(location string) string {
	key := strings.TrimPrefix(location, fmt.Sprintf("s3://%s/", s.bucket))
	return key
}
