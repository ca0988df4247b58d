package upload

import (
	"context"
	"fmt"
	"os"
	"path"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"
)

// GCSUploader copies the log file to a Cloud Storage bucket, one object per
// upload.
type GCSUploader struct {
	client     *gcs.Client
	bucket     string
	prefix     string
	instanceID string
	now        func() time.Time
}

// NewGCSUploader creates a client from a service account key file. An empty
// keyPath uses application default credentials.
func NewGCSUploader(ctx context.Context, bucket, prefix, instanceID, keyPath string) (*GCSUploader, error) {
	var opts []option.ClientOption
	if keyPath != "" {
		if _, err := os.Stat(keyPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", keyPath)
		}
		opts = append(opts, option.WithCredentialsFile(keyPath))
	}

	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	return &GCSUploader{
		client:     client,
		bucket:     bucket,
		prefix:     prefix,
		instanceID: instanceID,
		now:        time.Now,
	}, nil
}

// Upload writes the file to gs://bucket/prefix/instance/<ts>-<uuid>.log.
func (u *GCSUploader) Upload(ctx context.Context, localPath string) error {
	data, err := readLog(localPath)
	if err != nil {
		return err
	}

	name := objectName(u.prefix, u.instanceID, u.now())
	writer := u.client.Bucket(u.bucket).Object(name).NewWriter(ctx)
	writer.ContentType = "text/plain; charset=utf-8"
	writer.CacheControl = "no-cache, no-store, must-revalidate"

	if _, err := writer.Write(data); err != nil {
		writer.Close()
		return fmt.Errorf("failed to copy %s to GCS object %s: %w", localPath, name, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for %s: %w", name, err)
	}
	return nil
}

// Close releases the storage client.
func (u *GCSUploader) Close() error {
	return u.client.Close()
}

func objectName(prefix, instanceID string, t time.Time) string {
	file := fmt.Sprintf("%s-%s.log", t.UTC().Format("20060102T150405Z"), uuid.NewString())
	return path.Join(prefix, instanceID, file)
}
