// Package storage offloads finished downloads to object storage so local
// disk can be reclaimed, and serves them back through presigned URLs.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ObjectInfo describes one archived object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified *time.Time
}

// UploadOptions conveys the archive destination.
type UploadOptions struct {
	Bucket           string
	KeyPrefix        string
	ProgressCallback func(done, total int64)
}

// Archive persists completed downloads in remote object storage. Upload
// returns a location of the form s3://bucket/prefix that the registry keeps
// alongside the download; ParseLocation turns it back into list/presign
// coordinates.
type Archive interface {
	Upload(ctx context.Context, localPath string, opts UploadOptions) (string, error)
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	DeletePrefix(ctx context.Context, bucket, prefix string) error
	PresignGet(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
}

// Location builds the archive location string stored in the registry.
func Location(bucket, prefix string) string {
	return fmt.Sprintf("s3://%s/%s", bucket, strings.Trim(prefix, "/"))
}

// ParseLocation splits an s3://bucket/prefix location into its parts.
func ParseLocation(location string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(location, "s3://")
	if !ok {
		return "", "", fmt.Errorf("unsupported archive location %q", location)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("archive location %q has no bucket", location)
	}
	return bucket, strings.Trim(prefix, "/"), nil
}
