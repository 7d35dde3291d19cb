package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ObjectInfo describes one uploaded file.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified *time.Time
}

// UploadOptions conveys upload destination metadata.
type UploadOptions struct {
	Bucket           string
	KeyPrefix        string
	ProgressCallback func(done, total int64)
}

// Service mirrors completed download directories to remote object storage.
type Service interface {
	UploadDirectory(ctx context.Context, localPath string, opts UploadOptions) (string, error)
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	DeletePrefix(ctx context.Context, bucket, prefix string) error
	GetObjectURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
}

// FileSystem is the binary-safe local storage used by download jobs.
type FileSystem interface {
	Exists(path string) (bool, error)
	MkdirAll(path string) error
	WriteFile(path string, data []byte) error
	ReadFile(path string) ([]byte, error)
	RemoveAll(path string) error
}

// JobKeyPrefix is the object key prefix a job directory is uploaded under.
func JobKeyPrefix(base string, jobID int64) string {
	jobPrefix := fmt.Sprintf("job-%d", jobID)
	if base = strings.Trim(base, "/"); base != "" {
		return base + "/" + jobPrefix
	}
	return jobPrefix
}

// ParseLocation splits an s3://bucket/prefix location returned by UploadDirectory.
// A non-empty wantBucket must match the location's bucket.
func ParseLocation(location, wantBucket string) (bucket, prefix string, err error) {
	rest, ok := strings.CutPrefix(location, "s3://")
	if !ok {
		return "", "", fmt.Errorf("invalid s3 location %q", location)
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("invalid s3 location %q", location)
	}
	if wantBucket != "" && bucket != wantBucket {
		return "", "", fmt.Errorf("s3 bucket mismatch: %s", bucket)
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return "", "", fmt.Errorf("s3 prefix missing in %q", location)
	}
	return bucket, prefix, nil
}
