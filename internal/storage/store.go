package storage

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/loqalabs/loqa-podcast/internal/config"
)

// ObjectStore writes artifacts. Put overwrites an existing object with the same key.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) (string, error)
}

// New builds the object store selected by cfg.Mode.
func New(cfg config.StorageConfig) (ObjectStore, error) {
	switch cfg.Mode {
	case "", "filesystem":
		return NewFilesystemStore(cfg.Root)
	case "s3":
		return NewS3Store(S3Options{
			Region:         cfg.Region,
			Endpoint:       cfg.Endpoint,
			ForcePathStyle: cfg.ForcePathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown storage mode %q", cfg.Mode)
	}
}

func validateKey(bucket, key string) error {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return fmt.Errorf("invalid bucket %q", bucket)
	}
	if key == "" || strings.HasPrefix(key, "/") {
		return fmt.Errorf("invalid key %q", key)
	}
	if cleaned := path.Clean(key); cleaned != key || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return fmt.Errorf("invalid key %q", key)
	}
	return nil
}
