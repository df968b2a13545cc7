package blobstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// StoreType represents the type of blob storage backend.
type StoreType string

const (
	StoreTypeFS  StoreType = "fs"
	StoreTypeS3  StoreType = "s3"
	StoreTypeGCS StoreType = "gcs"
)

// NewStoreFromEnv creates a blob store based on environment variables.
//
// Environment variables:
//   - ARTIFACT_STORAGE_TYPE: "fs" (default), "s3", or "gcs"
//
// For S3:
//   - AWS_REGION or ARTIFACT_S3_REGION
//   - ARTIFACT_S3_BUCKET (required)
//   - ARTIFACT_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - ARTIFACT_S3_PREFIX (optional)
//
// For GCS:
//   - ARTIFACT_GCS_BUCKET (required)
//   - ARTIFACT_GCS_PREFIX (optional)
//
// The filesystem store lives under dataDir/modules.
func NewStoreFromEnv(ctx context.Context, dataDir string) (Store, error) {
	storeType := StoreType(os.Getenv("ARTIFACT_STORAGE_TYPE"))
	if storeType == "" {
		storeType = StoreTypeFS
	}

	switch storeType {
	case StoreTypeFS:
		return NewFileStore(filepath.Join(dataDir, "modules"))
	case StoreTypeS3:
		return newS3StoreFromEnv(ctx)
	case StoreTypeGCS:
		return newGCSStoreFromEnv(ctx)
	default:
		return nil, fmt.Errorf("unsupported artifact storage type: %s", storeType)
	}
}

func newS3StoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("ARTIFACT_S3_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("ARTIFACT_S3_BUCKET is required for S3 storage")
	}

	region := os.Getenv("ARTIFACT_S3_REGION")
	if region == "" {
		region = os.Getenv("AWS_REGION")
	}
	if region == "" {
		region = "us-east-1"
	}

	return NewS3Store(ctx, S3StoreConfig{
		Bucket:   bucket,
		Region:   region,
		Endpoint: os.Getenv("ARTIFACT_S3_ENDPOINT"),
		Prefix:   os.Getenv("ARTIFACT_S3_PREFIX"),
	})
}

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("ARTIFACT_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("ARTIFACT_GCS_BUCKET is required for GCS storage")
	}
	return NewGCSStore(ctx, GCSStoreConfig{
		Bucket: bucket,
		Prefix: os.Getenv("ARTIFACT_GCS_PREFIX"),
	})
}
