package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"

	"github.com/kvinwang/gpt-prover/pkg/crypto"
)

// GCSStore implements Store using Google Cloud Storage.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
}

// GCSStoreConfig holds configuration for GCSStore.
type GCSStoreConfig struct {
	Bucket string
	Prefix string
}

// NewGCSStore creates a GCS-backed store using application default credentials.
func NewGCSStore(ctx context.Context, cfg GCSStoreConfig) (*GCSStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCSStore{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

func (s *GCSStore) object(h crypto.Hash) *storage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(objectName(s.prefix, h))
}

func (s *GCSStore) Put(ctx context.Context, data []byte) (crypto.Hash, error) {
	h := crypto.HashCode(data)
	obj := s.object(h)
	if _, err := obj.Attrs(ctx); err == nil {
		return h, nil
	}

	w := obj.NewWriter(ctx)
	w.ContentType = "application/wasm"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return crypto.Hash{}, fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return crypto.Hash{}, fmt.Errorf("gcs close failed: %w", err)
	}
	return h, nil
}

func (s *GCSStore) Get(ctx context.Context, h crypto.Hash) ([]byte, error) {
	reader, err := s.object(h).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, h)
		}
		return nil, fmt.Errorf("gcs get failed for %s: %w", h, err)
	}
	defer func() { _ = reader.Close() }()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("gcs read failed for %s: %w", h, err)
	}
	return verify(h, data)
}

func (s *GCSStore) Exists(ctx context.Context, h crypto.Hash) (bool, error) {
	_, err := s.object(h).Attrs(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("gcs attrs error: %w", err)
	}
	return true, nil
}

func (s *GCSStore) Delete(ctx context.Context, h crypto.Hash) error {
	err := s.object(h).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("gcs delete failed for %s: %w", h, err)
	}
	return nil
}

// Close closes the GCS client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
