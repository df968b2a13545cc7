// Package blobstore is content-addressed storage for interpreter modules.
// Blobs are keyed by their BLAKE2b-256 content hash, the same hash that becomes
// the engine identity bound into attestations.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kvinwang/gpt-prover/pkg/crypto"
)

// ErrNotFound is returned when no blob has the requested hash.
var ErrNotFound = errors.New("blob not found")

// Store defines the contract for content-addressed blob storage.
type Store interface {
	// Put persists data and returns its content hash.
	Put(ctx context.Context, data []byte) (crypto.Hash, error)
	// Get retrieves data by content hash and verifies it still matches.
	Get(ctx context.Context, h crypto.Hash) ([]byte, error)
	Exists(ctx context.Context, h crypto.Hash) (bool, error)
	Delete(ctx context.Context, h crypto.Hash) error
}

func objectName(prefix string, h crypto.Hash) string {
	return prefix + strings.TrimPrefix(h.Hex(), "0x") + ".blob"
}

func verify(h crypto.Hash, data []byte) ([]byte, error) {
	if got := crypto.HashCode(data); got != h {
		return nil, fmt.Errorf("blob %s is corrupt: content hashes to %s", h, got)
	}
	return data, nil
}

// FileStore is a filesystem-backed Store.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates a store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to ensure blob dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) Put(_ context.Context, data []byte) (crypto.Hash, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := crypto.HashCode(data)
	path := filepath.Join(s.baseDir, objectName("", h))
	if _, err := os.Stat(path); err == nil {
		return h, nil
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return crypto.Hash{}, fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return crypto.Hash{}, fmt.Errorf("failed to commit blob: %w", err)
	}
	return h, nil
}

func (s *FileStore) Get(_ context.Context, h crypto.Hash) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(s.baseDir, objectName("", h)))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, h)
		}
		return nil, err
	}
	return verify(h, data)
}

func (s *FileStore) Exists(_ context.Context, h crypto.Hash) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err := os.Stat(filepath.Join(s.baseDir, objectName("", h)))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (s *FileStore) Delete(_ context.Context, h crypto.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(filepath.Join(s.baseDir, objectName("", h)))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
