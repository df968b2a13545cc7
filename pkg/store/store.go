// Package store persists the prover's mutable state: the owner, the access
// policy and the chat API endpoint. Backends: memory, SQL (sqlite, postgres) and redis.
package store

import (
	"context"
	"errors"
	"sync"

	"github.com/kvinwang/gpt-prover/pkg/crypto"
	"github.com/kvinwang/gpt-prover/pkg/policy"
)

// ErrNotFound is returned by Load when no state has been saved yet.
var ErrNotFound = errors.New("state not found")

// Endpoint is the chat completion API the embedded ask script calls.
type Endpoint struct {
	URL string
	Key string
}

// Snapshot is the full mutable state of a prover instance.
type Snapshot struct {
	Owner  crypto.AccountID
	Policy policy.Policy
	API    Endpoint
}

// Store loads and saves snapshots. Save replaces the stored state atomically.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Save(ctx context.Context, s Snapshot) error
}

// MemoryStore keeps the snapshot in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	snap  Snapshot
	saved bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(_ context.Context) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.saved {
		return Snapshot{}, ErrNotFound
	}
	return cloneSnapshot(m.snap)
}

func (m *MemoryStore) Save(_ context.Context, s Snapshot) error {
	c, err := cloneSnapshot(s)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = c
	m.saved = true
	return nil
}

func cloneSnapshot(s Snapshot) (Snapshot, error) {
	p, err := policy.Clone(s.Policy)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Owner: s.Owner, Policy: p, API: s.API}, nil
}
