// Package ledger is the prover's local chain: an append-only, hash-chained log
// whose length is the block height bound into every attestation.
//
//   - Each entry is hash-chained to its predecessor
//   - Append-only; no deletions or mutations
//   - Entries may be mirrored to a Journal and replayed on start
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gowebpki/jcs"

	"github.com/kvinwang/gpt-prover/pkg/crypto"
)

// Entry kinds written by the prover.
const (
	KindTick  = "tick"
	KindAdmin = "admin"
)

// Entry is an immutable, hash-chained ledger entry.
type Entry struct {
	Height      uint32            `json:"height"`
	Kind        string            `json:"kind"`
	ContentHash crypto.Hash       `json:"content_hash"`
	PrevHash    crypto.Hash       `json:"prev_hash"`
	Timestamp   time.Time         `json:"timestamp"`
	Author      crypto.AccountID  `json:"author"`
	Data        map[string]string `json:"data,omitempty"`
}

// Journal persists entries outside the process.
type Journal interface {
	AppendEntry(ctx context.Context, e Entry) error
	LoadEntries(ctx context.Context) ([]Entry, error)
}

// Ledger is an append-only, hash-chained log.
type Ledger struct {
	mu       sync.RWMutex
	entries  []Entry
	headHash crypto.Hash
	journal  Journal
	clock    func() time.Time
}

// New creates an empty in-memory ledger.
func New() *Ledger {
	return &Ledger{
		entries: make([]Entry, 0),
		clock:   time.Now,
	}
}

// Open replays a journal into a new ledger and keeps appending to it. The
// replayed chain must verify.
func Open(ctx context.Context, j Journal) (*Ledger, error) {
	entries, err := j.LoadEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger replay: %w", err)
	}
	l := New()
	l.entries = append(l.entries, entries...)
	if ok, reason := l.Verify(); !ok {
		return nil, fmt.Errorf("ledger replay: %s", reason)
	}
	if n := len(entries); n > 0 {
		l.headHash = entries[n-1].ContentHash
	}
	l.journal = j
	return l, nil
}

// WithClock overrides clock for testing.
func (l *Ledger) WithClock(clock func() time.Time) *Ledger {
	l.clock = clock
	return l
}

// Append adds an entry and returns its height. With a journal attached the
// entry is persisted first; a journal failure leaves the ledger unchanged.
func (l *Ledger) Append(ctx context.Context, kind string, author crypto.AccountID, data map[string]string) (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	height := uint32(len(l.entries)) + 1
	contentHash, err := entryHash(height, kind, author, data, l.headHash)
	if err != nil {
		return 0, err
	}

	entry := Entry{
		Height:      height,
		Kind:        kind,
		ContentHash: contentHash,
		PrevHash:    l.headHash,
		Timestamp:   l.clock().UTC(),
		Author:      author,
		Data:        data,
	}
	if l.journal != nil {
		if err := l.journal.AppendEntry(ctx, entry); err != nil {
			return 0, fmt.Errorf("ledger journal: %w", err)
		}
	}

	l.entries = append(l.entries, entry)
	l.headHash = contentHash
	return height, nil
}

// Get retrieves an entry by height.
func (l *Ledger) Get(height uint32) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if height == 0 || int(height) > len(l.entries) {
		return nil, fmt.Errorf("entry %d not found", height)
	}
	entry := l.entries[height-1]
	return &entry, nil
}

// Head returns the current head hash; zero before the first entry.
func (l *Ledger) Head() crypto.Hash {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.headHash
}

// Height returns the number of entries, which is the current block height.
func (l *Ledger) Height() uint32 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return uint32(len(l.entries))
}

// Verify checks the integrity of the entire chain.
func (l *Ledger) Verify() (bool, string) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var prevHash crypto.Hash
	for i, entry := range l.entries {
		if entry.Height != uint32(i+1) {
			return false, fmt.Sprintf("height gap at entry %d: got %d", i+1, entry.Height)
		}
		if entry.PrevHash != prevHash {
			return false, fmt.Sprintf("chain broken at entry %d: expected prev %s, got %s", i+1, prevHash, entry.PrevHash)
		}
		computed, err := entryHash(entry.Height, entry.Kind, entry.Author, entry.Data, entry.PrevHash)
		if err != nil {
			return false, fmt.Sprintf("failed to hash entry %d", i+1)
		}
		if computed != entry.ContentHash {
			return false, fmt.Sprintf("hash mismatch at entry %d", i+1)
		}
		prevHash = entry.ContentHash
	}
	return true, "chain verified"
}

func entryHash(height uint32, kind string, author crypto.AccountID, data map[string]string, prev crypto.Hash) (crypto.Hash, error) {
	hashInput := struct {
		Height uint32            `json:"height"`
		Kind   string            `json:"kind"`
		Author crypto.AccountID  `json:"author"`
		Data   map[string]string `json:"data"`
		Prev   crypto.Hash       `json:"prev"`
	}{height, kind, author, data, prev}

	raw, err := json.Marshal(hashInput)
	if err != nil {
		return crypto.Hash{}, fmt.Errorf("failed to marshal entry: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return crypto.Hash{}, fmt.Errorf("failed to canonicalize entry: %w", err)
	}
	return crypto.HashCode(canonical), nil
}
