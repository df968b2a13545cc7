// Package host is the local runtime the prover runs against. It supplies what
// a chain would otherwise supply: the instance's own code hash and address,
// the block height, the registered interpreter drivers and outbound HTTP.
package host

import (
	"context"
	"fmt"
	"os"

	"github.com/kvinwang/gpt-prover/pkg/crypto"
	"github.com/kvinwang/gpt-prover/pkg/engine"
	"github.com/kvinwang/gpt-prover/pkg/ledger"
)

// Local implements the prover's host capability in process.
type Local struct {
	codeHash crypto.Hash
	address  crypto.AccountID
	chain    *ledger.Ledger
	drivers  *engine.Registry
	fetcher  *Fetcher
}

// Options configure a Local host.
type Options struct {
	CodeHash crypto.Hash
	Address  crypto.AccountID
	Ledger   *ledger.Ledger
	Drivers  *engine.Registry
	Fetcher  *Fetcher
}

func NewLocal(opts Options) (*Local, error) {
	if opts.CodeHash.IsZero() {
		return nil, fmt.Errorf("host: code hash is required")
	}
	if opts.Address.IsZero() {
		return nil, fmt.Errorf("host: address is required")
	}
	if opts.Ledger == nil || opts.Drivers == nil {
		return nil, fmt.Errorf("host: ledger and driver registry are required")
	}
	if opts.Fetcher == nil {
		opts.Fetcher = NewFetcher(FetcherConfig{})
	}
	return &Local{
		codeHash: opts.CodeHash,
		address:  opts.Address,
		chain:    opts.Ledger,
		drivers:  opts.Drivers,
		fetcher:  opts.Fetcher,
	}, nil
}

func (h *Local) CodeHash() crypto.Hash     { return h.codeHash }
func (h *Local) Address() crypto.AccountID { return h.address }
func (h *Local) BlockHeight() uint32       { return h.chain.Height() }

// Driver returns the driver registered under name.
func (h *Local) Driver(name string) (*engine.Driver, error) {
	return h.drivers.Lookup(name)
}

func (h *Local) Fetch(ctx context.Context, url string) (*Response, error) {
	return h.fetcher.Get(ctx, url)
}

// Request performs an outbound request on behalf of a script.
func (h *Local) Request(ctx context.Context, req engine.HTTPRequest) (*engine.HTTPResponse, error) {
	return h.fetcher.Do(ctx, req)
}

// ExecutableCodeHash hashes the running binary. A non-empty override, given as
// 0x hex, is used instead.
func ExecutableCodeHash(override string) (crypto.Hash, error) {
	if override != "" {
		return crypto.ParseHash(override)
	}
	path, err := os.Executable()
	if err != nil {
		return crypto.Hash{}, fmt.Errorf("locate executable: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return crypto.Hash{}, fmt.Errorf("read executable: %w", err)
	}
	return crypto.HashCode(data), nil
}
