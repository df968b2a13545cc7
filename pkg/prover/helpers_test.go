package prover

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/require"

	"github.com/kvinwang/gpt-prover/pkg/crypto"
	"github.com/kvinwang/gpt-prover/pkg/engine"
	"github.com/kvinwang/gpt-prover/pkg/engine/jsvm"
	"github.com/kvinwang/gpt-prover/pkg/host"
	"github.com/kvinwang/gpt-prover/pkg/ledger"
	"github.com/kvinwang/gpt-prover/pkg/policy"
	"github.com/kvinwang/gpt-prover/pkg/store"
)

var (
	rootSeed   = []byte("0123456789abcdef0123456789abcdef")
	ownerAcct  = crypto.AccountID{0x0a}
	strangerID = crypto.AccountID{0x0b}
	engineID   = crypto.AccountID{0xee}
)

type fakeHost struct {
	codeHash crypto.Hash
	address  crypto.AccountID
	chain    *ledger.Ledger
	driver   *engine.Driver

	resp     *host.Response
	fetchErr error

	mu       sync.Mutex
	requests []engine.HTTPRequest
	reply    func(engine.HTTPRequest) (*engine.HTTPResponse, error)
}

func (h *fakeHost) CodeHash() crypto.Hash     { return h.codeHash }
func (h *fakeHost) Address() crypto.AccountID { return h.address }
func (h *fakeHost) BlockHeight() uint32       { return h.chain.Height() }

func (h *fakeHost) Driver(name string) (*engine.Driver, error) {
	if h.driver == nil || h.driver.Name != name {
		return nil, engine.ErrNoDriver
	}
	return h.driver, nil
}

func (h *fakeHost) Fetch(context.Context, string) (*host.Response, error) {
	return h.resp, h.fetchErr
}

func (h *fakeHost) Request(_ context.Context, req engine.HTTPRequest) (*engine.HTTPResponse, error) {
	h.mu.Lock()
	h.requests = append(h.requests, req)
	h.mu.Unlock()
	if h.reply == nil {
		return nil, errors.New("no network in tests")
	}
	return h.reply(req)
}

// countingInterpreter wraps another interpreter and records every call.
type countingInterpreter struct {
	mu    sync.Mutex
	inner engine.Interpreter
	calls [][]string
}

func (c *countingInterpreter) Execute(ctx context.Context, fragments []string, args []string) (engine.Value, error) {
	c.mu.Lock()
	c.calls = append(c.calls, append([]string(nil), args...))
	c.mu.Unlock()
	return c.inner.Execute(ctx, fragments, args)
}

func (c *countingInterpreter) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

type failingStore struct{ store.Store }

func (failingStore) Save(context.Context, store.Snapshot) error { return errors.New("disk full") }

type fixture struct {
	svc    *Service
	host   *fakeHost
	interp *countingInterpreter
	chain  *ledger.Ledger
	store  store.Store
	keys   *crypto.SeedDeriver
}

func newFixture(t *testing.T, p policy.Policy) *fixture {
	t.Helper()
	return newFixtureWith(t, p, jsvm.New(0))
}

func newFixtureWith(t *testing.T, p policy.Policy, inner engine.Interpreter) *fixture {
	t.Helper()
	keys, err := crypto.NewSeedDeriver(rootSeed)
	require.NoError(t, err)

	chain := ledger.New()
	interp := &countingInterpreter{inner: inner}
	h := &fakeHost{
		codeHash: crypto.HashString("prover binary"),
		address:  keys.Address(),
		chain:    chain,
		driver: &engine.Driver{
			Name:        engine.JSRuntime,
			Version:     semver.MustParse("1.0.0"),
			Identity:    engineID,
			Interpreter: interp,
		},
	}
	st := store.NewMemoryStore()

	svc, err := New(context.Background(), Options{
		Keys:          keys,
		Host:          h,
		Store:         st,
		Events:        chain,
		InitialOwner:  ownerAcct,
		InitialPolicy: p,
	})
	require.NoError(t, err)
	return &fixture{svc: svc, host: h, interp: interp, chain: chain, store: st, keys: keys}
}

func decodePayload(t *testing.T, out *ProvenOutput) ProvenPayload {
	t.Helper()
	var p ProvenPayload
	require.NoError(t, json.Unmarshal([]byte(out.Payload), &p))
	return p
}

func verify(t *testing.T, out *ProvenOutput) bool {
	t.Helper()
	ok, err := crypto.Verify(out.Pubkey, out.Signature, []byte(out.Payload))
	require.NoError(t, err)
	return ok
}

func ptr(s string) *string { return &s }
