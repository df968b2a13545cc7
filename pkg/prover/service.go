// Package prover runs submitted scripts under an access policy and returns
// signed attestations that bind the output to the script, the engine, this
// instance and the block height.
package prover

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kvinwang/gpt-prover/pkg/crypto"
	"github.com/kvinwang/gpt-prover/pkg/engine"
	"github.com/kvinwang/gpt-prover/pkg/host"
	"github.com/kvinwang/gpt-prover/pkg/observability"
	"github.com/kvinwang/gpt-prover/pkg/policy"
	"github.com/kvinwang/gpt-prover/pkg/store"
)

// Host is what the prover needs from its runtime.
type Host interface {
	CodeHash() crypto.Hash
	Address() crypto.AccountID
	BlockHeight() uint32
	Driver(name string) (*engine.Driver, error)
	Fetch(ctx context.Context, url string) (*host.Response, error)
	Request(ctx context.Context, req engine.HTTPRequest) (*engine.HTTPResponse, error)
}

// EventLog records admin mutations. *ledger.Ledger implements it.
type EventLog interface {
	Append(ctx context.Context, kind string, author crypto.AccountID, data map[string]string) (uint32, error)
}

// Options wire a Service.
type Options struct {
	Keys  crypto.KeyDeriver
	Host  Host
	Store store.Store

	// Events is optional.
	Events        EventLog
	Observability *observability.Provider

	// Driver names the engine driver scripts run on; defaults to JsRuntime.
	Driver string

	// Initial state, applied only when the store is empty. A zero owner
	// means the instance's operator account.
	InitialOwner  crypto.AccountID
	InitialPolicy policy.Policy
	InitialAPI    store.Endpoint
}

// Service is the prover core.
type Service struct {
	keys   crypto.KeyDeriver
	host   Host
	store  store.Store
	events EventLog
	obs    *observability.Provider
	driver string
	logger *slog.Logger

	mu     sync.RWMutex
	owner  crypto.AccountID
	policy policy.Policy
	api    store.Endpoint
}

// New loads persisted state, or seeds and persists the initial state when the
// store is empty.
func New(ctx context.Context, opts Options) (*Service, error) {
	if opts.Keys == nil || opts.Host == nil || opts.Store == nil {
		return nil, errors.New("prover: keys, host and store are required")
	}
	s := &Service{
		keys:   opts.Keys,
		host:   opts.Host,
		store:  opts.Store,
		events: opts.Events,
		obs:    opts.Observability,
		driver: opts.Driver,
		logger: slog.Default().With("component", "prover"),
	}
	if s.driver == "" {
		s.driver = engine.JSRuntime
	}

	snap, err := opts.Store.Load(ctx)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		snap, err = s.initialState(opts)
		if err != nil {
			return nil, err
		}
		if err := opts.Store.Save(ctx, snap); err != nil {
			return nil, fmt.Errorf("persist initial state: %w", err)
		}
		s.logger.InfoContext(ctx, "initialized state", "owner", snap.Owner, "policy", snap.Policy.Kind())
	default:
		return nil, fmt.Errorf("load state: %w", err)
	}

	s.owner, s.policy, s.api = snap.Owner, snap.Policy, snap.API
	return s, nil
}

func (s *Service) initialState(opts Options) (store.Snapshot, error) {
	owner := opts.InitialOwner
	if owner.IsZero() {
		operator, err := s.keys.DeriveKey(crypto.LabelOperator)
		if err != nil {
			return store.Snapshot{}, fmt.Errorf("derive operator account: %w", err)
		}
		owner = crypto.AccountOf(operator)
	}
	p := opts.InitialPolicy
	if p == nil {
		p = policy.Public{}
	}
	p, err := policy.Clone(p)
	if err != nil {
		return store.Snapshot{}, err
	}
	if opts.InitialAPI.URL != "" {
		if err := validateAPIURL(opts.InitialAPI.URL); err != nil {
			return store.Snapshot{}, err
		}
	}
	return store.Snapshot{Owner: owner, Policy: p, API: opts.InitialAPI}, nil
}

// Owner returns the current owner.
func (s *Service) Owner() crypto.AccountID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owner
}

// Config is the readable state of the instance.
type Config struct {
	Owner  crypto.AccountID
	Policy policy.Policy
	API    store.Endpoint
}

// GetConfig returns the owner, the policy and the API endpoint as caller may
// see them: secrets and the API key are blanked unless caller is the owner.
func (s *Service) GetConfig(caller crypto.AccountID) (Config, error) {
	s.mu.RLock()
	owner, p, api := s.owner, s.policy, s.api
	s.mu.RUnlock()

	ownerView := isOwner(caller, owner)
	redacted, err := policy.RedactFor(p, ownerView)
	if err != nil {
		return Config{}, err
	}
	if !ownerView {
		api.Key = ""
	}
	return Config{Owner: owner, Policy: redacted, API: api}, nil
}

func isOwner(caller, owner crypto.AccountID) bool {
	return !caller.IsZero() && caller == owner
}

// current returns the active policy. Admin operations swap in new values and
// never mutate the old ones, so the result is safe to read without the lock.
func (s *Service) current() policy.Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}
