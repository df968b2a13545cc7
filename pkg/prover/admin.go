package prover

import (
	"context"
	"fmt"
	"net/url"

	"github.com/kvinwang/gpt-prover/pkg/crypto"
	"github.com/kvinwang/gpt-prover/pkg/ledger"
	"github.com/kvinwang/gpt-prover/pkg/policy"
	"github.com/kvinwang/gpt-prover/pkg/store"
)

// Admin operation names, as recorded in ledger events.
const (
	OpTransferOwnership = "transfer_ownership"
	OpUpdateConfig      = "update_config"
	OpUpdateSecret      = "update_secret"
	OpAllowCodeHash     = "allow_code_hash"
	OpSetSecret         = "set_secret"
	OpUpdateAPIURL      = "update_api_url"
	OpUpdateAPIKey      = "update_api_key"
)

// state is everything an admin call may change.
type state struct {
	owner  crypto.AccountID
	policy policy.Policy
	api    store.Endpoint
}

type transition func(st state) (state, error)

// TransferOwnership hands the instance to newOwner.
func (s *Service) TransferOwnership(ctx context.Context, caller, newOwner crypto.AccountID) error {
	return s.mutate(ctx, caller, OpTransferOwnership, map[string]string{"new_owner": newOwner.Hex()},
		func(st state) (state, error) {
			if newOwner.IsZero() {
				return state{}, fmt.Errorf("%w: new owner must not be the zero account", ErrBadConfig)
			}
			st.owner = newOwner
			return st, nil
		})
}

// UpdateConfig replaces the whole policy.
func (s *Service) UpdateConfig(ctx context.Context, caller crypto.AccountID, p policy.Policy) error {
	return s.mutate(ctx, caller, OpUpdateConfig, nil, func(st state) (state, error) {
		next, err := policy.Clone(p)
		st.policy = next
		return st, err
	})
}

// UpdateSecret replaces the shared whitelist secret.
func (s *Service) UpdateSecret(ctx context.Context, caller crypto.AccountID, secret string) error {
	return s.mutate(ctx, caller, OpUpdateSecret, nil, func(st state) (state, error) {
		next, err := policy.WithSecret(st.policy, secret)
		st.policy = next
		return st, err
	})
}

// AllowCodeHash adds h to the whitelist. Allowing a listed hash changes nothing.
func (s *Service) AllowCodeHash(ctx context.Context, caller crypto.AccountID, h crypto.Hash) error {
	return s.mutate(ctx, caller, OpAllowCodeHash, map[string]string{"code_hash": h.Hex()},
		func(st state) (state, error) {
			next, err := policy.WithAllowed(st.policy, h)
			st.policy = next
			return st, err
		})
}

// SetSecret registers or overwrites the secret for one code hash.
func (s *Service) SetSecret(ctx context.Context, caller crypto.AccountID, h crypto.Hash, secret string) error {
	return s.mutate(ctx, caller, OpSetSecret, map[string]string{"code_hash": h.Hex()},
		func(st state) (state, error) {
			next, err := policy.WithCodeSecret(st.policy, h, secret)
			st.policy = next
			return st, err
		})
}

// UpdateAPIURL points the ask entry points at a chat completion endpoint.
func (s *Service) UpdateAPIURL(ctx context.Context, caller crypto.AccountID, apiURL string) error {
	return s.mutate(ctx, caller, OpUpdateAPIURL, map[string]string{"api_url": apiURL},
		func(st state) (state, error) {
			if err := validateAPIURL(apiURL); err != nil {
				return state{}, err
			}
			st.api.URL = apiURL
			return st, nil
		})
}

// UpdateAPIKey replaces the bearer key sent to the chat completion endpoint.
func (s *Service) UpdateAPIKey(ctx context.Context, caller crypto.AccountID, key string) error {
	return s.mutate(ctx, caller, OpUpdateAPIKey, nil, func(st state) (state, error) {
		st.api.Key = key
		return st, nil
	})
}

func validateAPIURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: api url must be an absolute http(s) url", ErrBadConfig)
	}
	return nil
}

// mutate applies fn to a copy of the state, persists the result and only then
// swaps it in. Every failure leaves state as it was.
func (s *Service) mutate(ctx context.Context, caller crypto.AccountID, op string, data map[string]string, fn transition) (err error) {
	ctx, done := s.obs.TrackOperation(ctx, op)
	defer func() { done(err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !isOwner(caller, s.owner) {
		s.logger.WarnContext(ctx, "admin call rejected", "op", op, "caller", caller)
		return fmt.Errorf("%w: caller %s is not the owner", ErrUnauthorized, caller)
	}

	next, err := fn(state{owner: s.owner, policy: s.policy, api: s.api})
	if err != nil {
		return err
	}
	if err := s.store.Save(ctx, store.Snapshot{Owner: next.owner, Policy: next.policy, API: next.api}); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	s.owner, s.policy, s.api = next.owner, next.policy, next.api

	s.record(ctx, caller, op, next.policy, data)
	s.logger.InfoContext(ctx, "admin call applied", "op", op, "caller", caller, "policy", next.policy.Kind())
	return nil
}

func (s *Service) record(ctx context.Context, caller crypto.AccountID, op string, p policy.Policy, extra map[string]string) {
	if s.events == nil {
		return
	}
	digest, err := policy.Digest(p)
	if err != nil {
		s.logger.WarnContext(ctx, "policy digest failed", "op", op, "error", err)
		return
	}
	data := map[string]string{
		"op":            op,
		"policy_kind":   string(p.Kind()),
		"policy_digest": digest.Hex(),
	}
	for k, v := range extra {
		data[k] = v
	}
	if _, err := s.events.Append(ctx, ledger.KindAdmin, caller, data); err != nil {
		s.logger.WarnContext(ctx, "admin event not recorded", "op", op, "error", err)
	}
}
