package prover

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvinwang/gpt-prover/pkg/crypto"
	"github.com/kvinwang/gpt-prover/pkg/policy"
)

func TestAdmin_NonOwnerLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	initial := policy.Whitelist{Secret: "s", AllowedCodeHashes: []crypto.Hash{crypto.HashString("a")}}
	f := newFixture(t, initial)

	before, err := f.svc.GetConfig(ownerAcct)
	require.NoError(t, err)

	for _, caller := range []crypto.AccountID{strangerID, {}} {
		assert.ErrorIs(t, f.svc.UpdateConfig(ctx, caller, policy.Public{}), ErrUnauthorized)
		assert.ErrorIs(t, f.svc.UpdateSecret(ctx, caller, "stolen"), ErrUnauthorized)
		assert.ErrorIs(t, f.svc.AllowCodeHash(ctx, caller, crypto.HashString("b")), ErrUnauthorized)
		assert.ErrorIs(t, f.svc.SetSecret(ctx, caller, crypto.HashString("b"), "x"), ErrUnauthorized)
		assert.ErrorIs(t, f.svc.TransferOwnership(ctx, caller, caller), ErrUnauthorized)
		assert.ErrorIs(t, f.svc.UpdateAPIURL(ctx, caller, "https://evil.example"), ErrUnauthorized)
		assert.ErrorIs(t, f.svc.UpdateAPIKey(ctx, caller, "stolen"), ErrUnauthorized)
	}

	after, err := f.svc.GetConfig(ownerAcct)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, uint32(0), f.chain.Height(), "rejected calls record nothing")
}

func TestAdmin_TransferOwnership(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, policy.Public{})

	require.NoError(t, f.svc.TransferOwnership(ctx, ownerAcct, strangerID))
	assert.Equal(t, strangerID, f.svc.Owner())

	assert.ErrorIs(t, f.svc.UpdateConfig(ctx, ownerAcct, policy.Whitelist{}), ErrUnauthorized)
	require.NoError(t, f.svc.UpdateConfig(ctx, strangerID, policy.Whitelist{}))

	assert.ErrorIs(t, f.svc.TransferOwnership(ctx, strangerID, crypto.AccountID{}), ErrBadConfig)
	assert.Equal(t, strangerID, f.svc.Owner())
}

func TestAdmin_VariantGuards(t *testing.T) {
	ctx := context.Background()
	h := crypto.HashString("code")

	f := newFixture(t, policy.Public{})
	assert.ErrorIs(t, f.svc.UpdateSecret(ctx, ownerAcct, "s"), ErrBadConfig)
	assert.ErrorIs(t, f.svc.AllowCodeHash(ctx, ownerAcct, h), ErrBadConfig)
	assert.ErrorIs(t, f.svc.SetSecret(ctx, ownerAcct, h, "s"), ErrBadConfig)

	w := newFixture(t, policy.Whitelist{})
	assert.ErrorIs(t, w.svc.SetSecret(ctx, ownerAcct, h, "s"), ErrBadConfig)

	pc := newFixture(t, policy.PerCodeSecret{})
	assert.ErrorIs(t, pc.svc.UpdateSecret(ctx, ownerAcct, "s"), ErrBadConfig)
	assert.ErrorIs(t, pc.svc.AllowCodeHash(ctx, ownerAcct, h), ErrBadConfig)
	require.NoError(t, pc.svc.SetSecret(ctx, ownerAcct, h, "s1"))
	require.NoError(t, pc.svc.SetSecret(ctx, ownerAcct, h, "s2"))

	cfg, err := pc.svc.GetConfig(ownerAcct)
	require.NoError(t, err)
	assert.Equal(t, map[crypto.Hash]string{h: "s2"}, cfg.Policy.(policy.PerCodeSecret).Secrets)

	assert.ErrorIs(t, pc.svc.UpdateConfig(ctx, ownerAcct, nil), ErrBadConfig)
}

func TestAdmin_AllowCodeHashIdempotent(t *testing.T) {
	ctx := context.Background()
	h := crypto.HashString("code")
	f := newFixture(t, policy.Whitelist{Secret: "s"})

	require.NoError(t, f.svc.AllowCodeHash(ctx, ownerAcct, h))
	require.NoError(t, f.svc.AllowCodeHash(ctx, ownerAcct, h))

	cfg, err := f.svc.GetConfig(ownerAcct)
	require.NoError(t, err)
	assert.Equal(t, []crypto.Hash{h}, cfg.Policy.(policy.Whitelist).AllowedCodeHashes)
}

func TestAdmin_UpdateConfigIsolatedFromCaller(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, policy.Public{})

	p := policy.PerCodeSecret{Secrets: map[crypto.Hash]string{}}
	require.NoError(t, f.svc.UpdateConfig(ctx, ownerAcct, p))
	p.Secrets[crypto.HashString("x")] = "sneaky"

	cfg, err := f.svc.GetConfig(ownerAcct)
	require.NoError(t, err)
	assert.Empty(t, cfg.Policy.(policy.PerCodeSecret).Secrets)
}

func TestAdmin_PersistFailureLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, policy.Whitelist{Secret: "s"})
	f.svc.store = failingStore{f.store}

	err := f.svc.UpdateSecret(ctx, ownerAcct, "new")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist state")

	cfg, err := f.svc.GetConfig(ownerAcct)
	require.NoError(t, err)
	assert.Equal(t, "s", cfg.Policy.(policy.Whitelist).Secret)
	assert.Equal(t, uint32(0), f.chain.Height())
}

func TestAdmin_MutationsArePersisted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, policy.Whitelist{Secret: "s"})
	require.NoError(t, f.svc.UpdateSecret(ctx, ownerAcct, "persisted"))

	snap, err := f.store.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "persisted", snap.Policy.(policy.Whitelist).Secret)
	assert.Equal(t, ownerAcct, snap.Owner)
}
