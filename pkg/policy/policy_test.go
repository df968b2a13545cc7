package policy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kvinwang/gpt-prover/pkg/crypto"
)

var (
	h1 = crypto.HashString("allowed code")
	h2 = crypto.HashString("other code")
)

func ptr(s string) *string { return &s }

func TestCheckAllowed(t *testing.T) {
	assert.NoError(t, CheckAllowed(Public{}, h2))
	assert.NoError(t, CheckAllowed(PerCodeSecret{}, h2))

	w := Whitelist{Secret: "s", AllowedCodeHashes: []crypto.Hash{h1}}
	assert.NoError(t, CheckAllowed(w, h1))
	assert.ErrorIs(t, CheckAllowed(w, h2), ErrUnauthorized)
	assert.ErrorIs(t, CheckAllowed(Whitelist{}, h1), ErrUnauthorized)
}

func TestCheckAllowed_UnknownVariant(t *testing.T) {
	assert.ErrorIs(t, CheckAllowed(nil, h1), ErrBadConfig)
}

func TestResolveSecret(t *testing.T) {
	tests := []struct {
		name     string
		policy   Policy
		explicit *string
		want     string
	}{
		{"public", Public{}, nil, ""},
		{"public explicit", Public{}, ptr("x"), "x"},
		{"whitelist shared", Whitelist{Secret: "shared"}, nil, "shared"},
		{"whitelist explicit wins", Whitelist{Secret: "shared"}, ptr("mine"), "mine"},
		{"per code registered", PerCodeSecret{Secrets: map[crypto.Hash]string{h1: "one"}}, nil, "one"},
		{"per code unset", PerCodeSecret{Secrets: map[crypto.Hash]string{h2: "two"}}, nil, ""},
		{"per code explicit empty wins", PerCodeSecret{Secrets: map[crypto.Hash]string{h1: "one"}}, ptr(""), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveSecret(tt.policy, h1, tt.explicit)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRedactFor(t *testing.T) {
	w := Whitelist{Secret: "s", AllowedCodeHashes: []crypto.Hash{h1}}

	forOwner, err := RedactFor(w, true)
	require.NoError(t, err)
	assert.Equal(t, "s", forOwner.(Whitelist).Secret)

	forOthers, err := RedactFor(w, false)
	require.NoError(t, err)
	assert.Equal(t, "", forOthers.(Whitelist).Secret)
	assert.Equal(t, []crypto.Hash{h1}, forOthers.(Whitelist).AllowedCodeHashes)
	assert.Equal(t, "s", w.Secret, "original must be untouched")

	pc := PerCodeSecret{Secrets: map[crypto.Hash]string{h1: "one"}}
	red, err := RedactFor(pc, false)
	require.NoError(t, err)
	assert.Equal(t, map[crypto.Hash]string{h1: ""}, red.(PerCodeSecret).Secrets)
	assert.Equal(t, "one", pc.Secrets[h1])
}

func TestAdminTransforms(t *testing.T) {
	w := Whitelist{Secret: "s"}

	updated, err := WithSecret(w, "t")
	require.NoError(t, err)
	assert.Equal(t, "t", updated.(Whitelist).Secret)
	assert.Equal(t, "s", w.Secret)

	allowed, err := WithAllowed(w, h1)
	require.NoError(t, err)
	again, err := WithAllowed(allowed, h1)
	require.NoError(t, err)
	assert.Equal(t, []crypto.Hash{h1}, again.(Whitelist).AllowedCodeHashes)
	assert.Empty(t, w.AllowedCodeHashes)

	_, err = WithSecret(Public{}, "t")
	assert.ErrorIs(t, err, ErrBadConfig)
	_, err = WithAllowed(PerCodeSecret{}, h1)
	assert.ErrorIs(t, err, ErrBadConfig)
	_, err = WithCodeSecret(w, h1, "x")
	assert.ErrorIs(t, err, ErrBadConfig)

	pc, err := WithCodeSecret(PerCodeSecret{}, h1, "x")
	require.NoError(t, err)
	assert.Equal(t, "x", pc.(PerCodeSecret).Secrets[h1])
}

func TestDocument_RoundTrip(t *testing.T) {
	policies := []Policy{
		Public{},
		Whitelist{Secret: `{"k":1}`, AllowedCodeHashes: []crypto.Hash{h1, h2}},
		PerCodeSecret{Secrets: map[crypto.Hash]string{h1: "one"}},
	}
	for _, p := range policies {
		t.Run(string(p.Kind()), func(t *testing.T) {
			raw, err := json.Marshal(Document{Policy: p})
			require.NoError(t, err)

			var back Document
			require.NoError(t, json.Unmarshal(raw, &back))
			assert.Equal(t, p, back.Policy)
		})
	}
}

func TestUnmarshal_Rejects(t *testing.T) {
	bad := []string{
		`not json`,
		`{}`,
		`{"kind":"root"}`,
		`{"kind":"public","secret":"x"}`,
		`{"kind":"whitelist"}`,
		`{"kind":"whitelist","secret":"s","allowed_code_hashes":["0x1234"]}`,
		`{"kind":"per_code_secret","secrets":{"nothex":"x"}}`,
	}
	for _, in := range bad {
		_, err := Unmarshal([]byte(in))
		assert.ErrorIs(t, err, ErrBadConfig, in)
	}
}

func TestUnmarshal_DedupesAllowList(t *testing.T) {
	doc := `{"kind":"whitelist","secret":"","allowed_code_hashes":["` + h1.Hex() + `","` + h1.Hex() + `"]}`
	p, err := Unmarshal([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, []crypto.Hash{h1}, p.(Whitelist).AllowedCodeHashes)
}

func TestDigest_HidesSecrets(t *testing.T) {
	a, err := Digest(Whitelist{Secret: "one", AllowedCodeHashes: []crypto.Hash{h1}})
	require.NoError(t, err)
	b, err := Digest(Whitelist{Secret: "two", AllowedCodeHashes: []crypto.Hash{h1}})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := Digest(Whitelist{Secret: "one", AllowedCodeHashes: []crypto.Hash{h2}})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
