package kms

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalKMS_RoundTrip(t *testing.T) {
	k, err := NewMemoryKMS()
	require.NoError(t, err)

	ct, err := k.Encrypt("top secret")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ct, "v1:"))
	assert.NotContains(t, ct, "top secret")

	pt, err := k.Decrypt(ct)
	require.NoError(t, err)
	assert.Equal(t, "top secret", pt)
}

func TestLocalKMS_EmptyStaysEmpty(t *testing.T) {
	k, err := NewMemoryKMS()
	require.NoError(t, err)

	ct, err := k.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, ct)

	pt, err := k.Decrypt("")
	require.NoError(t, err)
	assert.Empty(t, pt)
}

func TestLocalKMS_RotateKeepsOldVersions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "keystore.json")
	k, err := OpenLocalKMS(path)
	require.NoError(t, err)

	old, err := k.Encrypt("before")
	require.NoError(t, err)

	v, err := k.Rotate()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, k.ActiveVersion())

	fresh, err := k.Encrypt("after")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fresh, "v2:"))

	reopened, err := OpenLocalKMS(path)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.ActiveVersion())

	pt, err := reopened.Decrypt(old)
	require.NoError(t, err)
	assert.Equal(t, "before", pt)
}

func TestLocalKMS_RejectsMalformed(t *testing.T) {
	k, err := NewMemoryKMS()
	require.NoError(t, err)

	for _, in := range []string{"nope", "v:abc", "vx:abc", "v9:AAAA", "v1:!!!"} {
		_, err := k.Decrypt(in)
		assert.Error(t, err, in)
	}
}
