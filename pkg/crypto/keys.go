package crypto

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Derivation labels. Each purpose gets its own label so no two keys share material.
const (
	LabelSigner   = "signer"
	LabelSeal     = "secret-seal"
	LabelOperator = "operator"
)

// derivationSalt domain-separates this program's keys from anything else derived
// from the same root seed.
var derivationSalt = []byte("gpt-prover/key-derivation/v1")

// KeyDeriver is the host key-derivation capability. Implementations must be pure:
// the same label always yields the same material.
type KeyDeriver interface {
	DeriveSeed(label string) ([]byte, error)
	DeriveKey(label string) (ed25519.PrivateKey, error)
}

// SeedDeriver derives keys from an instance root seed using HKDF-SHA256.
type SeedDeriver struct {
	root []byte
}

// NewSeedDeriver wraps a 32-byte root seed.
func NewSeedDeriver(root []byte) (*SeedDeriver, error) {
	if len(root) != ed25519.SeedSize {
		return nil, fmt.Errorf("root seed must be %d bytes, got %d", ed25519.SeedSize, len(root))
	}
	cp := make([]byte, len(root))
	copy(cp, root)
	return &SeedDeriver{root: cp}, nil
}

// DeriveSeed returns 32 bytes of label-specific key material.
func (d *SeedDeriver) DeriveSeed(label string) ([]byte, error) {
	if label == "" {
		return nil, fmt.Errorf("derivation label must not be empty")
	}
	r := hkdf.New(sha256.New, d.root, derivationSalt, []byte(label))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("HKDF derivation failed: %w", err)
	}
	return seed, nil
}

// DeriveKey returns the Ed25519 keypair for label.
func (d *SeedDeriver) DeriveKey(label string) (ed25519.PrivateKey, error) {
	seed, err := d.DeriveSeed(label)
	if err != nil {
		return nil, err
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// Address is the instance's own account: the public key of the root seed itself.
func (d *SeedDeriver) Address() AccountID {
	pub := ed25519.NewKeyFromSeed(d.root).Public().(ed25519.PublicKey)
	var a AccountID
	copy(a[:], pub)
	return a
}

// AccountOf returns the AccountID of an Ed25519 key.
func AccountOf(priv ed25519.PrivateKey) AccountID {
	var a AccountID
	copy(a[:], priv.Public().(ed25519.PublicKey))
	return a
}
