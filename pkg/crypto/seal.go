package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/hpke"
	"github.com/cloudflare/circl/kem"
)

var (
	sealSuite = hpke.NewSuite(hpke.KEM_X25519_HKDF_SHA256, hpke.KDF_HKDF_SHA256, hpke.AEAD_AES128GCM)
	sealInfo  = []byte("gpt-prover/sealed-secret/v1")
)

// ErrSealedSecret is returned when a sealed secret cannot be opened.
var ErrSealedSecret = errors.New("sealed secret rejected")

// SecretOpener opens per-call secrets sealed to the instance with HPKE
// (X25519-HKDF-SHA256, HKDF-SHA256, AES-128-GCM). Sealed form is enc || ciphertext.
type SecretOpener struct {
	pub  kem.PublicKey
	priv kem.PrivateKey
}

// NewSecretOpener derives the sealing keypair from the LabelSeal seed.
func NewSecretOpener(keys KeyDeriver) (*SecretOpener, error) {
	seed, err := keys.DeriveSeed(LabelSeal)
	if err != nil {
		return nil, err
	}
	pub, priv := hpke.KEM_X25519_HKDF_SHA256.Scheme().DeriveKeyPair(seed)
	return &SecretOpener{pub: pub, priv: priv}, nil
}

// PublicKey returns the serialized sealing public key.
func (o *SecretOpener) PublicKey() ([]byte, error) {
	return o.pub.MarshalBinary()
}

// Open decrypts a sealed secret.
func (o *SecretOpener) Open(sealed []byte) (string, error) {
	encSize := hpke.KEM_X25519_HKDF_SHA256.Scheme().CiphertextSize()
	if len(sealed) <= encSize {
		return "", fmt.Errorf("%w: too short", ErrSealedSecret)
	}
	receiver, err := sealSuite.NewReceiver(o.priv, sealInfo)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSealedSecret, err)
	}
	opener, err := receiver.Setup(sealed[:encSize])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSealedSecret, err)
	}
	pt, err := opener.Open(sealed[encSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSealedSecret, err)
	}
	return string(pt), nil
}

// SealSecret seals plaintext to a sealing public key published by an instance.
func SealSecret(pubKey []byte, plaintext string) ([]byte, error) {
	pk, err := hpke.KEM_X25519_HKDF_SHA256.Scheme().UnmarshalBinaryPublicKey(pubKey)
	if err != nil {
		return nil, fmt.Errorf("invalid sealing key: %w", err)
	}
	sender, err := sealSuite.NewSender(pk, sealInfo)
	if err != nil {
		return nil, err
	}
	enc, sealer, err := sender.Setup(rand.Reader)
	if err != nil {
		return nil, err
	}
	ct, err := sealer.Seal([]byte(plaintext), nil)
	if err != nil {
		return nil, err
	}
	return append(enc, ct...), nil
}
